// Package noop provides a TelemetrySink that discards events.
package noop

import (
	"context"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
)

var _ domain.TelemetrySink = Sink{}

type Sink struct{}

func (Sink) Capture(context.Context, domain.TelemetryEvent) error { return nil }
