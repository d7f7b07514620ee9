package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathFilter(t *testing.T) {
	f, err := NewPathFilter([]string{`^vendor/`, `\.lock$`})
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"vendor/github.com/x/y.go", true},
		{"package.lock", true},
		{"internal/vendor.go", false},
		{"config/app.yaml", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Skip(tt.path))
		})
	}
	assert.Equal(t, []string{`^vendor/`, `\.lock$`}, f.Patterns())
}

func TestPathFilterInvalidPattern(t *testing.T) {
	_, err := NewPathFilter([]string{"("})
	assert.Error(t, err)
}

func TestNilPathFilter(t *testing.T) {
	var f *PathFilter
	assert.False(t, f.Skip("anything"))
}
