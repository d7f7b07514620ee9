// Package memory provides an in-memory content fetcher for tests and local
// runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
)

var _ domain.ContentFetcher = (*Fetcher)(nil)

// Fetcher serves file content from a map keyed by owner/repo, path and ref.
type Fetcher struct {
	mu      sync.Mutex
	files   map[string][]byte
	errs    map[string]error
	fetched []domain.FileRef
}

// NewFetcher creates an empty fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{files: make(map[string][]byte), errs: make(map[string]error)}
}

func key(owner, repo, path, ref string) string {
	return fmt.Sprintf("%s/%s@%s:%s", owner, repo, ref, path)
}

// Put stores content for path at ref. An empty ref is the default branch.
func (f *Fetcher) Put(owner, repo, path, ref string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key(owner, repo, path, ref)] = content
}

// Fail makes fetches of path at ref return err.
func (f *Fetcher) Fail(owner, repo, path, ref string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key(owner, repo, path, ref)] = err
}

// Fetches returns every requested ref in call order.
func (f *Fetcher) Fetches() []domain.FileRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.FileRef(nil), f.fetched...)
}

func (f *Fetcher) GetFileContent(ctx context.Context, ref domain.FileRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, ref)

	k := key(ref.Owner, ref.Repo, ref.Path, ref.Ref)
	if err, ok := f.errs[k]; ok {
		return nil, err
	}
	content, ok := f.files[k]
	if !ok {
		return nil, fmt.Errorf("%s: %w", k, domain.ErrFileNotFound)
	}
	return content, nil
}
