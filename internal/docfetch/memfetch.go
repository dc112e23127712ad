package docfetch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemFetcher keeps blobs in memory. It backs mock mode and the tests.
type MemFetcher struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemFetcher builds an empty in-memory fetcher.
func NewMemFetcher() *MemFetcher {
	return &MemFetcher{blobs: make(map[string][]byte)}
}

// Put stores a blob under ref, replacing any existing one.
func (f *MemFetcher) Put(ref string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[ref] = append([]byte(nil), body...)
}

// Fetch implements Fetcher.
func (f *MemFetcher) Fetch(ctx context.Context, ref string) ([]byte, Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, Meta{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	body, ok := f.blobs[ref]
	if !ok {
		return nil, Meta{}, fmt.Errorf("fetch %s: %w", ref, ErrNotFound)
	}
	return append([]byte(nil), body...), Meta{ContentType: "text/plain", Size: int64(len(body))}, nil
}

// PresignURL implements Fetcher. The returned URL is synthetic.
func (f *MemFetcher) PresignURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.blobs[ref]; !ok {
		return "", fmt.Errorf("presign %s: %w", ref, ErrNotFound)
	}
	return fmt.Sprintf("mem://%s?expires=%ds", ref, int(ttl.Seconds())), nil
}
