package adapter

import "context"

// DurableStorage moves provider-hosted (ephemeral) assets into storage we
// control and serves them via CDN URLs.
type DurableStorage interface {
	// FetchAndStore downloads externalURL and uploads it under destPath,
	// returning the durable CDN URL and the stored size in bytes.
	FetchAndStore(ctx context.Context, externalURL, destPath string) (cdnURL string, size int64, err error)
	Upload(ctx context.Context, data []byte, destPath, contentType string) (cdnURL string, err error)
	Delete(ctx context.Context, path string) error
}
