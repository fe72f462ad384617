package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clinlp/medspan/internal/gateway"
)

// ErrNotText is returned for payloads whose items are not text documents.
var ErrNotText = errors.New("payload is not text")

// Downloader fetches one object from the store. storage.FileManager
// implements it.
type Downloader interface {
	Download(ctx context.Context, bucket, key, localPath string) error
}

// Resolver loads payload items from wherever they live.
type Resolver struct {
	fetcher *Fetcher
	store   Downloader
	bucket  string
}

// NewResolver creates a Resolver. store may be nil when no S3 bucket is
// configured; S3 items then fail.
func NewResolver(fetcher *Fetcher, store Downloader, bucket string) *Resolver {
	return &Resolver{fetcher: fetcher, store: store, bucket: bucket}
}

// Resolve returns the raw content of item.
func (r *Resolver) Resolve(ctx context.Context, item gateway.Item) ([]byte, error) {
	switch item.Source {
	case gateway.SourcePlainText:
		return []byte(item.Value), nil

	case gateway.SourceBase64:
		data, err := base64.StdEncoding.DecodeString(item.Value)
		if err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
		return data, nil

	case gateway.SourceLocalPath:
		data, err := os.ReadFile(item.Value)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", item.Value, err)
		}
		return data, nil

	case gateway.SourceURL:
		if r.fetcher == nil {
			return nil, fmt.Errorf("no fetcher for %s", item.Value)
		}
		res, err := r.fetcher.FetchWithRetry(ctx, item.Value)
		if err != nil {
			return nil, err
		}
		text, err := res.Text()
		if err != nil {
			return nil, err
		}
		return []byte(text), nil

	case gateway.SourceS3:
		if r.store == nil || r.bucket == "" {
			return nil, fmt.Errorf("no S3 bucket configured for %s", item.Value)
		}
		dir, err := os.MkdirTemp("", "medspan-input-")
		if err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()

		local := filepath.Join(dir, filepath.Base(item.Value))
		if err := r.store.Download(ctx, r.bucket, item.Value, local); err != nil {
			return nil, err
		}
		return os.ReadFile(local)
	}
	return nil, fmt.Errorf("unknown source %q", item.Source)
}

// Texts resolves a text payload: plain texts, or txt files from any source.
func (r *Resolver) Texts(ctx context.Context, p *gateway.Payload) ([]string, error) {
	switch p.DataType() {
	case gateway.DataJSON, gateway.DataTXT:
	default:
		return nil, fmt.Errorf("%s: %w", p.DataType(), ErrNotText)
	}

	items, err := p.Items()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(items))
	for i, item := range items {
		data, err := r.Resolve(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = string(data)
	}
	return out, nil
}
