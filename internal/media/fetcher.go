package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// FetcherOptions tunes a Fetcher.
type FetcherOptions struct {
	// MaxBytes caps a single download. Zero means MaxAssetBytes.
	MaxBytes int64
}

// Stats is a snapshot of Fetcher counters.
type Stats struct {
	InFlight  int64 `json:"in_flight"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Bytes     int64 `json:"bytes"`
}

// Fetcher resolves remote media and streams it into a StorageProvider.
type Fetcher struct {
	source   Source
	store    StorageProvider
	maxBytes int64
	logger   *slog.Logger

	inFlight  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
}

// NewFetcher creates a Fetcher reading from source and writing to store.
func NewFetcher(log *slog.Logger, source Source, store StorageProvider, opts FetcherOptions) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = MaxAssetBytes
	}
	return &Fetcher{
		source:   source,
		store:    store,
		maxBytes: maxBytes,
		logger:   log.With(slog.String("service", "media")),
	}
}

// Fetch downloads req and always returns exactly one result. It never retries.
func (f *Fetcher) Fetch(ctx context.Context, req DownloadRequest) (res DownloadResult) {
	f.inFlight.Add(1)
	defer func() {
		if r := recover(); r != nil {
			res = DownloadResult{Err: fmt.Errorf("%w: panic: %v", ErrIO, r)}
		}
		f.inFlight.Add(-1)
		if res.OK() {
			f.succeeded.Add(1)
			f.bytes.Add(res.Bytes)
		} else {
			f.failed.Add(1)
		}
	}()
	return f.fetch(ctx, req)
}

func (f *Fetcher) fetch(ctx context.Context, req DownloadRequest) DownloadResult {
	logger := f.logger.With(slog.String("conversation_id", req.ConversationID), slog.String("ref", req.Ref))
	if f.source == nil || f.store == nil {
		return DownloadResult{Err: ErrProviderUnavailable}
	}
	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		return DownloadResult{Err: ErrNoAttachment}
	}
	if req.SizeHint > f.maxBytes {
		return DownloadResult{Err: fmt.Errorf("%w: %d bytes exceeds max %d", ErrAssetTooLarge, req.SizeHint, f.maxBytes)}
	}

	logger.Info("download request received", slog.String("type", string(req.MediaType)))
	handle, err := f.source.Resolve(ctx, ref)
	if err != nil {
		logger.Warn("resolve remote file failed", slog.Any("error", err))
		return DownloadResult{Err: fmt.Errorf("%w: %v", ErrResolutionFailed, err)}
	}
	logger.Debug("file acquired", slog.String("canonical_id", handle.CanonicalID), slog.Int64("size", handle.Size))
	if handle.Size > f.maxBytes {
		return DownloadResult{Err: fmt.Errorf("%w: %d bytes exceeds max %d", ErrAssetTooLarge, handle.Size, f.maxBytes)}
	}

	key, err := buildKey(req, handle)
	if err != nil {
		return DownloadResult{Err: err}
	}
	logger.Debug("saving", slog.String("path", f.store.AccessPath(key)))

	staged, err := f.store.Stage(ctx, key)
	if err != nil {
		logger.Error("create destination failed", slog.Any("error", err))
		return DownloadResult{Err: wrapIO("create destination", err)}
	}
	limited := NewLimitWriter(staged, f.maxBytes)
	n, err := f.source.StreamTo(ctx, handle, limited)
	if err != nil {
		if discardErr := staged.Discard(); discardErr != nil {
			logger.Warn("discard partial file failed", slog.Any("error", discardErr))
		}
		logger.Error("download failed", slog.Int64("written", limited.Written()), slog.Any("error", err))
		return DownloadResult{Err: wrapIO("stream", err)}
	}
	finalKey, err := staged.Commit(ctx)
	if err != nil {
		logger.Error("commit download failed", slog.Any("error", err))
		return DownloadResult{Err: wrapIO("commit", err)}
	}
	out := f.store.AccessPath(finalKey)
	logger.Info("download complete", slog.String("path", out), slog.Int64("bytes", n))
	return DownloadResult{Path: out, Name: path.Base(finalKey), Bytes: n}
}

// Stats returns a snapshot of the fetch counters.
func (f *Fetcher) Stats() Stats {
	return Stats{
		InFlight:  f.inFlight.Load(),
		Succeeded: f.succeeded.Load(),
		Failed:    f.failed.Load(),
		Bytes:     f.bytes.Load(),
	}
}

func buildKey(req DownloadRequest, handle Handle) (string, error) {
	name := DeriveName(req.SuggestedName, handle.CanonicalID, "download-"+uuid.NewString())
	if strings.TrimSpace(req.Subdir) == "" {
		return name, nil
	}
	sub := SanitizeName(req.Subdir)
	if sub == "" {
		return "", fmt.Errorf("%w: subdir %q", ErrPathTraversal, req.Subdir)
	}
	return path.Join(sub, name), nil
}

// wrapIO classifies err as ErrIO unless it already carries a more specific kind.
func wrapIO(stage string, err error) error {
	if errors.Is(err, ErrAssetTooLarge) || errors.Is(err, ErrPathTraversal) {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrIO, stage, err)
}
