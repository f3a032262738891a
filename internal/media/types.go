package media

import (
	"context"
	"io"
)

// MediaType classifies the kind of media asset.
type MediaType string

const (
	MediaTypeImage     MediaType = "image"
	MediaTypeAudio     MediaType = "audio"
	MediaTypeVoice     MediaType = "voice"
	MediaTypeVideo     MediaType = "video"
	MediaTypeVideoNote MediaType = "video_note"
	MediaTypeAnimation MediaType = "animation"
	MediaTypeFile      MediaType = "file"
)

// Handle is a remote file reference exchanged for download coordinates.
type Handle struct {
	// Ref is the reference the handle was resolved from.
	Ref string
	// CanonicalID is a stable, filename-safe identifier of the remote object.
	CanonicalID string
	// Location is the platform-specific download location (path or URL).
	Location string
	Size     int64
}

// Source resolves remote file references and streams their bytes.
type Source interface {
	Resolve(ctx context.Context, ref string) (Handle, error)
	// StreamTo copies the remote bytes into w and returns the byte count.
	StreamTo(ctx context.Context, handle Handle, w io.Writer) (int64, error)
}

// DownloadRequest is consumed once by the Fetcher.
type DownloadRequest struct {
	Ref            string
	SuggestedName  string
	ConversationID string
	// Subdir optionally places the file below the destination root.
	Subdir    string
	MediaType MediaType
	Mime      string
	SizeHint  int64
}

// DownloadResult is the single terminal outcome of a DownloadRequest.
type DownloadResult struct {
	Path  string
	Name  string
	Bytes int64
	Err   error
}

// OK reports whether the download succeeded.
func (r DownloadResult) OK() bool {
	return r.Err == nil
}

// StorageProvider abstracts the local destination of downloads.
type StorageProvider interface {
	// Stage opens a non-authoritative temp file for the final key.
	Stage(ctx context.Context, key string) (StagedFile, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// AccessPath returns the host path for a storage key.
	AccessPath(key string) string
}

// StagedFile receives bytes before they become visible under their final key.
// Exactly one of Commit or Discard must be called.
type StagedFile interface {
	io.Writer
	// Commit publishes the file without overwriting existing files and
	// returns the key it was stored under.
	Commit(ctx context.Context) (string, error)
	Discard() error
}
