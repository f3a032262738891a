package media

import "errors"

var (
	// ErrNoAttachment indicates the request carries no remote file reference.
	ErrNoAttachment = errors.New("no media attachment")
	// ErrResolutionFailed indicates the remote reference could not be resolved to a downloadable handle.
	ErrResolutionFailed = errors.New("resolve remote file failed")
	// ErrIO indicates a local or streaming I/O failure while writing the file.
	ErrIO = errors.New("media io failure")
	// ErrProviderUnavailable indicates the storage provider is not configured.
	ErrProviderUnavailable = errors.New("storage provider unavailable")
	// ErrAssetTooLarge indicates the payload exceeds the configured max asset size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrPathTraversal indicates a storage key attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
)
