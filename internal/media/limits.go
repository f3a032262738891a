package media

import (
	"fmt"
	"io"
)

const (
	// MaxAssetBytes is the default max accepted payload size.
	MaxAssetBytes int64 = 2 << 30
)

// LimitWriter forwards writes to W and fails once more than N bytes in total
// have been written. The write that crosses the limit is not forwarded.
type LimitWriter struct {
	W       io.Writer
	N       int64
	written int64
}

// NewLimitWriter wraps w with a maxBytes limit. maxBytes <= 0 means MaxAssetBytes.
func NewLimitWriter(w io.Writer, maxBytes int64) *LimitWriter {
	if maxBytes <= 0 {
		maxBytes = MaxAssetBytes
	}
	return &LimitWriter{W: w, N: maxBytes}
}

func (l *LimitWriter) Write(p []byte) (int, error) {
	if l.written+int64(len(p)) > l.N {
		return 0, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, l.N)
	}
	n, err := l.W.Write(p)
	l.written += int64(n)
	return n, err
}

// Written returns the number of bytes forwarded so far.
func (l *LimitWriter) Written() int64 {
	return l.written
}
