// Package localfs implements media.StorageProvider on a local destination
// directory. Downloads are staged in hidden ".part" files next to their final
// name and only become visible on Commit, which never overwrites an existing file.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/memohai/tgdownloader/internal/media"
)

const (
	partMarker    = ".part-"
	maxCandidates = 1000
	filePerm      = 0o644
	dirPerm       = 0o755
)

// Provider stores downloads below root.
type Provider struct {
	root string
}

// New creates a provider rooted at dir, creating it when missing.
func New(dir string) (*Provider, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve destination dir: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("create destination dir: %w", err)
	}
	return &Provider{root: abs}, nil
}

// Root returns the absolute destination directory.
func (p *Provider) Root() string {
	return p.root
}

// Stage creates a temp file in the directory of key.
func (p *Provider) Stage(_ context.Context, key string) (media.StagedFile, error) {
	dest, err := p.hostPath(key)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(dest)+partMarker+"*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &stagedFile{provider: p, key: key, file: f}, nil
}

// Delete removes a committed file.
func (p *Provider) Delete(_ context.Context, key string) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// AccessPath returns the host path of key, or "" for an invalid key.
func (p *Provider) AccessPath(key string) string {
	dest, err := p.hostPath(key)
	if err != nil {
		return ""
	}
	return dest
}

// SweepStaged removes staged files older than maxAge, left behind by a crash.
// It returns the number of removed files.
func (p *Provider) SweepStaged(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(p.root, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			if name == p.root {
				return err
			}
			return nil
		}
		if d.IsDir() || !isStagedName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(name); err == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

func isStagedName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, partMarker)
}

// hostPath converts a storage key into a path below root.
func (p *Provider) hostPath(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("storage key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute key %s", media.ErrPathTraversal, key)
	}
	if strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." || clean == "." {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	joined := filepath.Join(p.root, clean)
	if !strings.HasPrefix(joined, p.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes destination: %s", media.ErrPathTraversal, key)
	}
	return joined, nil
}

type stagedFile struct {
	provider *Provider
	key      string
	file     *os.File
	done     bool
}

func (s *stagedFile) Write(b []byte) (int, error) {
	return s.file.Write(b)
}

func (s *stagedFile) Discard() error {
	if s.done {
		return nil
	}
	s.done = true
	_ = s.file.Close()
	if err := os.Remove(s.file.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Commit reserves the first free candidate name with O_EXCL and renames the
// temp file over the reservation.
func (s *stagedFile) Commit(_ context.Context) (string, error) {
	if s.done {
		return "", fmt.Errorf("staged file already finished")
	}
	tmp := s.file.Name()
	if err := s.file.Sync(); err != nil {
		_ = s.Discard()
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		_ = s.Discard()
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp, filePerm); err != nil {
		_ = s.Discard()
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	s.done = true

	dir, base := path.Split(filepath.ToSlash(s.key))
	for i := 0; i < maxCandidates; i++ {
		key := dir + media.CandidateName(base, i)
		dest, err := s.provider.hostPath(key)
		if err != nil {
			_ = os.Remove(tmp)
			return "", err
		}
		reserved, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			_ = os.Remove(tmp)
			return "", fmt.Errorf("reserve destination: %w", err)
		}
		_ = reserved.Close()
		if err := os.Rename(tmp, dest); err != nil {
			_ = os.Remove(dest)
			_ = os.Remove(tmp)
			return "", fmt.Errorf("publish file: %w", err)
		}
		return key, nil
	}
	_ = os.Remove(tmp)
	return "", fmt.Errorf("no free file name for %s after %d attempts", s.key, maxCandidates)
}
