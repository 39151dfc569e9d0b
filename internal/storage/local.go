package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"marquee/internal/fileutil"
)

var (
	errDestinationExists = errors.New("destination exists")
	errCrossDevice       = errors.New("cross-device rename")
)

// LocalMover moves files beneath a filesystem root.
type LocalMover struct {
	root string
}

// NewLocalMover returns a mover rooted at root, creating the directory if needed.
func NewLocalMover(root string) (*LocalMover, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalMover{root: abs}, nil
}

// Root returns the absolute storage root.
func (m *LocalMover) Root() string {
	return m.root
}

func (m *LocalMover) resolve(ref Ref) (string, error) {
	rel := filepath.FromSlash(cleanKey(ref.Path))
	if rel == "" || rel == "." || !filepath.IsLocal(rel) {
		return "", permanent("local resolve", fmt.Sprintf("path %q escapes storage root", ref.Path), nil)
	}
	return filepath.Join(m.root, rel), nil
}

// Exists reports whether ref is present.
func (m *LocalMover) Exists(_ context.Context, ref Ref) (bool, error) {
	p, err := m.resolve(ref)
	if err != nil {
		return false, err
	}
	return exists(p)
}

// Move renames src to dst without ever replacing an existing file. When the
// paths live on different filesystems the content is copied with checksum
// verification before the source is removed.
func (m *LocalMover) Move(ctx context.Context, src, dst Ref) error {
	if err := ctx.Err(); err != nil {
		return transient("local move", "context done", err)
	}
	srcPath, err := m.resolve(src)
	if err != nil {
		return err
	}
	dstPath, err := m.resolve(dst)
	if err != nil {
		return err
	}

	srcOK, err := exists(srcPath)
	if err != nil {
		return transient("local move", "stat source", err)
	}
	if srcPath == dstPath {
		if srcOK {
			return nil
		}
		return missing("local move", src)
	}
	if !srcOK {
		dstOK, err := exists(dstPath)
		if err != nil {
			return transient("local move", "stat destination", err)
		}
		if dstOK {
			return nil
		}
		return missing("local move", src)
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return transient("local move", "create destination directory", err)
	}

	err = renameNoReplace(srcPath, dstPath)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errDestinationExists):
		return settleExisting(srcPath, dstPath)
	case errors.Is(err, errCrossDevice):
		return copyAcross(ctx, srcPath, dstPath)
	case errors.Is(err, os.ErrNotExist):
		// Source vanished between stat and rename: another worker finished first.
		if ok, _ := exists(dstPath); ok {
			return nil
		}
		return transient("local move", "rename", err)
	default:
		return transient("local move", "rename", err)
	}
}

// settleExisting finishes a move whose destination already exists. Identical
// content means an earlier attempt copied but did not remove the source.
func settleExisting(srcPath, dstPath string) error {
	same, err := fileutil.SameContent(srcPath, dstPath)
	if err != nil {
		return transient("local move", "compare existing destination", err)
	}
	if !same {
		return permanent("local move", dstPath, ErrDestinationConflict)
	}
	if err := os.Remove(srcPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return transient("local move", "remove source", err)
	}
	return nil
}

func copyAcross(ctx context.Context, srcPath, dstPath string) error {
	tmp := dstPath + ".partial-" + uuid.NewString()
	if err := fileutil.CopyFileVerified(srcPath, tmp); err != nil {
		return transient("local move", "copy across devices", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmp)
		return transient("local move", "context done", err)
	}
	if err := renameNoReplace(tmp, dstPath); err != nil {
		_ = os.Remove(tmp)
		if errors.Is(err, errDestinationExists) {
			return settleExisting(srcPath, dstPath)
		}
		return transient("local move", "publish copy", err)
	}
	if err := os.Remove(srcPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return transient("local move", "remove source", err)
	}
	return nil
}

// renameChecked is the portable fallback: check then rename. It can race with
// a concurrent writer of dst, which renameat2 closes on Linux.
func renameChecked(src, dst string) error {
	ok, err := exists(dst)
	if err != nil {
		return err
	}
	if ok {
		return errDestinationExists
	}
	err = os.Rename(src, dst)
	if errors.Is(err, syscall.EXDEV) {
		return errCrossDevice
	}
	return err
}

func exists(p string) (bool, error) {
	_, err := os.Lstat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
