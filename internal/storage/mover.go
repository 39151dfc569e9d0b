package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	"marquee/internal/services"
)

// Ref names a file on a storage backend. Path is slash separated and
// relative to the backend root.
type Ref struct {
	Kind string
	Path string
}

func (r Ref) String() string {
	return r.Kind + ":" + r.Path
}

// Mover relocates files within one backend.
type Mover interface {
	// Move relocates src to dst. Moving a ref whose source is gone and whose
	// destination exists is a successful no-op.
	Move(ctx context.Context, src, dst Ref) error
	Exists(ctx context.Context, ref Ref) (bool, error)
}

var (
	// ErrSourceMissing is returned when neither the source nor the destination exists.
	ErrSourceMissing = errors.New("source missing")
	// ErrDestinationConflict is returned when the destination holds different content.
	ErrDestinationConflict = errors.New("destination holds different content")
)

// Classify reports whether a mover error should be retried.
func Classify(err error) services.Class {
	return services.Classify(err)
}

// ArchivePath derives the archive location of an asset. Each asset gets its
// own folder so same-named files never share a destination. Assets without a
// kiosk are filed under "shared".
func ArchivePath(prefix, campaignID, kioskID, assetID, fileName string) string {
	kiosk := strings.TrimSpace(kioskID)
	if kiosk == "" {
		kiosk = "shared"
	}
	return path.Join(strings.Trim(prefix, "/"), "campaigns", campaignID, "kiosks", kiosk, assetID, path.Base(fileName))
}

func transient(op, msg string, err error) error {
	return services.Wrap(services.ErrTransient, "storage", op, msg, err)
}

func permanent(op, msg string, err error) error {
	return services.Wrap(services.ErrPermanent, "storage", op, msg, err)
}

func missing(op string, ref Ref) error {
	return services.Wrap(services.ErrNotFound, "storage", op, ref.String(), ErrSourceMissing)
}

func cleanKey(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
