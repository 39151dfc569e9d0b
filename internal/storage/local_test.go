package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"marquee/internal/services"
	"marquee/internal/storage"
	"marquee/internal/testsupport"
)

func newLocal(t *testing.T) (*storage.LocalMover, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "media")
	mover, err := storage.NewLocalMover(root)
	if err != nil {
		t.Fatalf("NewLocalMover: %v", err)
	}
	return mover, mover.Root()
}

func TestLocalMoveRelocatesFile(t *testing.T) {
	mover, root := newLocal(t)
	testsupport.WriteFile(t, filepath.Join(root, "incoming", "spot.mp4"), 2048)

	src := storage.Ref{Kind: "local", Path: "incoming/spot.mp4"}
	dst := storage.Ref{Kind: "local", Path: storage.ArchivePath("archive", "c1", "k1", "a1", "spot.mp4")}
	if err := mover.Move(context.Background(), src, dst); err != nil {
		t.Fatalf("Move: %v", err)
	}

	if testsupport.Exists(t, filepath.Join(root, "incoming", "spot.mp4")) {
		t.Fatal("expected source to be gone")
	}
	info, err := os.Stat(filepath.Join(root, "archive", "campaigns", "c1", "kiosks", "k1", "a1", "spot.mp4"))
	if err != nil {
		t.Fatalf("stat destination: %v", err)
	}
	if info.Size() != 2048 {
		t.Fatalf("destination size = %d, want 2048", info.Size())
	}
}

func TestLocalMoveIsIdempotent(t *testing.T) {
	mover, root := newLocal(t)
	testsupport.WriteFile(t, filepath.Join(root, "a", "spot.mp4"), 10)
	src := storage.Ref{Kind: "local", Path: "a/spot.mp4"}
	dst := storage.Ref{Kind: "local", Path: "b/spot.mp4"}

	for i := 0; i < 2; i++ {
		if err := mover.Move(context.Background(), src, dst); err != nil {
			t.Fatalf("Move #%d: %v", i+1, err)
		}
	}
	ok, err := mover.Exists(context.Background(), dst)
	if err != nil || !ok {
		t.Fatalf("Exists(dst) = %v, %v", ok, err)
	}
}

func TestLocalMoveMissingSourceIsPermanent(t *testing.T) {
	mover, _ := newLocal(t)
	err := mover.Move(context.Background(),
		storage.Ref{Kind: "local", Path: "nope.mp4"},
		storage.Ref{Kind: "local", Path: "archive/nope.mp4"})
	if !errors.Is(err, storage.ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing, got %v", err)
	}
	if storage.Classify(err) != services.ClassPermanent {
		t.Fatalf("expected permanent classification, got %v", storage.Classify(err))
	}
}

func TestLocalMoveNeverOverwritesDifferentContent(t *testing.T) {
	mover, root := newLocal(t)
	testsupport.WriteContent(t, filepath.Join(root, "src.mp4"), []byte("new creative"))
	testsupport.WriteContent(t, filepath.Join(root, "archive", "src.mp4"), []byte("someone else's file"))

	err := mover.Move(context.Background(),
		storage.Ref{Kind: "local", Path: "src.mp4"},
		storage.Ref{Kind: "local", Path: "archive/src.mp4"})
	if !errors.Is(err, storage.ErrDestinationConflict) {
		t.Fatalf("expected ErrDestinationConflict, got %v", err)
	}
	if !testsupport.Exists(t, filepath.Join(root, "src.mp4")) {
		t.Fatal("source must be kept on conflict")
	}
	got, _ := os.ReadFile(filepath.Join(root, "archive", "src.mp4"))
	if string(got) != "someone else's file" {
		t.Fatalf("destination overwritten: %q", got)
	}
}

func TestLocalMoveFinishesInterruptedCopy(t *testing.T) {
	mover, root := newLocal(t)
	content := []byte("copied before crash")
	testsupport.WriteContent(t, filepath.Join(root, "src.mp4"), content)
	testsupport.WriteContent(t, filepath.Join(root, "archive", "src.mp4"), content)

	if err := mover.Move(context.Background(),
		storage.Ref{Kind: "local", Path: "src.mp4"},
		storage.Ref{Kind: "local", Path: "archive/src.mp4"}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if testsupport.Exists(t, filepath.Join(root, "src.mp4")) {
		t.Fatal("expected leftover source to be removed")
	}
}

func TestLocalMoveKeepsRefsInsideRoot(t *testing.T) {
	mover, root := newLocal(t)
	outside := filepath.Join(filepath.Dir(root), "outside.mp4")
	testsupport.WriteFile(t, outside, 4)

	ok, err := mover.Exists(context.Background(), storage.Ref{Kind: "local", Path: "../outside.mp4"})
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatal("ref escaped the storage root")
	}
	if _, err := mover.Exists(context.Background(), storage.Ref{Kind: "local", Path: ""}); storage.Classify(err) != services.ClassPermanent {
		t.Fatalf("expected empty path to be rejected, got %v", err)
	}
}

func TestLocalMoveCancelledContextIsTransient(t *testing.T) {
	mover, root := newLocal(t)
	testsupport.WriteFile(t, filepath.Join(root, "src.mp4"), 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mover.Move(ctx, storage.Ref{Path: "src.mp4"}, storage.Ref{Path: "dst.mp4"})
	if storage.Classify(err) != services.ClassTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !testsupport.Exists(t, filepath.Join(root, "src.mp4")) {
		t.Fatal("source must be untouched")
	}
}

func TestLocalMoveOntoItselfKeepsFile(t *testing.T) {
	mover, root := newLocal(t)
	testsupport.WriteFile(t, filepath.Join(root, "archive", "spot.mp4"), 8)
	ref := storage.Ref{Kind: "local", Path: "archive/spot.mp4"}

	if err := mover.Move(context.Background(), ref, ref); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if !testsupport.Exists(t, filepath.Join(root, "archive", "spot.mp4")) {
		t.Fatal("file removed by a self-move")
	}
}
