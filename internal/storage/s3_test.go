package storage_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"marquee/internal/services"
	"marquee/internal/storage"
)

type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]string
	copies  int
	copyErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{bucket: "media", objects: map[string]string{}}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(body))),
		ETag:          aws.String(`"` + body + `"`),
	}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	if f.copyErr != nil {
		err := f.copyErr
		f.copyErr = nil
		return nil, err
	}
	source, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	key := strings.TrimPrefix(source, f.bucket+"/")
	body, ok := f.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = body
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func TestS3MoveCopiesThenDeletes(t *testing.T) {
	fake := newFakeS3()
	fake.objects["incoming/spot one.mp4"] = "creative"
	mover := storage.NewS3MoverWithClient(fake, fake.bucket)

	src := storage.Ref{Kind: "s3", Path: "incoming/spot one.mp4"}
	dst := storage.Ref{Kind: "s3", Path: "archive/spot one.mp4"}
	if err := mover.Move(context.Background(), src, dst); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if fake.has("incoming/spot one.mp4") || !fake.has("archive/spot one.mp4") {
		t.Fatalf("unexpected objects after move: %v", fake.objects)
	}

	if err := mover.Move(context.Background(), src, dst); err != nil {
		t.Fatalf("second Move: %v", err)
	}
	if fake.copies != 1 {
		t.Fatalf("expected one server-side copy, got %d", fake.copies)
	}
}

func TestS3MoveFinishesInterruptedMove(t *testing.T) {
	fake := newFakeS3()
	fake.objects["a.mp4"] = "same"
	fake.objects["archive/a.mp4"] = "same"
	mover := storage.NewS3MoverWithClient(fake, fake.bucket)

	if err := mover.Move(context.Background(), storage.Ref{Path: "a.mp4"}, storage.Ref{Path: "archive/a.mp4"}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if fake.has("a.mp4") {
		t.Fatal("expected leftover source deleted")
	}
}

func TestS3MoveClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.Class
	}{
		{"throttled", &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce request rate"}, services.ClassTransient},
		{"denied", &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}, services.ClassPermanent},
		{"unmarked", errors.New("connection reset"), services.ClassTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeS3()
			fake.objects["a.mp4"] = "x"
			fake.copyErr = tc.err
			mover := storage.NewS3MoverWithClient(fake, fake.bucket)

			err := mover.Move(context.Background(), storage.Ref{Path: "a.mp4"}, storage.Ref{Path: "b.mp4"})
			if got := storage.Classify(err); got != tc.want {
				t.Fatalf("Classify = %v, want %v (err %v)", got, tc.want, err)
			}
			if !fake.has("a.mp4") {
				t.Fatal("source must survive a failed copy")
			}
		})
	}
}

func TestS3MoveMissingSource(t *testing.T) {
	fake := newFakeS3()
	mover := storage.NewS3MoverWithClient(fake, fake.bucket)
	err := mover.Move(context.Background(), storage.Ref{Path: "gone.mp4"}, storage.Ref{Path: "archive/gone.mp4"})
	if !errors.Is(err, storage.ErrSourceMissing) || storage.Classify(err) != services.ClassPermanent {
		t.Fatalf("expected permanent missing source, got %v", err)
	}
}
