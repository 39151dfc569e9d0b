package notifications_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"marquee/internal/config"
	"marquee/internal/logging"
	"marquee/internal/notifications"
)

type capturedRequest struct {
	title, tags, priority, body string
}

func newNtfyServer(t *testing.T) (*httptest.Server, *[]capturedRequest, *sync.Mutex) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs, &mu
}

func TestNewSinkReturnsNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	sink := notifications.NewSink(&cfg, logging.NewNop())
	if _, ok := sink.(notifications.Noop); !ok {
		t.Fatalf("expected Noop sink, got %T", sink)
	}
	if err := sink.Publish(context.Background(), notifications.EventArchiveFailed, nil); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
}

func TestNtfySinkFormatsEvents(t *testing.T) {
	tests := []struct {
		name         string
		event        notifications.Event
		payload      notifications.Payload
		wantTitle    string
		wantBody     string
		wantTags     string
		wantPriority string
	}{
		{
			name:  "archive failed",
			event: notifications.EventArchiveFailed,
			payload: notifications.Payload{
				"assetId": "asset-1", "campaignId": "camp-1", "attempts": 5, "error": "503 from drive",
			},
			wantTitle:    "Marquee - Archive Failed",
			wantBody:     "Asset asset-1 (campaign camp-1) could not be archived after 5 attempts: 503 from drive",
			wantTags:     "marquee,archive,failed",
			wantPriority: "high",
		},
		{
			name:  "payout failed",
			event: notifications.EventPayoutFailed,
			payload: notifications.Payload{
				"payoutId": "p-1", "hostId": "h-1", "amount": "$115.00", "failureKind": "rejected", "error": "account closed",
			},
			wantTitle:    "Marquee - Payout Failed",
			wantBody:     "Payout p-1 to host h-1 ($115.00) ended rejected: account closed",
			wantTags:     "marquee,payout,failed",
			wantPriority: "high",
		},
		{
			name:  "cycle with errors",
			event: notifications.EventCycleCompleted,
			payload: notifications.Payload{
				"assetsArchived": 2, "assetsFailed": 1, "payoutsCreated": 1, "payoutsDispatched": 1,
				"payoutsFailed": 0, "errors": 1, "duration": "3s",
			},
			wantTitle: "Marquee - Cycle Complete (with errors)",
			wantBody:  "Archived 2 assets (1 failed), created 1 payouts, dispatched 1 (0 failed) in 3s",
			wantTags:  "marquee,cycle,completed",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, reqs, mu := newNtfyServer(t)
			sink := notifications.NewNtfySink(config.Notifications{NtfyTopic: srv.URL + "/marquee"})
			if err := sink.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			mu.Lock()
			defer mu.Unlock()
			if len(*reqs) != 1 {
				t.Fatalf("expected 1 request, got %d", len(*reqs))
			}
			got := (*reqs)[0]
			if got.title != tc.wantTitle || got.body != tc.wantBody || got.tags != tc.wantTags || got.priority != tc.wantPriority {
				t.Fatalf("unexpected request: %+v", got)
			}
		})
	}
}

func TestNtfySinkReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sink := notifications.NewNtfySink(config.Notifications{NtfyBaseURL: srv.URL, NtfyTopic: "marquee"})
	err := sink.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

func TestNewSinkHonorsEventSwitches(t *testing.T) {
	srv, reqs, mu := newNtfyServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL + "/marquee"
	cfg.Notifications.ArchiveFailures = false
	cfg.Notifications.PayoutFailures = true
	sink := notifications.NewSink(&cfg, logging.NewNop())

	ctx := context.Background()
	if err := sink.Publish(ctx, notifications.EventArchiveFailed, notifications.Payload{"assetId": "a"}); err != nil {
		t.Fatalf("Publish archive: %v", err)
	}
	if err := sink.Publish(ctx, notifications.EventPayoutFailed, notifications.Payload{"payoutId": "p"}); err != nil {
		t.Fatalf("Publish payout: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(*reqs) != 1 || (*reqs)[0].title != "Marquee - Payout Failed" {
		t.Fatalf("expected only the payout event, got %+v", *reqs)
	}
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, notifications.Event, notifications.Payload) error {
	return f.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	first := errors.New("ntfy down")
	second := errors.New("kafka down")
	fan := notifications.Fanout{failingSink{first}, notifications.Noop{}, failingSink{second}}

	err := fan.Publish(context.Background(), notifications.EventTest, nil)
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkWritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	sink := notifications.NewKafkaSinkWithWriter(w)

	if err := sink.Publish(context.Background(), notifications.EventPayoutFailed, notifications.Payload{
		"payoutId": "p-9", "hostId": "h-1", "failureKind": "retry_exhausted",
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "p-9" {
		t.Fatalf("expected payout key, got %q", w.msgs[0].Key)
	}
	var decoded struct {
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Event != "payout_failed" || decoded.Payload["failureKind"] != "retry_exhausted" {
		t.Fatalf("unexpected record: %+v", decoded)
	}
	if err := notifications.Close(sink); err != nil || !w.closed {
		t.Fatalf("expected writer closed, err=%v", err)
	}
}
