package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"marquee/internal/config"
)

const userAgent = "Marquee-Go/0.1.0"

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

// NtfySink pushes human-readable alerts to an ntfy topic.
type NtfySink struct {
	endpoint string
	client   *http.Client
}

// NewNtfySink targets <ntfy_base_url>/<ntfy_topic>. A topic given as a full
// URL is used as is.
func NewNtfySink(cfg config.Notifications) *NtfySink {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	endpoint := topic
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		endpoint = strings.TrimRight(cfg.NtfyBaseURL, "/") + "/" + strings.TrimLeft(topic, "/")
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NtfySink{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

// Publish implements Sink.
func (n *NtfySink) Publish(ctx context.Context, event Event, payload Payload) error {
	return n.send(ctx, format(event, payload))
}

func format(event Event, p Payload) message {
	switch event {
	case EventArchiveFailed:
		return message{
			title: "Marquee - Archive Failed",
			body: fmt.Sprintf("Asset %s (campaign %s) could not be archived after %d attempts: %s",
				p.str("assetId"), p.str("campaignId"), p.num("attempts"), p.str("error")),
			tags:     []string{"marquee", "archive", "failed"},
			priority: "high",
		}
	case EventPayoutFailed:
		return message{
			title: "Marquee - Payout Failed",
			body: fmt.Sprintf("Payout %s to host %s (%s) ended %s: %s",
				p.str("payoutId"), p.str("hostId"), p.str("amount"), p.str("failureKind"), p.str("error")),
			tags:     []string{"marquee", "payout", "failed"},
			priority: "high",
		}
	case EventCycleCompleted:
		title := "Marquee - Cycle Complete"
		if p.num("errors") > 0 {
			title = "Marquee - Cycle Complete (with errors)"
		}
		return message{
			title: title,
			body: fmt.Sprintf("Archived %d assets (%d failed), created %d payouts, dispatched %d (%d failed) in %s",
				p.num("assetsArchived"), p.num("assetsFailed"), p.num("payoutsCreated"),
				p.num("payoutsDispatched"), p.num("payoutsFailed"), p.str("duration")),
			tags: []string{"marquee", "cycle", "completed"},
		}
	default:
		return message{
			title:    "Marquee - Test",
			body:     "Notification system test",
			tags:     []string{"marquee", "test"},
			priority: "low",
		}
	}
}

func (n *NtfySink) send(ctx context.Context, data message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) str(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) num(key string) int64 {
	switch v := p[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
