package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marquee/internal/api"
	"marquee/internal/logging"
	"marquee/internal/scheduler"
	"marquee/internal/services"
	"marquee/internal/store"
	"marquee/internal/testsupport"
)

const secret = "test-secret"

type fakeRunner struct {
	mu        sync.Mutex
	calls     int
	requestID string
}

func (f *fakeRunner) RunCycle(ctx context.Context) scheduler.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requestID, _ = services.RequestIDFromContext(ctx)
	return scheduler.Summary{CycleID: "cycle-1", PayoutsDispatched: 2, Errors: []scheduler.CycleError{}}
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("database is locked") }

func (downStore) Health(context.Context) (store.HealthSummary, error) {
	return store.HealthSummary{}, nil
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T, runner api.CycleRunner, health api.HealthChecker, key string) *httptest.Server {
	t.Helper()
	srv := api.New(runner, health, key, logging.NewNop(), api.WithClock(func() time.Time { return now }))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postCycle(t *testing.T, ts *httptest.Server, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/cycles", nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRunCycleWithOperatorToken(t *testing.T) {
	runner := &fakeRunner{}
	ts := newServer(t, runner, downStore{}, secret)

	token, expires, err := api.IssueToken(secret, "ops@example.com", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expires)

	resp := postCycle(t, ts, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary scheduler.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, "cycle-1", summary.CycleID)
	assert.Equal(t, 2, summary.PayoutsDispatched)
	assert.Equal(t, 1, runner.calls)
	assert.NotEmpty(t, runner.requestID, "request id should reach the cycle context")
}

func TestRunCycleRejectsBadTokens(t *testing.T) {
	runner := &fakeRunner{}
	ts := newServer(t, runner, downStore{}, secret)

	expired, _, err := api.IssueToken(secret, "ops", time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	forged, _, err := api.IssueToken("other-secret", "ops", time.Hour, now)
	require.NoError(t, err)

	cases := map[string]string{
		"missing": "",
		"garbage": "not-a-jwt",
		"expired": expired,
		"forged":  forged,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			resp := postCycle(t, ts, token)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
	assert.Zero(t, runner.calls)
}

func TestRunCycleDisabledWithoutSecret(t *testing.T) {
	runner := &fakeRunner{}
	ts := newServer(t, runner, downStore{}, "")

	resp := postCycle(t, ts, "anything")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Zero(t, runner.calls)
}

func TestRunCycleRequiresPost(t *testing.T) {
	ts := newServer(t, &fakeRunner{}, downStore{}, secret)

	resp, err := http.Get(ts.URL + "/v1/cycles")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthReportsStoreCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewCampaign(t, st, testsupport.Date(2026, 3, 5), "kiosk-1")

	ts := newServer(t, &fakeRunner{}, st, secret)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "sqlite", body["driver"])
	assert.EqualValues(t, 1, body["activeCampaigns"])
}

func TestHealthUnavailableWhenStoreIsDown(t *testing.T) {
	ts := newServer(t, &fakeRunner{}, downStore{}, secret)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestIssueTokenValidation(t *testing.T) {
	_, _, err := api.IssueToken("", "ops", time.Hour, now)
	assert.Error(t, err)
	_, _, err = api.IssueToken(secret, " ", time.Hour, now)
	assert.Error(t, err)
	_, _, err = api.IssueToken(secret, "ops", 0, now)
	assert.Error(t, err)

	token, _, err := api.IssueToken(secret, "ops", time.Hour, now)
	require.NoError(t, err)
	claims, err := api.ParseToken(secret, token, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, api.RoleOperator, claims.Role)
	assert.Equal(t, "ops", claims.Subject)

	_, err = api.ParseToken(secret, token, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, api.ErrUnauthorized)
}
