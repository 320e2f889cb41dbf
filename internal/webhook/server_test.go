package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serverbot/internal/pipeline"
	"serverbot/internal/runtime/supervisor"
	"serverbot/internal/sources/arr"
	"serverbot/internal/sources/watchtower"
	logx "serverbot/pkg/logx"
)

type fakeProcessor struct {
	mu     sync.Mutex
	calls  chan pipeline.Event
	source []pipeline.SourceType
	err    error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{calls: make(chan pipeline.Event, 8)}
}

func (p *fakeProcessor) Process(ctx context.Context, t pipeline.SourceType, events []pipeline.Event) (pipeline.Result, error) {
	p.mu.Lock()
	p.source = append(p.source, t)
	p.mu.Unlock()
	for _, e := range events {
		p.calls <- e
	}
	if _, ok := ctx.Deadline(); !ok {
		return pipeline.Result{}, errors.New("no deadline")
	}
	return pipeline.Result{Enqueued: len(events)}, p.err
}

func newTestServer(t *testing.T, proc Processor) (*Server, *supervisor.Supervisor) {
	t.Helper()
	sup := supervisor.New(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	s := New(Config{MaxBodyBytes: 4096, ProcessTimeout: time.Second}, proc, sup, logx.Nop())
	s.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	s.Handle("sonarr", pipeline.SourceSonarr, arr.ParseSonarr)
	s.Handle("watchtower", pipeline.SourceWatchtower, watchtower.Parse)
	return s, sup
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

const grab = `{"eventType":"Grab","instanceName":"Sonarr","downloadId":"ABC","series":{"id":12,"title":"Severance"},"episodes":[{"id":1,"seasonNumber":2,"episodeNumber":3}]}`

func TestAcceptedEventIsProcessedInBackground(t *testing.T) {
	t.Parallel()
	proc := newFakeProcessor()
	s, _ := newTestServer(t, proc)
	h := s.Handler()

	rec := post(h, "/webhook/sonarr", grab)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case ev := <-proc.calls:
		assert.Equal(t, "Grab:ABC", ev.ID)
		assert.Equal(t, "sonarr:12:s2", ev.GroupKey)
		assert.Equal(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), ev.OccurredAt)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not processed")
	}
	proc.mu.Lock()
	assert.Equal(t, []pipeline.SourceType{pipeline.SourceSonarr}, proc.source)
	proc.mu.Unlock()
}

func TestRejections(t *testing.T) {
	t.Parallel()
	proc := newFakeProcessor()
	s, _ := newTestServer(t, proc)
	h := s.Handler()

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"test event", "/webhook/sonarr", `{"eventType":"Test"}`, http.StatusOK},
		{"malformed json", "/webhook/sonarr", `{"eventType":`, http.StatusBadRequest},
		{"missing series", "/webhook/sonarr", `{"eventType":"Grab"}`, http.StatusBadRequest},
		{"unknown watchtower text", "/webhook/watchtower", `{"message":"hello"}`, http.StatusBadRequest},
		{"unknown source", "/webhook/plex", `{}`, http.StatusNotFound},
		{"too large", "/webhook/sonarr", `{"eventType":"Grab","pad":"` + strings.Repeat("x", 5000) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	select {
	case ev := <-proc.calls:
		t.Fatalf("unexpected processing of %s", ev.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMethodAndHealth(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, newFakeProcessor())
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/sonarr", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics not mounted")
}

func TestMetricsMount(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, newFakeProcessor())
	s.MountMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("serverbot_up 1\n"))
	}))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "serverbot_up 1")
}

func TestProfilerMount(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, newFakeProcessor())
	s.MountProfiler()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessErrorDoesNotFailSupervisor(t *testing.T) {
	t.Parallel()
	proc := newFakeProcessor()
	proc.err = errors.New("store down")
	s, sup := newTestServer(t, proc)

	rec := post(s.Handler(), "/webhook/watchtower", `{"message":"1 Scanned, 1 Updated, 0 Failed\n- /web (nginx:1): aaa updated to bbb"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-proc.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not processed")
	}
	require.Eventually(t, func() bool { return sup.Counters().Active == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, sup.Err())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, newFakeProcessor())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
