package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flemzord/appcraft/internal/automation"
	"github.com/flemzord/appcraft/internal/security"
	"github.com/flemzord/appcraft/internal/security/securitytest"
	"github.com/flemzord/appcraft/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// mustYAMLNode parses YAML text into a *yaml.Node for Configure calls.
func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}

// testEnv is a gateway wired to an in-memory automation engine.
type testEnv struct {
	g       *Gateway
	store   *store.MemoryStore
	events  func() []security.AuditEvent
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate ...func(*Gateway, *automation.Options)) *testEnv {
	t.Helper()
	logger := testLogger()

	ms := store.NewMemoryStore()
	feed := store.NewFeed(8)
	audit, events := securitytest.NewTestAuditLogger()

	g := &Gateway{
		logger:     logger,
		metrics:    &Metrics{},
		dispatcher: NewWebhookDispatcher(logger),
		done:       make(chan struct{}),
		feed:       feed,
		registry:   prometheus.NewRegistry(),
		audit:      audit,
		version:    "test",
		startedAt:  time.Now(),
	}
	g.config.defaults()
	g.dispatcher.Register(dataWebhookSource, dataWebhook{g: g}, "")

	opts := automation.Options{
		Store:   store.Notify(ms, feed),
		Logger:  logger,
		Audit:   audit,
		Metrics: automation.NewMetrics("appcraft", g.registry),
	}
	for _, fn := range mutate {
		fn(g, &opts)
	}
	g.sched = automation.New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = g.sched.Stop(ctx)
	})

	return &testEnv{g: g, store: ms, events: events, handler: g.buildRouter()}
}

// do sends a request with an optional JSON body through the router.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	case []byte:
		r = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}
