package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

// maxWebhookBody bounds the body read for any webhook source.
const maxWebhookBody = 1 << 20

// WebhookHandler processes a validated webhook payload.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, source string, body []byte, headers http.Header) error
}

type webhookEntry struct {
	handler WebhookHandler
	secret  string
}

// WebhookDispatcher routes incoming webhooks to registered handlers with HMAC validation.
type WebhookDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]webhookEntry
	logger   *slog.Logger
}

// NewWebhookDispatcher creates a ready-to-use dispatcher.
func NewWebhookDispatcher(logger *slog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		handlers: make(map[string]webhookEntry),
		logger:   logger,
	}
}

// Register adds a handler for the given source with an optional HMAC secret.
func (d *WebhookDispatcher) Register(source string, h WebhookHandler, secret string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[source] = webhookEntry{handler: h, secret: secret}
}

// Sources returns the number of registered sources.
func (d *WebhookDispatcher) Sources() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// ServeHTTP implements http.Handler. It extracts the source from the chi URL param,
// validates HMAC if configured, and dispatches to the registered handler.
// Handler errors carrying an HTTP status (see statusError) are reported with it.
func (d *WebhookDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	source := chi.URLParam(r, "source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "missing source")
		return
	}

	d.mu.RLock()
	entry, ok := d.handlers[source]
	d.mu.RUnlock()

	if !ok {
		d.logger.Warn("webhook received for unregistered source", "source", source)
		writeError(w, http.StatusNotFound, "unknown webhook source")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "failed to read body")
		return
	}

	if entry.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if !validateHMAC(body, sig, entry.secret) {
			d.logger.Warn("webhook signature mismatch", "source", source)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	if err := entry.handler.HandleWebhook(r.Context(), source, body, r.Header); err != nil {
		code := statusOf(err)
		if code >= http.StatusInternalServerError {
			d.logger.Error("webhook handler failed", "source", source, "error", err)
		}
		writeError(w, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// validateHMAC checks HMAC-SHA256 signature in constant time.
func validateHMAC(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
