package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/flemzord/appcraft/internal/aggregate"
	"github.com/flemzord/appcraft/internal/security"
	"github.com/flemzord/appcraft/internal/store"
	"github.com/go-chi/chi/v5"
)

// WriteResult is the response of a data write.
type WriteResult struct {
	DataPoint store.DataPoint `json:"dataPoint"`
	// Triggered counts the jobs whose triggerKey matched the written key.
	Triggered int `json:"triggered"`
	// Pending is set when triggered jobs were still running when the
	// gateway stopped waiting for them.
	Pending bool `json:"pending,omitempty"`
}

// writeData validates and appends one data point, then runs the jobs
// triggered by its key. The wait for triggered jobs is bounded by the
// scheduler's trigger wait; failures of triggered jobs never undo the write.
func (g *Gateway) writeData(ctx context.Context, appID int64, key string, value []byte) (WriteResult, error) {
	if g.sched == nil {
		return WriteResult{}, errStatus(http.StatusServiceUnavailable, "automation engine not available")
	}
	if !store.ValidKey(key) {
		return WriteResult{}, errStatus(http.StatusBadRequest, "invalid data key")
	}
	if err := security.ValidatePayload(value, g.config.MaxPayloadBytes, g.config.MaxJSONDepth); err != nil {
		if errors.Is(err, security.ErrPayloadTooLarge) {
			return WriteResult{}, errStatus(http.StatusRequestEntityTooLarge, err.Error())
		}
		return WriteResult{}, errStatus(http.StatusBadRequest, err.Error())
	}
	if g.limiter != nil {
		if err := g.limiter.Allow(security.KindDataWrite, strconv.FormatInt(appID, 10)); err != nil {
			g.metrics.RecordRateLimited()
			g.audit.Log(security.AuditEvent{
				Type: security.EventRateLimit, AppID: appID, Detail: "data write for key " + key,
			})
			return WriteResult{}, errStatus(http.StatusTooManyRequests, err.Error())
		}
	}

	dp, err := g.sched.Data().Append(ctx, store.DataPoint{AppID: appID, Key: key, Value: json.RawMessage(value)})
	if err != nil {
		return WriteResult{}, err
	}
	res := WriteResult{DataPoint: dp}

	waitCtx, cancel := context.WithTimeout(ctx, g.sched.TriggerWait())
	defer cancel()

	res.Triggered, err = g.sched.RunTriggeredJobs(waitCtx, appID, key)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		res.Pending = true
	case errors.Is(err, security.ErrRateLimited):
		g.metrics.RecordRateLimited()
		g.logger.Warn("triggered runs rate limited", "app_id", appID, "key", key)
	default:
		g.metrics.RecordError()
		g.logger.Warn("triggered job failed", "app_id", appID, "key", key, "error", err)
	}

	g.metrics.RecordDataWrite(res.Triggered)
	return res, nil
}

// handleWriteData handles POST /api/apps/{appID}/data/{key}. The body is
// the JSON value to store.
func (g *Gateway) handleWriteData() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, err := idParam(r, "appID")
		if err != nil {
			g.failed(w, err)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(g.config.MaxPayloadBytes)+1))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, security.ErrPayloadTooLarge.Error())
			return
		}

		res, err := g.writeData(r.Context(), appID, chi.URLParam(r, "key"), body)
		if err != nil {
			g.failed(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// handleReadData handles GET /api/apps/{appID}/data/{key}?days=N and
// returns the points of the trailing window, oldest first.
func (g *Gateway) handleReadData() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, err := idParam(r, "appID")
		if err != nil {
			g.failed(w, err)
			return
		}
		key := chi.URLParam(r, "key")
		if !store.ValidKey(key) {
			writeError(w, http.StatusBadRequest, "invalid data key")
			return
		}
		if g.sched == nil {
			writeError(w, http.StatusServiceUnavailable, "automation engine not available")
			return
		}

		days := 0
		if raw := r.URL.Query().Get("days"); raw != "" {
			if days, err = strconv.Atoi(raw); err != nil {
				writeError(w, http.StatusBadRequest, "invalid days")
				return
			}
		}
		days = aggregate.ClampWindow(days)

		since := g.sched.Now().AddDate(0, 0, -days)
		points, err := g.sched.Data().Since(r.Context(), appID, key, since)
		if err != nil {
			g.failed(w, err)
			return
		}
		if points == nil {
			points = []store.DataPoint{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"appId":  appID,
			"key":    key,
			"days":   days,
			"points": points,
		})
	}
}

// dataWebhook accepts data writes from the "data" webhook source.
type dataWebhook struct {
	g *Gateway
}

type dataWebhookPayload struct {
	AppID int64           `json:"appId"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (h dataWebhook) HandleWebhook(ctx context.Context, _ string, body []byte, _ http.Header) error {
	var p dataWebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return errStatus(http.StatusBadRequest, "invalid payload")
	}
	if p.AppID <= 0 {
		return errStatus(http.StatusBadRequest, "invalid appId")
	}
	if len(p.Value) == 0 {
		return errStatus(http.StatusBadRequest, "missing value")
	}
	res, err := h.g.writeData(ctx, p.AppID, p.Key, p.Value)
	if err != nil {
		return err
	}
	h.g.logger.Debug("webhook data written",
		"app_id", p.AppID, "key", p.Key, "triggered", res.Triggered, "at", res.DataPoint.CreatedAt.Format(time.RFC3339))
	return nil
}
