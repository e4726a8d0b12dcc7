package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// feedWriteTimeout bounds one websocket frame write.
const feedWriteTimeout = 5 * time.Second

// handleFeed handles GET /ws/apps/{appID}/feed. It upgrades to a websocket
// and streams every data point appended for the application as one JSON
// text frame. The stream is write-only; client frames are discarded.
func (g *Gateway) handleFeed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, err := idParam(r, "appID")
		if err != nil {
			g.failed(w, err)
			return
		}
		if g.feed == nil {
			writeError(w, http.StatusServiceUnavailable, "data feed not available")
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("feed websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		sub := g.feed.Subscribe(appID)
		defer sub.Close()

		g.logger.Debug("feed subscriber connected", "app_id", appID, "remote", r.RemoteAddr)

		// CloseRead cancels ctx once the client goes away.
		ctx := conn.CloseRead(context.WithoutCancel(r.Context()))

		for {
			select {
			case <-ctx.Done():
				g.logger.Debug("feed subscriber disconnected", "app_id", appID, "dropped", sub.Dropped())
				return
			case <-g.done:
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			case dp, ok := <-sub.C:
				if !ok {
					return
				}
				data, err := json.Marshal(dp)
				if err != nil {
					g.logger.Error("feed encode failed", "error", err)
					continue
				}
				writeCtx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
				err = conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						g.logger.Debug("feed write failed", "app_id", appID, "error", err)
					}
					return
				}
			}
		}
	}
}
