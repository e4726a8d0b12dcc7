package gateway

import (
	"net/http"

	"github.com/flemzord/appcraft/internal/config"
	"github.com/flemzord/appcraft/internal/core"
	"github.com/flemzord/appcraft/internal/security"
	"gopkg.in/yaml.v3"
)

// moduleJSON is a serializable module info snapshot.
type moduleJSON struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
}

// handleGetAllModules lists all compiled modules (for /api/modules).
func (g *Gateway) handleGetAllModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mods := core.GetModules()
		out := make([]moduleJSON, 0, len(mods))
		for _, m := range mods {
			out = append(out, moduleJSON{
				ID:        string(m.ID),
				Namespace: m.ID.Namespace(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleGetConfig returns the current config with secrets redacted.
func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.configPath == "" {
			writeError(w, http.StatusServiceUnavailable, "config path not set")
			return
		}

		cfg, err := config.Load(g.configPath)
		if err != nil {
			g.logger.Error("config load failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load config")
			return
		}

		view, err := redactedView(cfg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to serialize config")
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// redactedView renders cfg as a generic map, module nodes included, with
// secret-looking values replaced.
func redactedView(cfg *config.Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	security.NewRedactor().RedactMap(generic)
	return generic, nil
}

// handleCheckConfig loads and validates the configuration file on disk
// without applying it.
func (g *Gateway) handleCheckConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.configPath == "" {
			writeError(w, http.StatusServiceUnavailable, "config path not set")
			return
		}

		cfg, err := config.Load(g.configPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := config.Validate(cfg); err != nil {
			g.logger.Warn("config check failed", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "valid",
			"modules": config.Resolve(cfg),
		})
	}
}
