package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"canvas-guard/internal/alert"
	"canvas-guard/internal/metrics"
	"canvas-guard/internal/models"
)

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"alertEnabled": h.gs.AlertEnabled(),
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, h.gs.Status())
}

func (h *handler) restartWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	stopResult, ok := h.gs.RestartWorker(r.Context())
	status := http.StatusOK
	if !ok {
		// 进程已停但没能重新通过健康检查
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{
		"ok":   ok,
		"stop": stopResult,
	})
}

func (h *handler) stopWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req struct {
		Force bool `json:"force"`
	}
	if r.Body != nil {
		// 空请求体等价于优雅停止
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	result := h.gs.StopWorker(req.Force)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     result.Outcome != models.StopFailed,
		"result": result,
	})
}

func (h *handler) activeAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": h.gs.AlertManager().ActiveAlerts(),
	})
}

func (h *handler) alertHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			limit = parsed
		}
		history := h.gs.AlertManager().History(limit)
		writeJSON(w, http.StatusOK, map[string]any{
			"alerts": history,
			"count":  len(history),
		})
	case http.MethodDelete:
		h.gs.AlertManager().ClearHistory()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (h *handler) alertStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, h.gs.AlertManager().Statistics())
}

func (h *handler) alertRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": h.gs.AlertManager().Rules(),
	})
}

func (h *handler) enableRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleEnabled(w, r, true)
}

func (h *handler) disableRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleEnabled(w, r, false)
}

func (h *handler) setRuleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req struct {
		Rule string `json:"rule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Rule) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	name := strings.TrimSpace(req.Rule)

	var found bool
	if enabled {
		found = h.gs.AlertManager().EnableRule(name)
	} else {
		found = h.gs.AlertManager().DisableRule(name)
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"ok":    false,
			"error": "rule not found",
			"rule":  name,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"rule":    name,
		"enabled": enabled,
	})
}

func (h *handler) forceAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req struct {
		Title    string   `json:"title"`
		Message  string   `json:"message"`
		Level    string   `json:"level"`
		Channels []string `json:"channels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	level := alert.LevelInfo
	if raw := strings.TrimSpace(req.Level); raw != "" {
		parsed, ok := alert.ParseLevel(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid level"})
			return
		}
		level = parsed
	}

	channels := make([]alert.Channel, 0, len(req.Channels))
	for _, raw := range req.Channels {
		parsed, ok := alert.ParseChannel(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel: " + raw})
			return
		}
		channels = append(channels, parsed)
	}

	created := h.gs.AlertManager().ForceAlert(req.Title, req.Message, level, channels)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"alert": created,
	})
}

func (h *handler) toggleAlerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"enabled": h.gs.AlertEnabled()})
	case http.MethodPost:
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
		h.gs.SetAlertEnabled(req.Enabled)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "enabled": req.Enabled})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (h *handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.MustGlobalPrometheus()))
}
