package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"canvas-guard/internal/logger"
	"canvas-guard/internal/models"
	"canvas-guard/internal/service"
)

// Server wraps the HTTP introspection server.
type Server struct {
	httpServer *http.Server
}

type handler struct {
	cfg *models.Config
	gs  *service.GuardService
}

// NewServer builds the HTTP server for console/API consumption.
func NewServer(cfg *models.Config, gs *service.GuardService) *Server {
	h := &handler{cfg: cfg, gs: gs}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", h.health)
	mux.HandleFunc("/api/status", h.status)
	mux.HandleFunc("/api/worker/restart", h.restartWorker)
	mux.HandleFunc("/api/worker/stop", h.stopWorker)
	mux.HandleFunc("/api/alerts/active", h.activeAlerts)
	mux.HandleFunc("/api/alerts/history", h.alertHistory)
	mux.HandleFunc("/api/alerts/stats", h.alertStats)
	mux.HandleFunc("/api/alerts/rules", h.alertRules)
	mux.HandleFunc("/api/alerts/rules/enable", h.enableRule)
	mux.HandleFunc("/api/alerts/rules/disable", h.disableRule)
	mux.HandleFunc("/api/alerts/force", h.forceAlert)
	mux.HandleFunc("/api/alerts/enabled", h.toggleAlerts)
	mux.HandleFunc("/metrics", h.metrics)

	srv := &http.Server{
		Addr:         cfg.APIBind,
		Handler:      withCORS(cfg, withAPIAuth(cfg, mux)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return &Server{httpServer: srv}
}

// Start boots the API server asynchronously.
func (s *Server) Start() {
	go func() {
		logger.Info("API 服务监听 %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API 服务异常退出: %v", err)
		}
	}()
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withAPIAuth enforces a bearer token when one is configured. An empty token,
// an unexpanded "${...}" placeholder, or API_AUTH_DISABLED=true leaves the API
// open, which is the expected mode on trusted hosts.
func withAPIAuth(cfg *models.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(cfg.APIAuthToken)
		disabled := strings.EqualFold(strings.TrimSpace(os.Getenv("API_AUTH_DISABLED")), "true")
		placeholder := strings.HasPrefix(token, "${") && strings.HasSuffix(token, "}")
		if token == "" || placeholder || disabled {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		got := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(got, "Bearer ") && strings.TrimSpace(strings.TrimPrefix(got, "Bearer ")) == token {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	})
}

// withCORS applies the configured origin allow-list. With no explicit list,
// loopback origins and origins on the server's own host are allowed so a local
// console keeps working without extra configuration.
func withCORS(cfg *models.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !originAllowed(cfg, origin, r.Host) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "origin not allowed"})
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(cfg *models.Config, origin, host string) bool {
	allowList := strings.TrimSpace(cfg.APICORSOrigins)
	if allowList != "" {
		for _, allowed := range strings.Split(allowList, ",") {
			allowed = strings.TrimSpace(allowed)
			if allowed == "*" || strings.EqualFold(allowed, origin) {
				return true
			}
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	originHost := parsed.Hostname()
	if originHost == "localhost" || originHost == "127.0.0.1" || originHost == "::1" {
		return true
	}
	serverHost := host
	if splitHost, _, err := net.SplitHostPort(host); err == nil {
		serverHost = splitHost
	}
	return strings.EqualFold(originHost, serverHost)
}
