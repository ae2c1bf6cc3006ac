// Package admin implements the read-only diagnostics surface (component
// 4.J): a loopback-only HTTP API, grounded on the teacher's internal/api
// package (mux router + middleware chain + a websocket hub broadcasting
// live events), narrowed to GET-only endpoints that never mutate operation
// state and never trust a caller's identity for anything but the optional
// bearer JWT check.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"fpauthd/internal/audit"
	"fpauthd/internal/driver"
)

// StatusSource reports point-in-time sensor facts the /status endpoint
// surfaces; *sensor.CrosFP (via driver.Driver) satisfies it directly.
type StatusSource interface {
	GetMaxTemplates() uint32
	Info() driver.SensorInfo
}

// Server is the admin HTTP server. Start does not check addr itself; fpauthd
// only builds and starts a Server when an admin listen address is configured.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *logrus.Entry
	started    time.Time

	drv   StatusSource
	audit *audit.Log
	hub   *Hub
	token string
}

// New builds a Server. token, if non-empty, is the HMAC secret that the JWT in
// every request's "Bearer <jwt>" Authorization header must be signed with.
func New(drv StatusSource, auditLog *audit.Log, logger *logrus.Entry, token string) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		started: time.Now(),
		drv:     drv,
		audit:   auditLog,
		hub:     newHub(logger),
		token:   token,
	}
	s.router.Use(s.authMiddleware)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.hub.handleWebSocket).Methods(http.MethodGet)
	return s
}

// Broadcast publishes eventType/data to all connected /ws clients. fpauthd
// does not call it, so the daemon's /ws stream carries no operation events.
func (s *Server) Broadcast(eventType string, data interface{}) {
	s.hub.broadcast(eventType, data)
}

// Start binds addr (expected to be a loopback address, e.g. 127.0.0.1:8090)
// and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.hub.run(ctx)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("admin: serve: %w", err)
	}
}

// authMiddleware requires a Bearer JWT signed with s.token (HS256), mirroring
// the teacher's validateJWTAuth: same signing-method check, same
// Authorization-header scheme, same claim validation left to the library.
// When s.token is empty the check is skipped and every request is served.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.validBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	tokenString := strings.TrimPrefix(auth, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.token), nil
	})
	return err == nil && token.Valid
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info := s.drv.Info()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": time.Since(s.started).Seconds(),
		"template_max":   s.drv.GetMaxTemplates(),
		"sensor_vendor":  info.Vendor,
		"sensor_product": info.Product,
		"sensor_model":   info.Model,
		"sensor_version": info.Version,
		"ws_connections": s.hub.connectionCount(),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, []audit.Record{})
		return
	}

	filter := audit.QueryFilter{}
	q := r.URL.Query()
	if userStr := q.Get("user"); userStr != "" {
		uid, err := strconv.ParseUint(userStr, 10, 32)
		if err != nil {
			http.Error(w, "invalid user", http.StatusBadRequest)
			return
		}
		filter.HasUser = true
		filter.UserID = uint32(uid)
	}
	filter.Outcome = q.Get("outcome")
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	rows, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		s.logger.WithError(err).Error("admin: audit query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
