// Package httpserver implements the metrics observability plane: the
// Prometheus-text /metrics endpoint, the JSON /api/snapshot endpoint, the
// /ws live-update WebSocket, /health, and a minimal HTML dashboard.
package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/stylebending/win-event-engine/internal/logging"
	"github.com/stylebending/win-event-engine/internal/metrics"
)

const snapshotPushInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server binds the observability plane to loopback on a configured port.
type Server struct {
	collector *metrics.Collector
	logger    *logging.Logger
	router    *mux.Router
	httpSrv   *http.Server
}

// New builds a Server. Call ListenAndServe to bind and serve.
func New(collector *metrics.Collector, logger *logging.Logger) *Server {
	s := &Server{collector: collector, logger: logger, router: mux.NewRouter()}
	s.router.Use(loggingMiddleware(logger), metricsMiddleware(collector))
	s.router.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetricsText).Methods(http.MethodGet)
	s.router.HandleFunc("/api/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)
	return s
}

// ListenAndServe binds to loopback:port and serves until ctx is cancelled
// or an unrecoverable listener error occurs.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleMetricsText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(s.collector.EncodeText()))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.collector.Snapshot())
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "healthy", Timestamp: time.Now()})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}

type wireFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.collector.Broadcaster().Subscribe()
	defer unsubscribe()

	done := make(chan struct{})

	go s.readLoop(conn, done)

	if err := conn.WriteJSON(wireFrame{Type: "snapshot", Data: s.collector.Snapshot()}); err != nil {
		return
	}

	ticker := time.NewTicker(snapshotPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wireFrame{Type: string(u.Type), Data: u.Data}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteJSON(wireFrame{Type: "snapshot", Data: s.collector.Snapshot()}); err != nil {
				return
			}
		}
	}
}

// readLoop drains inbound frames so ping/close control frames are handled
// by the gorilla/websocket library's default handlers, and closes done
// when the connection goes away. Unknown text frames are silently dropped.
func (s *Server) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head><title>win-event-engine</title></head>
<body>
<h1>win-event-engine</h1>
<p>See <a href="/metrics">/metrics</a>, <a href="/api/snapshot">/api/snapshot</a>, <a href="/health">/health</a>, and connect to <code>/ws</code> for live updates.</p>
</body>
</html>
`
