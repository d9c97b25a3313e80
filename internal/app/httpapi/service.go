package httpapi

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	app "github.com/forgemirror/mirror-layer/internal/app"
	httpauth "github.com/forgemirror/mirror-layer/internal/app/httpapi/auth"
	"github.com/forgemirror/mirror-layer/internal/app/metrics"
	"github.com/forgemirror/mirror-layer/internal/app/system"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// Service exposes the HTTP API and fits into the system manager lifecycle.
type Service struct {
	addr     string
	listener net.Listener
	server   *http.Server
	handler  http.Handler
	log      *logger.Logger
}

// NewService builds the HTTP service. tokens are static API tokens accepted
// alongside an X-User-ID header; validator additionally accepts bearer
// session tokens minted by its Issue method.
func NewService(application *app.Application, addr string, tokens []string, validator *httpauth.Validator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("http")
	}

	var sink auditSink
	if path := strings.TrimSpace(os.Getenv("AUDIT_LOG_PATH")); path != "" {
		if s, err := newFileAuditSink(path); err == nil {
			sink = s
			log.Infof("audit log persisting to %s", path)
		} else {
			log.Warnf("audit log file not configured: %v", err)
		}
	}
	audit := newAuditLog(300, sink)

	handler := NewHandler(application, audit)
	// Order matters: audit must sit inside auth so it can read the userID
	// auth placed on the request context; CORS short-circuits preflight
	// OPTIONS before either; metrics wraps everything.
	handler = wrapWithAudit(handler, audit)
	handler = wrapWithAuth(handler, tokens, validator, log)
	handler = wrapWithCORS(handler)
	handler = metrics.InstrumentHandler(handler)

	return &Service{addr: addr, handler: handler, log: log}
}

var _ system.Service = (*Service)(nil)

func (s *Service) Name() string { return "http" }

func (s *Service) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // no write timeout: the SSE stream is long-lived
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the listener's bound address, resolved after Start (useful
// when addr was ":0").
func (s *Service) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// wrapWithCORS allows cross-origin requests from a dashboard client and
// short-circuits preflight requests.
func wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wrapWithAudit records one auditEntry per request. It must run inside
// wrapWithAuth so userIDFromContext resolves.
func wrapWithAudit(next http.Handler, audit *auditLog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &auditStatusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		audit.add(auditEntry{
			Time:       start,
			UserID:     userIDFromContext(r.Context()),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type auditStatusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *auditStatusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying ResponseWriter so the /sse handler's
// streaming writes are not buffered behind this wrapper.
func (r *auditStatusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
