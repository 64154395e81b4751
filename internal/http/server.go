// Package http exposes the ledger and the scan pipeline as a JSON API.
// Routes map one to one onto the actions of the mobile UI: pick a card,
// pick a month, read the summary, record or scan an expense.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"recus/internal/cache"
	"recus/internal/core"
	"recus/internal/ledger"
	applog "recus/internal/log"
	"recus/internal/services"
)

type Server struct {
	http.Server
	ledger       *ledger.Ledger
	scans        *services.ScanService
	rateLimiter  *rateLimiter
	maxImageSize int64
	structured   *applog.StructuredLogger

	// Month summaries are expensive to miss (the rollover walks back
	// to the card's start month) and trivial to rebuild, so they sit
	// in a small LRU that any write flushes wholesale.
	summaryCache *cache.LRUCache[core.MonthSummary]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, ldg *ledger.Ledger, scans *services.ScanService, maxImageSize int64) *Server {
	mux := http.NewServeMux()

	logger := applog.New(applog.DefaultConfig())
	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: applog.Middleware(logger)(mux),
		},
		ledger:       ldg,
		scans:        scans,
		rateLimiter:  newRateLimiter(),
		maxImageSize: maxImageSize,
		summaryCache: cache.NewLRUCache[core.MonthSummary](200, 5*time.Minute),
		cacheManager: cache.NewManager(),
		structured:   applog.NewStructuredLogger(logger.WithComponent(applog.ComponentHTTP)),
	}

	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("GET /api/state", s.withSecurityHeaders(s.handleState))
	mux.HandleFunc("GET /api/summary", s.withSecurityHeaders(s.handleSummary))
	mux.HandleFunc("GET /api/expenses", s.withSecurityHeaders(s.handleListExpenses))

	mux.HandleFunc("POST /api/cards", s.withSecurityHeaders(s.handleAddCard))
	mux.HandleFunc("POST /api/cards/select", s.withSecurityHeaders(s.handleSelectCard))
	mux.HandleFunc("POST /api/months/select", s.withSecurityHeaders(s.handleSelectMonth))
	mux.HandleFunc("PUT /api/budget", s.withSecurityHeaders(s.handleSetBudget))

	mux.HandleFunc("POST /api/expenses", s.withSecurityHeaders(s.handleSaveExpense))
	mux.HandleFunc("DELETE /api/expenses/{id}", s.withSecurityHeaders(s.handleDeleteExpense))

	mux.HandleFunc("POST /api/scan", s.withSecurityHeaders(s.handleScan))
	mux.HandleFunc("GET /api/scan/{id}", s.withSecurityHeaders(s.handleScanJob))

	mux.HandleFunc("GET /api/export", s.withSecurityHeaders(s.handleExport))
	mux.HandleFunc("POST /api/import", s.withSecurityHeaders(s.handleImport))

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()

		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}

		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request logging to responses
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Extract client IP (considering proxies)
		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		// Generate request ID for tracing
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		s.structured.LogHTTPStart(ctx, r, clientIP)

		// Rate limit writes; reads are cheap and cached.
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Create a custom response writer to capture status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		s.structured.LogHTTPEnd(ctx, r, rw.statusCode, duration.Milliseconds(), clientIP)
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp if random fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
