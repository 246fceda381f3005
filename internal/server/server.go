// Package server exposes the extraction pipeline and proposal review over
// HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/agenda/internal/config"
	"github.com/scrypster/agenda/internal/engine"
	"github.com/scrypster/agenda/internal/ingest"
	"github.com/scrypster/agenda/pkg/types"
)

// NewHandler builds the full HTTP handler: health check, then auth, owner
// resolution and per-owner rate limiting around the API routes.
func NewHandler(cfg *config.Config, p *ingest.Pipeline, scheduler *engine.Scheduler) http.Handler {
	h := NewHandlers(p, scheduler)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/syllabi", h.SubmitSyllabus)
	apiMux.HandleFunc("POST /api/emails", h.SubmitEmail)
	apiMux.HandleFunc("POST /api/emails/batch", h.SubmitEmailBatch)
	apiMux.HandleFunc("POST /api/chats", h.SubmitChat)

	apiMux.HandleFunc("GET /api/proposals", h.ListProposals)

	apiMux.HandleFunc("POST /api/events", h.CreateEvent)
	apiMux.HandleFunc("GET /api/events/{id}", h.GetEntity(types.EntityKindEvent))
	apiMux.HandleFunc("POST /api/events/{id}/status", h.SetStatus(types.EntityKindEvent))

	apiMux.HandleFunc("POST /api/tasks", h.CreateTask)
	apiMux.HandleFunc("GET /api/tasks/{id}", h.GetEntity(types.EntityKindTask))
	apiMux.HandleFunc("POST /api/tasks/{id}/status", h.SetStatus(types.EntityKindTask))
	apiMux.HandleFunc("POST /api/tasks/{id}/completed", h.SetCompleted)

	apiMux.HandleFunc("GET /api/calendar", h.GetCalendar)
	apiMux.HandleFunc("GET /api/calendar.ics", h.ExportCalendar)
	apiMux.HandleFunc("GET /api/runs", h.ListRuns)
	apiMux.HandleFunc("GET /api/courses", h.ListCourses)

	var api http.Handler = apiMux
	if cfg.Server.RateLimit > 0 {
		api = RateLimitMiddleware(api, NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitBurst))
	}
	api = RequireOwner(api)
	api = RequireAuth(api, cfg)

	mux := http.NewServeMux()
	// Health endpoint, no auth required.
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.Handle("/api/", api)

	return securityHeadersMiddleware(mux)
}

// Start listens on the configured address and serves handler until ctx is
// cancelled. It returns the address actually bound, which differs from the
// configured one when the port is 0.
func Start(ctx context.Context, cfg *config.Config, handler http.Handler) (string, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // extraction may escalate to a second model call
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	return listener.Addr().String(), nil
}
