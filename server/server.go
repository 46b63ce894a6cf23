// Package server exposes the HTTP surface of jmeter-web-runner: test
// plan uploads, execution submission and cancellation, report downloads
// and a WebSocket stream of execution updates. It is a thin layer over
// the execution scheduler; no orchestration decisions are made here.
package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/colinzhu/jmeter-web-runner-sub000/execution"
	"github.com/colinzhu/jmeter-web-runner-sub000/storage"
)

// Server routes HTTP requests to the scheduler and the artifact stores
type Server struct {
	sched   *execution.Scheduler
	plans   *storage.PlanStore
	reports *storage.ReportStore
	log     *zap.SugaredLogger
	ctx     context.Context

	// Submission rate limiting for the mutating endpoints
	limiter *rate.Limiter

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewServer creates the HTTP layer and starts the update pump feeding
// connected WebSocket clients. The context ends the pump on shutdown.
func NewServer(ctx context.Context, sched *execution.Scheduler, plans *storage.PlanStore, reports *storage.ReportStore, allowedOrigins []string, log *zap.SugaredLogger) *Server {
	s := &Server{
		sched:    sched,
		plans:    plans,
		reports:  reports,
		log:      log.Named("server"),
		ctx:      ctx,
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
		upgrader: newUpgrader(allowedOrigins),
		clients:  make(map[*wsClient]struct{}),
	}

	go s.pumpExecutionUpdates()

	return s
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/executions", s.handleExecutions)
	mux.HandleFunc("/api/executions/", s.handleExecutionByID)
	mux.HandleFunc("/api/plans", s.handlePlans)
	mux.HandleFunc("/api/plans/", s.handlePlanByID)
	mux.HandleFunc("/api/reports/", s.handleReportDownload)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return mux
}

// allowSubmission applies the shared token bucket to mutating requests.
// Returns false (and writes 429) when the caller is over the limit.
func (s *Server) allowSubmission(w http.ResponseWriter) bool {
	if s.limiter.Allow() {
		return true
	}
	s.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
	return false
}
