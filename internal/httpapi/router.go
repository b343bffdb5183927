package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/backoffice-ledger/internal/allotment"
	"github.com/sheikh-saqib/backoffice-ledger/internal/batch"
	"github.com/sheikh-saqib/backoffice-ledger/internal/ledger"
	"github.com/sheikh-saqib/backoffice-ledger/internal/workflow"
)

// Handler translates HTTP calls into calls on the core services.
type Handler struct {
	ledger    *ledger.Ledger
	workflow  *workflow.Engine
	batches   *batch.Processor
	allotment *allotment.Service
	logger    *zap.Logger
}

func NewHandler(l *ledger.Ledger, wf *workflow.Engine, bp *batch.Processor, as *allotment.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ledger: l, workflow: wf, batches: bp, allotment: as, logger: logger}
}

// Routes builds the router with the standard middleware stack.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.openAccount)
		r.Get("/", h.listAccounts)
		r.Get("/{id}", h.getAccount)
		r.Get("/{id}/statement", h.getStatement)
	})

	r.Route("/workflow-items", func(r chi.Router) {
		r.Post("/", h.createItem)
		r.Get("/", h.listItems)
		r.Get("/{id}", h.getItem)
		r.Put("/{id}", h.updateDraft)
		r.Post("/{id}/submit", h.submitItem)
		r.Post("/{id}/resolve", h.resolveItem)
	})

	r.Route("/batches", func(r chi.Router) {
		r.Post("/", h.createBatch)
		r.Get("/{id}", h.getBatch)
		r.Post("/{id}/approve", h.approveBatch)
		r.Post("/{id}/reject", h.rejectBatch)
	})

	r.Route("/ipos", func(r chi.Router) {
		r.Post("/", h.createIPO)
		r.Get("/{id}", h.getIPO)
		r.Post("/{id}/applications", h.applyIPO)
		r.Get("/{id}/applications", h.listApplications)
		r.Post("/{id}/close", h.closeSubscription)
		r.Get("/{id}/allotment/plan", h.planAllotment)
		r.Post("/{id}/allotment", h.runAllotment)
		r.Get("/{id}/summary", h.getSummary)
	})

	r.Route("/ipo-applications", func(r chi.Router) {
		r.Post("/{id}/verify", h.verifyApplication)
		r.Post("/{id}/reject", h.rejectApplication)
	})

	return r
}

func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("actor_id", r.Header.Get(headerActorID)))
		})
	}
}
