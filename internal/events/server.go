package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/jbweber/anvil/internal/logging"
)

// EventResult reports the outcome of one delivered event.
type EventResult struct {
	Event
	Code int `json:"code"`
}

// Handler serves the external event ingress.
type Handler struct {
	coord *Coordinator
	log   logrus.FieldLogger
}

// NewHandler returns an HTTP handler delivering events to coord.
func NewHandler(coord *Coordinator, log logrus.FieldLogger) *Handler {
	return &Handler{coord: coord, log: logging.Ensure(log)}
}

// Router returns the chi router for the ingress.
//
//	POST /v1/instances/{uuid}/events  deliver events
//	GET  /livez                       liveness
func (h *Handler) Router() http.Handler {
	mux := chi.NewRouter()
	mux.With(h.requestLogger).Post("/v1/instances/{uuid}/events", h.HandleEvents)
	mux.Get("/livez", h.handleLiveness)
	return mux
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start),
		}).Debug("Handled request")
	})
}

// HandleEvents delivers a batch of events to the instance in the path.
// Events nobody waits for are reported with code 404; the batch itself
// still succeeds.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	instanceUUID := chi.URLParam(r, "uuid")
	if _, err := uuid.Parse(instanceUUID); err != nil {
		http.Error(w, "invalid instance uuid", http.StatusBadRequest)
		return
	}

	var batch []Event
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "invalid event batch: "+err.Error(), http.StatusBadRequest)
		return
	}

	results := make([]EventResult, 0, len(batch))
	for _, ev := range batch {
		if ev.Name == "" || ev.Tag == "" {
			results = append(results, EventResult{Event: ev, Code: http.StatusBadRequest})
			continue
		}
		if ev.Status == "" {
			ev.Status = StatusCompleted
		}
		code := http.StatusOK
		if !h.coord.Deliver(instanceUUID, ev) {
			code = http.StatusNotFound
		}
		results = append(results, EventResult{Event: ev, Code: code})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(results)
}

func (h *Handler) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"alive"}`))
}

// Server runs the ingress until shut down.
type Server struct {
	srv       *http.Server
	isRunning atomic.Bool
	log       logrus.FieldLogger
}

// NewServer returns a server for handler on addr.
func NewServer(addr string, handler *Handler, log logrus.FieldLogger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logging.Ensure(log),
	}
}

// RunInBackground starts serving.
func (s *Server) RunInBackground() {
	s.isRunning.Store(true)
	go func() {
		s.log.WithField("listen", s.srv.Addr).Info("Starting event server")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Event server failed")
		}
		s.isRunning.Store(false)
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isRunning.Load() {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
