package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/usdanismanlik/takipus/internal/auth"
	"github.com/usdanismanlik/takipus/internal/logging"
	"github.com/usdanismanlik/takipus/internal/metrics"
)

func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	if h.Live != nil {
		r.Handle("/ws", h.Live).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(h.authenticate)

	v1.HandleFunc("/risk/matrix", h.RiskMatrix).Methods(http.MethodGet)

	v1.HandleFunc("/actions", h.ListActions).Methods(http.MethodGet)
	v1.HandleFunc("/actions", h.CreateAction).Methods(http.MethodPost)
	v1.HandleFunc("/actions/{id:[0-9]+}", h.GetAction).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{id:[0-9]+}/start", h.StartWork).Methods(http.MethodPost)
	v1.HandleFunc("/actions/{id:[0-9]+}/assign", h.AssignAction).Methods(http.MethodPut)
	v1.HandleFunc("/actions/{id:[0-9]+}/cancel", h.CancelAction).Methods(http.MethodPost)
	v1.HandleFunc("/actions/{id:[0-9]+}/complete", h.CompleteAction).Methods(http.MethodPost)
	v1.HandleFunc("/actions/{id:[0-9]+}/risk", h.UpdateRisk).Methods(http.MethodPut)
	v1.HandleFunc("/actions/{id:[0-9]+}/timeline", h.Timeline).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{id:[0-9]+}/audit", h.Audit).Methods(http.MethodGet)

	v1.HandleFunc("/actions/{id:[0-9]+}/closures", h.ListClosures).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{id:[0-9]+}/closures", h.RequestClosure).Methods(http.MethodPost)
	v1.HandleFunc("/actions/{id:[0-9]+}/closures/{closureID:[0-9]+}", h.GetClosure).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{id:[0-9]+}/closures/{closureID:[0-9]+}/approve", h.ApproveClosure).Methods(http.MethodPost)
	v1.HandleFunc("/actions/{id:[0-9]+}/closures/{closureID:[0-9]+}/reject", h.RejectClosure).Methods(http.MethodPost)

	v1.HandleFunc("/checklists/{id:[0-9]+}", h.PutChecklist).Methods(http.MethodPut)
	v1.HandleFunc("/field-tours/{id:[0-9]+}", h.PutFieldTour).Methods(http.MethodPut)

	v1.HandleFunc("/notifications", h.ListNotifications).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/read-all", h.MarkAllNotificationsRead).Methods(http.MethodPut)
	v1.HandleFunc("/notifications/{nid}/read", h.MarkNotificationRead).Methods(http.MethodPut)

	v1.HandleFunc("/reminders/run", h.RunReminders).Methods(http.MethodPost)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade on /ws take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument assigns a request id and records the request in metrics.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(logging.WithRequestID(r.Context(), id))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.RecordHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Auth == nil {
			writeFailure(w, http.StatusUnauthorized, "unauthorized", "authentication not configured")
			return
		}
		p, err := h.Auth.Authenticate(r)
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}
