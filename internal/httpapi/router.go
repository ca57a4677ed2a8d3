// Package httpapi serves the in-vehicle UI: a JSON API over the session,
// detector and alarm plus a websocket state feed.
package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router wraps http.ServeMux.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler registers a plain http.Handler (websocket upgrades).
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// only rejects every method but m.
func only(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != m {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterRoutes registers the UI API and, when hub is non-nil, the
// websocket feed.
func (r *Router) RegisterRoutes(h *Handler, hub *Hub) {
	r.Handle("/health", only(http.MethodGet, h.Health))
	r.Handle("/api/v1/state", only(http.MethodGet, h.GetState))

	// EOG session
	r.Handle("/api/v1/eog/press", only(http.MethodPost, h.PressMainButton))
	r.Handle("/api/v1/eog/abort", only(http.MethodPost, h.AbortSession))
	r.Handle("/api/v1/eog/finish", only(http.MethodPost, h.FinishSession))
	r.Handle("/api/v1/eog/threshold", only(http.MethodPost, h.SetAmplitudeThreshold))
	r.Handle("/api/v1/eog/history", only(http.MethodGet, h.GetSessionHistory))

	// camera
	r.Handle("/api/v1/camera/start", only(http.MethodPost, h.StartCamera))
	r.Handle("/api/v1/camera/pause", only(http.MethodPost, h.PauseCamera))
	r.Handle("/api/v1/camera/stop", only(http.MethodPost, h.StopCamera))
	r.Handle("/api/v1/camera/calibration", h.Calibration)
	r.Handle("/api/v1/camera/mode", only(http.MethodPut, h.SetSafetyMode))
	r.Handle("/api/v1/camera/custom", only(http.MethodPut, h.SetCustomProfile))
	r.Handle("/api/v1/camera/threshold", only(http.MethodPut, h.SetEyeThreshold))

	// alarm
	r.Handle("/api/v1/alarm/stop", only(http.MethodPost, h.StopAlarm))
	r.Handle("/api/v1/alarm/dismiss-rest-stop", only(http.MethodPost, h.DismissRestStop))
	r.Handle("/api/v1/alarm/test", only(http.MethodPost, h.TestAlarm))

	r.Handle("/api/v1/settings", h.Settings)

	// reports and history
	r.Handle("/api/v1/report", only(http.MethodGet, h.GetReport))
	r.Handle("/api/v1/report.xlsx", only(http.MethodGet, h.GetWorkbook))
	r.Handle("/api/v1/trips", only(http.MethodGet, h.ListTrips))
	r.Handle("/api/v1/trips/summary", only(http.MethodGet, h.GetTripSummary))
	r.Handle("/api/v1/alarm-events", only(http.MethodGet, h.ListAlarmEvents))

	if hub != nil {
		r.HandleHandler("/ws", http.HandlerFunc(hub.ServeWS))
	}
}
