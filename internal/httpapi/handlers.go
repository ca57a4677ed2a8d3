package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/alarm"
	"github.com/Richardsss22/NoZZZ/internal/eog"
	"github.com/Richardsss22/NoZZZ/internal/history"
	"github.com/Richardsss22/NoZZZ/internal/models"
	"github.com/Richardsss22/NoZZZ/internal/repository"
	"github.com/Richardsss22/NoZZZ/internal/settings"
	"github.com/Richardsss22/NoZZZ/internal/vision"

	"go.uber.org/zap"
)

// EOGSession is the EOG session surface exposed over HTTP.
type EOGSession interface {
	Snapshot() eog.Snapshot
	History() []models.MinuteSummary
	PressMainButton(ctx context.Context)
	Abort(ctx context.Context)
	Finish(ctx context.Context) error
	SetAmplitudeThreshold(ctx context.Context, n int) error
}

// Detector is the eye-closure detector surface exposed over HTTP.
type Detector interface {
	Snapshot() vision.Snapshot
	StartCamera()
	PauseCamera()
	StopCamera(ctx context.Context)
	StartCalibration()
	CancelCalibration()
	SetThreshold(ctx context.Context, v float64) error
	SetMode(ctx context.Context, m models.SafetyMode) error
	SetCustom(p vision.CustomPatch) error
}

// Alarm is the alarm controller surface exposed over HTTP.
type Alarm interface {
	Snapshot() alarm.State
	RequestTrigger(ctx context.Context, source models.TriggerSource)
	StopAlarm(ctx context.Context)
	DismissRestStopAdvisory()
}

// Preferences reads and writes the persisted toggles.
type Preferences interface {
	Preferences(ctx context.Context) settings.Preferences
	SetStrobeEnabled(ctx context.Context, on bool) error
	SetEmergencyContact(ctx context.Context, number string) error
}

// TripHistory is the trip tracker surface exposed over HTTP.
type TripHistory interface {
	Status() history.DrivingStatus
	CurrentTrip() *models.Trip
	Summary(ctx context.Context) (*history.Summary, error)
	Trips(ctx context.Context, since *time.Time, limit int) ([]*models.Trip, error)
	Report(minutes []models.MinuteSummary, last *models.MinuteSummary) (*history.Report, error)
}

// AlarmEvents lists persisted alarm events.
type AlarmEvents interface {
	ListAlarmEvents(ctx context.Context, vehicleID string, filters repository.AlarmEventFilters) ([]models.AlarmEvent, error)
}

// Deps are the components the handlers act on. Events may be nil when no
// database is configured; BrokerConnected may be nil.
type Deps struct {
	VehicleID       string
	Session         EOGSession
	Detector        Detector
	Alarm           Alarm
	Preferences     Preferences
	History         TripHistory
	Events          AlarmEvents
	BrokerConnected func() bool
}

// State is the aggregated snapshot served by /api/v1/state and pushed to
// websocket clients.
type State struct {
	VehicleID string                `json:"vehicle_id"`
	EOG       eog.Snapshot          `json:"eog"`
	Vision    vision.Snapshot       `json:"vision"`
	Alarm     alarm.State           `json:"alarm"`
	Driving   history.DrivingStatus `json:"driving"`
	Trip      *models.Trip          `json:"trip,omitempty"`
}

// Handler serves the UI API.
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

// State collects every component snapshot.
func (h *Handler) State() State {
	return State{
		VehicleID: h.deps.VehicleID,
		EOG:       h.deps.Session.Snapshot(),
		Vision:    h.deps.Detector.Snapshot(),
		Alarm:     h.deps.Alarm.Snapshot(),
		Driving:   h.deps.History.Status(),
		Trip:      h.deps.History.CurrentTrip(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{"status": "ok", "vehicle_id": h.deps.VehicleID}
	if h.deps.BrokerConnected != nil {
		status["mqtt_connected"] = h.deps.BrokerConnected()
	}
	writeJSON(w, http.StatusOK, Ok(status))
}

func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.State()))
}

// ============================================
// EOG session
// ============================================

func (h *Handler) PressMainButton(w http.ResponseWriter, r *http.Request) {
	h.deps.Session.PressMainButton(r.Context())
	writeJSON(w, http.StatusOK, Ok(h.deps.Session.Snapshot()))
}

func (h *Handler) AbortSession(w http.ResponseWriter, r *http.Request) {
	h.deps.Session.Abort(r.Context())
	writeJSON(w, http.StatusOK, Ok(h.deps.Session.Snapshot()))
}

func (h *Handler) FinishSession(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Session.Finish(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.deps.Session.Snapshot()))
}

func (h *Handler) SetAmplitudeThreshold(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Threshold int `json:"threshold"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	if err := h.deps.Session.SetAmplitudeThreshold(r.Context(), payload.Threshold); err != nil {
		h.logger.Warn("Failed to set amplitude threshold", zap.Int("threshold", payload.Threshold), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"threshold": payload.Threshold}))
}

func (h *Handler) GetSessionHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.deps.Session.History()))
}

// ============================================
// Camera
// ============================================

func (h *Handler) StartCamera(w http.ResponseWriter, _ *http.Request) {
	h.deps.Detector.StartCamera()
	writeJSON(w, http.StatusOK, Ok(h.deps.Detector.Snapshot()))
}

func (h *Handler) PauseCamera(w http.ResponseWriter, _ *http.Request) {
	h.deps.Detector.PauseCamera()
	writeJSON(w, http.StatusOK, Ok(h.deps.Detector.Snapshot()))
}

func (h *Handler) StopCamera(w http.ResponseWriter, r *http.Request) {
	h.deps.Detector.StopCamera(r.Context())
	writeJSON(w, http.StatusOK, Ok(h.deps.Detector.Snapshot()))
}

// Calibration handles POST (start) and DELETE (cancel).
func (h *Handler) Calibration(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.deps.Detector.StartCalibration()
	case http.MethodDelete:
		h.deps.Detector.CancelCalibration()
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.deps.Detector.Snapshot()))
}

func (h *Handler) SetSafetyMode(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Mode string `json:"mode"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	mode := models.SafetyMode(strings.ToLower(strings.TrimSpace(payload.Mode)))
	if err := h.deps.Detector.SetMode(r.Context(), mode); err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.deps.Detector.Snapshot()))
}

func (h *Handler) SetCustomProfile(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RequireDriving *bool    `json:"require_driving"`
		AlarmAfterMs   *int64   `json:"alarm_after_ms"`
		Threshold      *float64 `json:"threshold"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	patch := vision.CustomPatch{
		RequireDriving: payload.RequireDriving,
		Threshold:      payload.Threshold,
	}
	if payload.AlarmAfterMs != nil {
		d := time.Duration(*payload.AlarmAfterMs) * time.Millisecond
		patch.AlarmAfter = &d
	}
	if err := h.deps.Detector.SetCustom(patch); err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.deps.Detector.Snapshot()))
}

func (h *Handler) SetEyeThreshold(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Threshold float64 `json:"threshold"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	if err := h.deps.Detector.SetThreshold(r.Context(), payload.Threshold); err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.deps.Detector.Snapshot()))
}

// ============================================
// Alarm
// ============================================

func (h *Handler) StopAlarm(w http.ResponseWriter, r *http.Request) {
	h.deps.Alarm.StopAlarm(r.Context())
	writeJSON(w, http.StatusOK, Ok(h.deps.Alarm.Snapshot()))
}

func (h *Handler) DismissRestStop(w http.ResponseWriter, _ *http.Request) {
	h.deps.Alarm.DismissRestStopAdvisory()
	writeJSON(w, http.StatusOK, Ok(h.deps.Alarm.Snapshot()))
}

// TestAlarm fires a manual trigger.
func (h *Handler) TestAlarm(w http.ResponseWriter, r *http.Request) {
	h.deps.Alarm.RequestTrigger(r.Context(), models.SourceManual)
	writeJSON(w, http.StatusOK, Ok(h.deps.Alarm.Snapshot()))
}

// ============================================
// Settings
// ============================================

// Settings handles GET (read all) and PUT (partial update).
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, Ok(h.deps.Preferences.Preferences(r.Context())))
	case http.MethodPut:
		h.updateSettings(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload struct {
		StrobeEnabled    *bool    `json:"strobe_enabled"`
		EmergencyContact *string  `json:"emergency_contact"`
		EyeThreshold     *float64 `json:"eye_threshold"`
		SafetyMode       *string  `json:"safety_mode"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	if payload.StrobeEnabled != nil {
		if err := h.deps.Preferences.SetStrobeEnabled(ctx, *payload.StrobeEnabled); err != nil {
			h.logger.Error("Failed to save strobe toggle", zap.Error(err))
			writeJSON(w, http.StatusOK, Fail("failed to save strobe toggle"))
			return
		}
	}
	if payload.EmergencyContact != nil {
		if err := h.deps.Preferences.SetEmergencyContact(ctx, *payload.EmergencyContact); err != nil {
			h.logger.Error("Failed to save emergency contact", zap.Error(err))
			writeJSON(w, http.StatusOK, Fail("failed to save emergency contact"))
			return
		}
	}
	// The detector persists threshold and mode itself.
	if payload.EyeThreshold != nil {
		if err := h.deps.Detector.SetThreshold(ctx, *payload.EyeThreshold); err != nil {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
	}
	if payload.SafetyMode != nil {
		if err := h.deps.Detector.SetMode(ctx, models.SafetyMode(*payload.SafetyMode)); err != nil {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
	}
	writeJSON(w, http.StatusOK, Ok(h.deps.Preferences.Preferences(ctx)))
}

// ============================================
// Reports and history
// ============================================

func (h *Handler) GetReport(w http.ResponseWriter, _ *http.Request) {
	snap := h.deps.Session.Snapshot()
	report, err := h.deps.History.Report(snap.History, snap.LastMinute)
	if err != nil {
		if errors.Is(err, history.ErrNoData) {
			writeJSON(w, http.StatusOK, Fail("No data to send yet."))
			return
		}
		h.logger.Error("Failed to build report", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to build report"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(report))
}

func (h *Handler) GetWorkbook(w http.ResponseWriter, r *http.Request) {
	trips, err := h.deps.History.Trips(r.Context(), parseTime(r.URL.Query().Get("since")), parseInt(r.URL.Query().Get("limit"), 100))
	if err != nil {
		h.logger.Error("Failed to list trips for workbook", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to list trips"))
		return
	}
	data, err := history.BuildWorkbook(h.deps.Session.History(), trips)
	if err != nil {
		h.logger.Error("Failed to build workbook", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to build workbook"))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="nozzz-report.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	trips, err := h.deps.History.Trips(r.Context(), parseTime(r.URL.Query().Get("since")), limit)
	if err != nil {
		h.logger.Error("Failed to list trips", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to list trips"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": trips, "total": len(trips)}))
}

func (h *Handler) GetTripSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.History.Summary(r.Context())
	if err != nil {
		h.logger.Error("Failed to load trip summary", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to load trip summary"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(summary))
}

func (h *Handler) ListAlarmEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		writeJSON(w, http.StatusOK, Fail("alarm events are not stored"))
		return
	}
	q := r.URL.Query()
	filters := repository.AlarmEventFilters{
		StartTime: parseTime(q.Get("start_time")),
		EndTime:   parseTime(q.Get("end_time")),
		Limit:     parseInt(q.Get("limit"), 100),
	}
	if v := strings.TrimSpace(q.Get("trip_id")); v != "" {
		filters.TripID = &v
	}
	if v := strings.TrimSpace(q.Get("source")); v != "" {
		filters.Source = &v
	}

	events, err := h.deps.Events.ListAlarmEvents(r.Context(), h.deps.VehicleID, filters)
	if err != nil {
		h.logger.Error("Failed to list alarm events", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to list alarm events"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": events, "total": len(events)}))
}
