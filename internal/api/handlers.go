// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/theaterops/canteend/internal/database"
	"github.com/theaterops/canteend/internal/logging"
	"github.com/theaterops/canteend/internal/models"
	"github.com/theaterops/canteend/internal/posbus"
	"github.com/theaterops/canteend/internal/qrartifact"
	"github.com/theaterops/canteend/internal/qrimage"
	"github.com/theaterops/canteend/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is the reverse proxy's concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		lg := logging.Component("http")
		lg.Error().Err(err).Msg("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps component errors onto HTTP statuses.
func errorStatus(err error) int {
	var dbErr *database.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, qrimage.ErrPayloadTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, qrartifact.ErrArtifactPersist):
		return http.StatusBadGateway
	case errors.As(err, &dbErr):
		switch dbErr.Kind {
		case database.KindNotReady, database.KindTransient:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	default:
		return http.StatusInternalServerError
	}
}

func (router *Router) health(w http.ResponseWriter, r *http.Request) {
	theaters, subs := router.bus.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"database": router.db.State().String(),
		"bus": map[string]int{
			"theaters":      theaters,
			"subscriptions": subs,
		},
		"jobs": router.supervisor.Running(),
	})
}

// posStream upgrades the connection and attaches it to the event bus. A
// missing or malformed theater id gets close code 1008 after the upgrade so
// the client sees a websocket-level reason.
func (router *Router) posStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	theaterID := r.URL.Query().Get("theaterId")
	if _, err := primitive.ObjectIDFromHex(theaterID); err != nil {
		msg := websocket.FormatCloseMessage(posbus.ClosePolicyViolation, "missing or invalid theaterId")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
		return
	}

	_ = posbus.ServeConn(router.bus, theaterID, conn)
}

type qrRequest struct {
	TheaterID string   `json:"theaterId"`
	QRName    string   `json:"qrName"`
	SeatClass string   `json:"seatClass"`
	LogoRef   string   `json:"logoRef"`
	Seats     []string `json:"seats"`
}

func (q *qrRequest) pipelineRequest() (qrartifact.Request, error) {
	id, err := primitive.ObjectIDFromHex(q.TheaterID)
	if err != nil {
		return qrartifact.Request{}, errors.New("invalid theaterId")
	}
	if q.QRName == "" {
		return qrartifact.Request{}, errors.New("qrName is required")
	}
	return qrartifact.Request{
		TheaterID: id,
		QRName:    q.QRName,
		SeatClass: q.SeatClass,
		LogoRef:   q.LogoRef,
	}, nil
}

func (router *Router) qrSingle(w http.ResponseWriter, r *http.Request) {
	var body qrRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := body.pipelineRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	artifact, err := router.pipeline.GenerateSingle(r.Context(), req)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, artifact)
}

func (router *Router) qrScreen(w http.ResponseWriter, r *http.Request) {
	var body qrRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := body.pipelineRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Seats) == 0 {
		writeError(w, http.StatusBadRequest, "seats is required")
		return
	}

	batch, err := router.pipeline.GenerateScreen(r.Context(), req, body.Seats)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

type posEventRequest struct {
	Event string       `json:"event"`
	Order models.Order `json:"order"`
}

var validEvents = map[string]bool{
	posbus.EventCreated:   true,
	posbus.EventUpdated:   true,
	posbus.EventCancelled: true,
	posbus.EventCompleted: true,
}

// posEvent is the hook POS order handlers call to fan an order change out to
// the theater's live subscribers.
func (router *Router) posEvent(w http.ResponseWriter, r *http.Request) {
	var body posEventRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validEvents[body.Event] {
		writeError(w, http.StatusBadRequest, "unknown event")
		return
	}
	if body.Order.ID.IsZero() || body.Order.TheaterID.IsZero() {
		writeError(w, http.StatusBadRequest, "order id and theaterId are required")
		return
	}

	delivered := router.bus.Broadcast(body.Event, &body.Order)
	writeJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}

func (router *Router) settingsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, router.registry.Redacted())
}

func (router *Router) settingsPut(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	apply, err := sectionApply(section, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := router.registry.Update(r.Context(), section, apply); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, router.registry.Redacted())
}

// sectionApply decodes the request body for one settings section and returns
// the mutation to run under the registry lock.
func sectionApply(section string, r *http.Request) (func(*models.SystemSettings), error) {
	switch section {
	case models.SectionSMTP:
		var v models.SMTPSettings
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			return nil, errors.New("invalid smtp payload")
		}
		return func(s *models.SystemSettings) { s.SMTP = v }, nil
	case models.SectionSMS:
		var v models.SMSSettings
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			return nil, errors.New("invalid sms payload")
		}
		return func(s *models.SystemSettings) { s.SMS = v }, nil
	case models.SectionSchedule:
		var v map[string]models.ScheduleSpec
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			return nil, errors.New("invalid schedule payload")
		}
		return func(s *models.SystemSettings) { s.Schedule = v }, nil
	case models.SectionBranding:
		var v models.BrandingSettings
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			return nil, errors.New("invalid branding payload")
		}
		return func(s *models.SystemSettings) { s.Branding = v }, nil
	case models.SectionStorage:
		var v models.StorageCredentials
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			return nil, errors.New("invalid storage payload")
		}
		return func(s *models.SystemSettings) { s.Storage = v }, nil
	default:
		return nil, errors.New("unknown settings section")
	}
}
