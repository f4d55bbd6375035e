// internal/httpapi/server.go

// Package httpapi exposes the operator surface: kind schedules, gating
// toggles, the approval queue, campaigns, and notification queries.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notify-engine/internal/approval"
	"notify-engine/internal/campaign"
	"notify-engine/internal/catalog"
	stderrors "notify-engine/internal/common/errors"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/gating"
	"notify-engine/internal/models"
	"notify-engine/internal/settings"
	"notify-engine/internal/store"
)

// Server wires the HTTP handlers to the engine components.
type Server struct {
	catalog  *catalog.Catalog
	settings settings.Service
	store    store.Store
	pipeline *gating.Pipeline
	queue    *approval.Queue
	campaign *campaign.Engine
	logger   logger.Logger
}

func NewServer(cat *catalog.Catalog, svc settings.Service, st store.Store, pipe *gating.Pipeline, queue *approval.Queue, eng *campaign.Engine, log logger.Logger) *Server {
	return &Server{
		catalog:  cat,
		settings: svc,
		store:    st,
		pipeline: pipe,
		queue:    queue,
		campaign: eng,
		logger:   log,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/kinds", s.listKinds)
		r.Put("/kinds/{kindID}/schedule", s.putSchedule)
		r.Post("/kinds/{kindID}/activate", s.setKindActive(true))
		r.Post("/kinds/{kindID}/deactivate", s.setKindActive(false))

		r.Put("/settings/global", s.putGlobal)
		r.Put("/settings/preview", s.putPreview)
		r.Put("/settings/service-mapping", s.putServiceMapping)

		r.Get("/approvals", s.listApprovals)
		r.Post("/approvals/{id}/approve", s.approve)
		r.Post("/approvals/{id}/reject", s.reject)
		r.Patch("/approvals/{id}", s.edit)
		r.Post("/approvals/batch-approve", s.batchApprove)
		r.Post("/approvals/batch-reject", s.batchReject)

		r.Post("/campaigns/preview", s.previewCampaign)
		r.Post("/campaigns", s.executeCampaign)
		r.Get("/campaigns/{id}", s.getCampaign)

		r.Get("/notifications", s.queryNotifications)
		r.Get("/notifications/{id}", s.getNotification)
		r.Delete("/appointments/{id}/notifications", s.cancelForAppointment)
	})
	return r
}

// --- kinds and schedules ---

type kindView struct {
	ID             string               `json:"id"`
	Aliases        []string             `json:"aliases,omitempty"`
	DisplayName    string               `json:"displayName"`
	Description    string               `json:"description"`
	DailyTriggered bool                 `json:"dailyTriggered"`
	CampaignOnly   bool                 `json:"campaignOnly"`
	Active         bool                 `json:"active"`
	Schedule       models.KindSchedule  `json:"schedule"`
}

func (s *Server) listKinds(w http.ResponseWriter, r *http.Request) {
	snap, err := s.settings.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	kinds := s.catalog.Kinds()
	out := make([]kindView, 0, len(kinds))
	for _, k := range kinds {
		sched, ok := snap.Schedule(k.ID)
		if !ok {
			sched, _ = s.catalog.DefaultScheduleFor(k.ID)
		}
		out = append(out, kindView{
			ID:             k.ID,
			Aliases:        k.Aliases,
			DisplayName:    k.DisplayName,
			Description:    k.Description,
			DailyTriggered: k.DailyTriggered,
			CampaignOnly:   k.CampaignOnly,
			Active:         snap.KindActive(k.ID),
			Schedule:       sched,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) {
	kindID := chi.URLParam(r, "kindID")
	canonical, ok := s.catalog.Canonicalize(kindID)
	if !ok {
		s.writeError(w, stderrors.NewUnknownKindError(kindID))
		return
	}

	var sched models.KindSchedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		s.badRequest(w, "request body does not parse as a schedule")
		return
	}
	sched.KindID = canonical
	if err := settings.ValidateSchedule(s.catalog, sched); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.settings.UpsertSchedule(r.Context(), sched); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) setKindActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kindID := chi.URLParam(r, "kindID")
		moved, err := s.pipeline.SetKindActive(r.Context(), kindID, active)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"kind":   kindID,
			"active": active,
			"moved":  moved,
		})
	}
}

// --- gating toggles ---

type enabledBody struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) putGlobal(w http.ResponseWriter, r *http.Request) {
	var body enabledBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.badRequest(w, "request body does not parse")
		return
	}
	if err := s.settings.SetGlobalEnabled(r.Context(), body.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) putPreview(w http.ResponseWriter, r *http.Request) {
	var body enabledBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.badRequest(w, "request body does not parse")
		return
	}
	if err := s.settings.SetPreviewMode(r.Context(), body.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) putServiceMapping(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ServiceID string `json:"serviceId"`
		KindID    string `json:"kindId"`
		Enabled   bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ServiceID == "" {
		s.badRequest(w, "serviceId and kindId are required")
		return
	}
	canonical, ok := s.catalog.Canonicalize(body.KindID)
	if !ok {
		s.writeError(w, stderrors.NewUnknownKindError(body.KindID))
		return
	}
	if err := s.settings.SetServiceMapping(r.Context(), body.ServiceID, canonical, body.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	body.KindID = canonical
	writeJSON(w, http.StatusOK, body)
}

// --- approvals ---

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	entries, err := s.queue.ListPending(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	entry, err := s.queue.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.badRequest(w, "request body does not parse")
		return
	}
	entry, err := s.queue.Reject(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) edit(w http.ResponseWriter, r *http.Request) {
	var patch approval.EditPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.badRequest(w, "request body does not parse")
		return
	}
	entry, err := s.queue.Edit(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type batchBody struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason,omitempty"`
}

func (s *Server) batchApprove(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.IDs) == 0 {
		s.badRequest(w, "ids are required")
		return
	}
	writeJSON(w, http.StatusOK, s.queue.BatchApprove(r.Context(), body.IDs))
}

func (s *Server) batchReject(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.IDs) == 0 {
		s.badRequest(w, "ids are required")
		return
	}
	writeJSON(w, http.StatusOK, s.queue.BatchReject(r.Context(), body.IDs, body.Reason))
}

// --- campaigns ---

func (s *Server) previewCampaign(w http.ResponseWriter, r *http.Request) {
	var filters models.CampaignFilters
	if err := json.NewDecoder(r.Body).Decode(&filters); err != nil {
		s.badRequest(w, "request body does not parse as filters")
		return
	}
	recipients, err := s.campaign.Preview(r.Context(), filters)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(recipients),
		"recipients": recipients,
	})
}

func (s *Server) executeCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		KindID       string                 `json:"kindId"`
		Filters      models.CampaignFilters `json:"filters"`
		Params       map[string]string      `json:"params,omitempty"`
		ScheduledFor *time.Time             `json:"scheduledFor,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.KindID == "" {
		s.badRequest(w, "kindId and filters are required")
		return
	}
	run, err := s.campaign.Execute(r.Context(), campaign.ExecuteRequest{
		KindID:       body.KindID,
		Filters:      body.Filters,
		Params:       body.Params,
		ScheduledFor: body.ScheduledFor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	run, ok, err := s.store.GetCampaignRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, stderrors.NewNotFoundError("campaign run", chi.URLParam(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// --- notifications ---

func (s *Server) queryNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.QueryFilter{
		KindID:       q.Get("kind"),
		RecipientKey: q.Get("recipient"),
		CampaignID:   q.Get("campaign"),
		Limit:        500,
	}
	if status := q.Get("status"); status != "" {
		filter.Statuses = []models.Status{models.Status(status)}
	}
	if v := q.Get("from"); v != "" {
		from, err := parseTimeParam(v, false)
		if err != nil {
			s.writeError(w, err)
			return
		}
		filter.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := parseTimeParam(v, true)
		if err != nil {
			s.writeError(w, err)
			return
		}
		filter.To = &to
	}
	list, err := s.store.Query(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getNotification(w http.ResponseWriter, r *http.Request) {
	n, ok, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, stderrors.NewNotFoundError("notification", chi.URLParam(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) cancelForAppointment(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.store.CancelForSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": cancelled})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeError(w, stderrors.NewValidationFailedError(msg))
}

// parseTimeParam accepts RFC 3339 or a plain date. A plain date used as a
// range end covers the whole day.
func parseTimeParam(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, stderrors.NewInvalidTimestampError(fmt.Sprintf("time %q does not parse as RFC 3339 or a date", v))
	}
	if endOfDay {
		return t.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return t, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var std *stderrors.StandardError
	if !errors.As(err, &std) {
		s.logger.Error("request failed", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch std.Code {
	case stderrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case stderrors.ErrCodeUnknownKind, stderrors.ErrCodeScheduleInvalid,
		stderrors.ErrCodeValidationFailed, stderrors.ErrCodeInvalidRecipient,
		stderrors.ErrCodeInvalidTimestamp:
		status = http.StatusBadRequest
	case stderrors.ErrCodeInvalidTransition:
		status = http.StatusConflict
	case stderrors.ErrCodeStoreUnavailable, stderrors.ErrCodeLedgerUnavailable,
		stderrors.ErrCodeSettingsUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"code":  string(std.Code),
		"error": std.Message + ": " + std.Details,
	})
}
