package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"creative-review-engine/internal/auth"
	"creative-review-engine/internal/models"
	"creative-review-engine/internal/webhook"
)

type deliverRequest struct {
	WebhookURL string          `json:"webhook_url"`
	EventType  string          `json:"event_type"`
	Payload    webhook.Payload `json:"payload"`
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req deliverRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.deps.Webhooks.Deliver(r.Context(), auth.TenantID(r.Context()), req.WebhookURL, req.Payload, req.EventType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"delivery_id": id, "status": string(models.DeliveryPending)})
}

func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Webhooks.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil && rec.TenantID != auth.TenantID(r.Context()) {
		err = webhook.ErrDeliveryNotFound
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, 100)
	if !ok {
		return
	}
	recs, err := s.deps.Webhooks.List(r.Context(), webhook.DeliveryFilter{
		TenantID: auth.TenantID(r.Context()),
		Status:   models.DeliveryStatus(r.URL.Query().Get("status")),
		Limit:    limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": recs, "count": len(recs)})
}

// handleDeadLetters returns the tenant's dead-lettered deliveries.
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, 100)
	if !ok {
		return
	}
	recs, err := s.deps.Webhooks.DeadLetters(r.Context(), int64(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tenantID := auth.TenantID(r.Context())
	out := make([]models.WebhookDeliveryRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "count": len(out)})
}

func limitParam(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return 0, false
	}
	return n, true
}
