package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"creative-review-engine/internal/auth"
	"creative-review-engine/internal/moderation"
	"creative-review-engine/internal/policy"
	"creative-review-engine/internal/review"
)

type submitReviewRequest struct {
	CreativeID  string                 `json:"creative_id"`
	PrincipalID string                 `json:"principal_id"`
	Name        string                 `json:"name"`
	Format      string                 `json:"format"`
	Text        string                 `json:"text"`
	AssetURL    string                 `json:"asset_url"`
	Metadata    map[string]any         `json:"metadata"`
	Policy      *policy.AIReviewPolicy `json:"policy"`
	Criteria    string                 `json:"criteria"`
}

type submitReviewResponse struct {
	JobID string       `json:"job_id"`
	State review.State `json:"state"`
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var req submitReviewRequest
	if !decode(w, r, &req) {
		return
	}
	tenantID := auth.TenantID(r.Context())
	if !s.allow(w, r, tenantID) {
		return
	}
	principal := req.PrincipalID
	if principal == "" {
		principal = auth.PrincipalID(r.Context())
	}
	if req.Policy != nil {
		p, err := policy.New(req.Policy.AutoApproveThreshold, req.Policy.AutoRejectThreshold, req.Policy.AlwaysRequireHumanFor)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.Policy = &p
	}
	if req.AssetURL != "" && s.deps.Assets != nil {
		if err := s.deps.Assets.CheckURL(r.Context(), req.AssetURL); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	jobID, err := s.deps.Reviews.Submit(review.Request{
		TenantID:    tenantID,
		CreativeID:  req.CreativeID,
		PrincipalID: principal,
		Content: moderation.Content{
			CreativeID: req.CreativeID,
			TenantID:   tenantID,
			Name:       req.Name,
			Format:     req.Format,
			Text:       req.Text,
			AssetURL:   req.AssetURL,
			Metadata:   req.Metadata,
		},
		Policy:   req.Policy,
		Criteria: moderation.Criteria(req.Criteria),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitReviewResponse{JobID: jobID, State: review.StateRunning})
}

func (s *Server) handleReviewStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Reviews.Status(chi.URLParam(r, "jobID"))
	if st.State != review.StateUnknown && st.TenantID != auth.TenantID(r.Context()) {
		st = review.JobStatus{JobID: st.JobID, State: review.StateUnknown}
	}
	code := http.StatusOK
	if st.State == review.StateUnknown {
		code = http.StatusNotFound
	}
	writeJSON(w, code, st)
}

func (s *Server) handleCreativeHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Creatives.History(r.Context(), auth.TenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}
