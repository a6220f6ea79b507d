package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/argus/internal/investigation"
	"github.com/linnemanlabs/argus/internal/projection"
	"github.com/linnemanlabs/argus/internal/review"
)

func (a *API) handleListReviews(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 50)
	items, total := a.projector.PendingReviews(page, perPage)
	writeJSON(w, http.StatusOK, map[string]any{
		"reviews":  items,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (a *API) handleGetReview(w http.ResponseWriter, r *http.Request) {
	view, ok := a.projector.Review(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type reviewRequest struct {
	Reviewer  string   `json:"reviewer"`
	Feedback  string   `json:"feedback,omitempty"`
	Questions []string `json:"questions,omitempty"`
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	a.resolve(w, r, investigation.OutcomeApprove)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	a.resolve(w, r, investigation.OutcomeReject)
}

func (a *API) resolve(w http.ResponseWriter, r *http.Request, outcome investigation.ReviewOutcome) {
	reviewID := chi.URLParam(r, "id")
	view, ok := a.lookupReview(w, reviewID)
	if !ok {
		return
	}

	var body reviewRequest
	decodeOptional(r, &body)
	if body.Reviewer == "" {
		http.Error(w, `{"error":"reviewer is required"}`, http.StatusBadRequest)
		return
	}

	err := a.gate.Resolve(r.Context(), view.InvestigationID, review.Resolution{
		ReviewID: reviewID,
		Outcome:  outcome,
		Reviewer: body.Reviewer,
		Channel:  "api",
		Feedback: body.Feedback,
	})
	if !a.renderResolveErr(w, r, reviewID, err) {
		return
	}

	inv, err := a.repo.Get(r.Context(), view.InvestigationID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to reload after review", "id", view.InvestigationID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) handleRequestInfo(w http.ResponseWriter, r *http.Request) {
	reviewID := chi.URLParam(r, "id")
	view, ok := a.lookupReview(w, reviewID)
	if !ok {
		return
	}

	var body reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if body.Reviewer == "" || len(body.Questions) == 0 {
		http.Error(w, `{"error":"reviewer and questions are required"}`, http.StatusBadRequest)
		return
	}

	extended, err := a.gate.RequestInfo(r.Context(), view.InvestigationID, reviewID, body.Reviewer, "api", body.Questions)
	if !a.renderResolveErr(w, r, reviewID, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"review_id":  reviewID,
		"expires_at": extended,
	})
}

func (a *API) lookupReview(w http.ResponseWriter, reviewID string) (projection.ReviewView, bool) {
	view, ok := a.projector.Review(reviewID)
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return projection.ReviewView{}, false
	}
	return view, true
}

// renderResolveErr maps gate errors onto HTTP statuses. Returns true when
// the resolution succeeded.
func (a *API) renderResolveErr(w http.ResponseWriter, r *http.Request, reviewID string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, review.ErrAlreadyResolved):
		http.Error(w, `{"error":"review already resolved"}`, http.StatusConflict)
	case errors.Is(err, investigation.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	default:
		a.logger.Error(r.Context(), err, "review resolution failed", "review_id", reviewID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
	return false
}
