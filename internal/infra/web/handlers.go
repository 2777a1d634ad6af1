package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes. Ownership failures
// read as 404 so project ids are not probeable.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotOwner):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidStep),
		errors.Is(err, domain.ErrShotCountMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrStepNotStartable),
		errors.Is(err, domain.ErrStepNotRetryable),
		errors.Is(err, domain.ErrStepRegression),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func pathInt(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, domain.ErrInvalidArgument
	}
	return n, nil
}

type projectCreateRequest struct {
	Title  string `json:"title"`
	Script string `json:"script"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	p, err := s.pipeline.CreateProject(r.Context(), userIDFrom(r.Context()), req.Title, req.Script)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		ProjectID   string              `json:"project_id"`
		Status      model.ProjectStatus `json:"status"`
		CurrentStep int                 `json:"current_step"`
	}{p.ID, p.Status, p.CurrentStep})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.pipeline.Status(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetStep int `json:"target_step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.pipeline.AdvanceStep(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "projectID"), req.TargetStep); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectStyle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StyleID string `json:"style_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.pipeline.SelectStyle(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "projectID"), req.StyleID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartStep(w http.ResponseWriter, r *http.Request) {
	step, err := pathInt(r, "step")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.pipeline.StartStep(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "projectID"), step); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRetryStep(w http.ResponseWriter, r *http.Request) {
	step, err := pathInt(r, "step")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.pipeline.RetryStep(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "projectID"), step); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRegenerateShot(w http.ResponseWriter, r *http.Request) {
	shot, err := pathInt(r, "shot")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.pipeline.RegenerateShot(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "projectID"), shot); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type versionView struct {
	VersionNumber int       `json:"version_number"`
	ImageURL      string    `json:"image_url"`
	IsCurrent     bool      `json:"is_current"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	shot, err := pathInt(r, "shot")
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := s.versions.ListHistory(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "projectID"), shot)
	if err != nil {
		writeError(w, err)
		return
	}

	data := make([]versionView, 0, len(history))
	for _, v := range history {
		data = append(data, versionView{
			VersionNumber: v.VersionNumber,
			ImageURL:      v.ImageURL,
			IsCurrent:     v.IsCurrent,
			CreatedAt:     v.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Data []versionView `json:"data"`
	}{data})
}

func (s *Server) handleActivateVersion(w http.ResponseWriter, r *http.Request) {
	shot, err := pathInt(r, "shot")
	if err != nil {
		writeError(w, err)
		return
	}
	version, err := pathInt(r, "version")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.versions.SwitchVersion(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "projectID"), shot, version); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, available, err := s.ledger.Balance(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Balance   int64 `json:"balance"`
		Available int64 `json:"available"`
	}{balance, available})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type deadLetterView struct {
	ID        string        `json:"id"`
	JobID     string        `json:"job_id"`
	Type      model.JobType `json:"type"`
	ProjectID string        `json:"project_id"`
	Reason    string        `json:"reason"`
	Attempts  int           `json:"attempts"`
	CreatedAt time.Time     `json:"created_at"`
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	letters, err := s.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	data := make([]deadLetterView, 0, len(letters))
	for _, d := range letters {
		data = append(data, deadLetterView{
			ID:        d.ID,
			JobID:     d.JobID,
			Type:      d.Type,
			ProjectID: d.Payload.ProjectID,
			Reason:    d.Reason,
			Attempts:  d.Attempts,
			CreatedAt: d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Data []deadLetterView `json:"data"`
	}{data})
}
