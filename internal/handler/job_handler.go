// internal/handler/job_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leadpilot/crm-automation/internal/repository"
	"github.com/leadpilot/crm-automation/internal/service"
)

// JobHandler holds the dependencies for job-related HTTP handlers
type JobHandler struct {
	Jobs       repository.ScheduledJobRepositoryInterface
	Dispatcher *service.DispatcherService
}

// StatsHandler returns job counts by status plus today's deliveries,
// optionally scoped to one company.
func (h *JobHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	companyID, _ := strconv.Atoi(r.URL.Query().Get("company_id"))

	stats, err := h.Jobs.Stats(r.Context(), companyID)
	if err != nil {
		http.Error(w, "failed to fetch job stats: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetJobHandler returns one scheduled job with its error detail.
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.Jobs.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to fetch job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// RunDispatchHandler triggers one dispatcher batch on demand.
func (h *JobHandler) RunDispatchHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Limit     int `json:"limit"`
		CompanyID int `json:"company_id"`
	}
	if r.Body != nil {
		// empty body means defaults
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	result := h.Dispatcher.Run(r.Context(), service.DispatchOptions{
		Limit:     body.Limit,
		CompanyID: body.CompanyID,
		Origin:    "http",
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
