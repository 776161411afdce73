package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"visualizer-backend/internal/middleware"
	"visualizer-backend/internal/models"
	"visualizer-backend/internal/service"
	"visualizer-backend/internal/validation"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type VisualizationHandler struct {
	Service *service.VisualizationService
	Log     *logrus.Logger
}

// Routes mounts the visualization endpoints on r, normally the /api/v1
// subrouter.
func (h *VisualizationHandler) Routes(r *mux.Router) {
	r.HandleFunc("/visualizations", h.Create).Methods("POST")
	r.HandleFunc("/visualizations", h.List).Methods("GET")
	r.HandleFunc("/visualizations/{id}", h.Get).Methods("GET")
	r.HandleFunc("/visualizations/{id}/stages/{stage}", h.TriggerStage).Methods("POST")
}

type createResponse struct {
	VisualizationID uuid.UUID     `json:"visualizationId"`
	Status          models.Status `json:"status"`
}

type stageResponse struct {
	models.VisualizationView
	Skipped bool `json:"skipped"`
}

type listResponse struct {
	Visualizations []models.VisualizationView `json:"visualizations"`
}

func (h *VisualizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req validation.CreateVisualizationRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Normalize()
	if err := validation.Struct(&req); err != nil {
		h.writeValidation(w, err)
		return
	}

	v, err := h.Service.Create(r.Context(), userID, service.CreateRequest{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Prompt:         req.Prompt,
		Voice:          req.Voice,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, createResponse{VisualizationID: v.ID, Status: v.Status})
}

// Get is the status poller.
func (h *VisualizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, http.StatusNotFound, service.ErrNotFound.Error())
		return
	}

	v, err := h.Service.Get(r.Context(), userID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v.View())
}

func (h *VisualizationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeValidation(w, validation.Invalid("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	records, err := h.Service.List(r.Context(), userID, q.Get("conversationId"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	views := make([]models.VisualizationView, 0, len(records))
	for _, v := range records {
		views = append(views, v.View())
	}
	writeJSON(w, http.StatusOK, listResponse{Visualizations: views})
}

// TriggerStage runs one stage synchronously. Triggers that do not apply to
// the record's status return the current projection with skipped set.
func (h *VisualizationHandler) TriggerStage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		h.writeError(w, http.StatusNotFound, service.ErrNotFound.Error())
		return
	}
	stage, err := models.ParseStage(vars["stage"])
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req validation.StageRequest
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Normalize()
	if err := validation.Struct(&req); err != nil {
		h.writeValidation(w, err)
		return
	}

	res, err := h.Service.TriggerStage(r.Context(), userID, id, stage, service.StageOverrides{
		Prompt:        req.Prompt,
		Script:        req.Script,
		Voice:         req.Voice,
		AudioDuration: req.AudioDuration,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stageResponse{VisualizationView: res.Record.View(), Skipped: res.Skipped})
}

// ── Responses ─────────────────────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *VisualizationHandler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *VisualizationHandler) writeValidation(w http.ResponseWriter, err error) {
	var verr *validation.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
}

// writeServiceError maps service errors to status codes. Anything unexpected
// is logged and reported without detail.
func (h *VisualizationHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, service.ErrNotFound.Error())
		return
	}
	if h.Log != nil {
		h.Log.WithFields(logrus.Fields{
			"path":   r.URL.Path,
			"method": r.Method,
		}).WithError(err).Error("request failed")
	}
	h.writeError(w, http.StatusInternalServerError, "internal server error")
}
