package training

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gymapp/main-service/internal/contracts"
	"github.com/gymapp/main-service/internal/platform/logging"
	"github.com/gymapp/main-service/internal/platform/txid"
)

const maxRequestBody = 1 << 20

type Handler struct {
	Service *Service
	Logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{Service: service, Logger: logger}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(txid.Middleware)
	r.Use(middleware.Recoverer)

	r.Post("/api/v1/trainings", h.handleCreateTraining)
	r.Get("/api/v1/trainings/{trainingID}", h.handleGetTraining)
	r.Delete("/api/v1/trainings/{trainingID}", h.handleDeleteTraining)
	r.Get("/api/v1/trainers/{username}/trainings", h.handleListTrainerTrainings)
	r.Put("/api/v1/trainers/{username}", h.handleRegisterTrainer)
	r.Put("/api/v1/trainees/{username}", h.handleRegisterTrainee)

	return r
}

type createTrainingResponse struct {
	ID int64 `json:"id"`
}

type trainingView struct {
	ID               int64          `json:"id"`
	TrainerUsername  string         `json:"trainerUsername"`
	TraineeUsername  string         `json:"traineeUsername"`
	TrainingName     string         `json:"trainingName"`
	TrainingTypeName string         `json:"trainingTypeName"`
	TrainingDate     contracts.Date `json:"trainingDate"`
	TrainingDuration int            `json:"trainingDuration"`
	CreatedAt        time.Time      `json:"createdAt"`
}

func viewOf(t Training) trainingView {
	return trainingView{
		ID:               t.ID,
		TrainerUsername:  t.Trainer.Username,
		TraineeUsername:  t.TraineeUsername,
		TrainingName:     t.Name,
		TrainingTypeName: t.TypeName,
		TrainingDate:     t.Date,
		TrainingDuration: t.DurationMinutes,
		CreatedAt:        t.CreatedAt,
	}
}

type personRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	IsActive  *bool  `json:"isActive"`
}

func (h *Handler) handleCreateTraining(w http.ResponseWriter, r *http.Request) {
	var req CreateTrainingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	id, err := h.Service.RecordTrainingCreated(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, createTrainingResponse{ID: id})
}

func (h *Handler) handleGetTraining(w http.ResponseWriter, r *http.Request) {
	id, ok := h.trainingID(w, r)
	if !ok {
		return
	}
	t, err := h.Service.GetTraining(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(t))
}

func (h *Handler) handleDeleteTraining(w http.ResponseWriter, r *http.Request) {
	id, ok := h.trainingID(w, r)
	if !ok {
		return
	}
	if err := h.Service.RecordTrainingDeleted(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListTrainerTrainings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = parsed
	}
	list, err := h.Service.ListTrainerTrainings(r.Context(), chi.URLParam(r, "username"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	views := make([]trainingView, 0, len(list))
	for _, t := range list {
		views = append(views, viewOf(t))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleRegisterTrainer(w http.ResponseWriter, r *http.Request) {
	h.handleRegisterPerson(w, r, h.Service.RegisterTrainer)
}

func (h *Handler) handleRegisterTrainee(w http.ResponseWriter, r *http.Request) {
	h.handleRegisterPerson(w, r, h.Service.RegisterTrainee)
}

func (h *Handler) handleRegisterPerson(w http.ResponseWriter, r *http.Request, register func(ctx context.Context, p Person) error) {
	var req personRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	p := Person{
		Username:  chi.URLParam(r, "username"),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Active:    req.IsActive == nil || *req.IsActive,
	}
	if err := register(r.Context(), p); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) trainingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "trainingID"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "training id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrReferenceNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.Logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
