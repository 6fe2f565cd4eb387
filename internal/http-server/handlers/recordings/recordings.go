package recordingshandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/nverdin/camera_archive/internal/domain/errs"
	"github.com/nverdin/camera_archive/internal/domain/models"
	"github.com/nverdin/camera_archive/internal/http-server/handlers"
	"github.com/nverdin/camera_archive/internal/lib/api/response"
	"github.com/nverdin/camera_archive/internal/lib/sl"
)

type RecordingHandler struct {
	log      *slog.Logger
	recorder Recorder
}

type Recorder interface {
	Start(ctx context.Context, cameraID string, duration time.Duration, quality string) (string, error)
	Stop(recordingID string) error
	Recording(recordingID string) (models.Recording, error)
	CameraRecordings(cameraID string, limit, offset int) ([]models.Recording, error)
}

func New(log *slog.Logger, recorder Recorder) *RecordingHandler {
	return &RecordingHandler{
		log:      log,
		recorder: recorder,
	}
}

type StartRequest struct {
	CameraID string `json:"camera_id" validate:"required"`
	Duration string `json:"duration" validate:"required"`
	Quality  string `json:"quality"`
}

type StartResponse struct {
	RecordingID string `json:"recording_id"`
}

func (h *RecordingHandler) Start(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recordings.Start"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req StartRequest
	err := render.DecodeJSON(r.Body, &req)
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Error("request body is empty")

			handlers.Error(w, r, http.StatusBadRequest, response.Error("empty request", ""))

			return
		}

		log.Error("failed to decode request body", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to decode request", middleware.GetReqID(r.Context())))

		return
	}

	log.Info("request body decoded", slog.Any("request", req))

	if err := validator.New().Struct(req); err != nil {
		validateErr := err.(validator.ValidationErrors)

		log.Error("invalid request", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, response.ValidationError(validateErr))

		return
	}

	duration, err := time.ParseDuration(req.Duration)
	if err != nil || duration <= 0 {
		log.Error("wrong duration format")

		handlers.Error(w, r, http.StatusBadRequest, response.Error("invalid duration", ""))

		return
	}

	recordingID, err := h.recorder.Start(r.Context(), req.CameraID, duration, req.Quality)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrCameraBusy):
			handlers.Error(w, r, http.StatusConflict, response.Error("camera already has an active recording", ""))
		case errors.Is(err, errs.ErrCameraNotFound):
			handlers.Error(w, r, http.StatusNotFound, response.Error("camera not found", ""))
		case errors.Is(err, errs.ErrNoCodecAvailable):
			handlers.Error(w, r, http.StatusUnprocessableEntity, response.Error("no working encoder available", ""))
		default:
			log.Error("failed to start recording", sl.Err(err))

			handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to start recording", middleware.GetReqID(r.Context())))
		}

		return
	}

	render.JSON(w, r, StartResponse{RecordingID: recordingID})
}

func (h *RecordingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recordings.Stop"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	recordingID := chi.URLParam(r, "recording_id")
	if recordingID == "" {
		log.Error("recording_id is empty")

		handlers.Error(w, r, http.StatusBadRequest, response.Error("missing recording_id", ""))

		return
	}

	if err := h.recorder.Stop(recordingID); err != nil {
		if errors.Is(err, errs.ErrRecordingNotActive) {
			handlers.Error(w, r, http.StatusConflict, response.Error("recording is not active", ""))

			return
		}

		log.Error("failed to stop recording", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to stop recording", middleware.GetReqID(r.Context())))

		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *RecordingHandler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recordings.Get"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	recordingID := chi.URLParam(r, "recording_id")

	rec, err := h.recorder.Recording(recordingID)
	if err != nil {
		if errors.Is(err, errs.ErrRecordingNotFound) {
			handlers.Error(w, r, http.StatusNotFound, response.Error("recording not found", ""))

			return
		}

		log.Error("failed to get recording", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to get recording", middleware.GetReqID(r.Context())))

		return
	}

	render.JSON(w, r, rec)
}

func (h *RecordingHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recordings.List"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	cameraID := r.URL.Query().Get("camera_id")
	if cameraID == "" {
		log.Error("camera_id is empty")

		handlers.Error(w, r, http.StatusBadRequest, response.Error("missing camera_id query parameter", ""))

		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			log.Error("invalid limit parameter", sl.Err(err))

			handlers.Error(w, r, http.StatusBadRequest, response.Error("invalid limit parameter", ""))

			return
		}
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		var err error
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			log.Error("invalid offset parameter", sl.Err(err))

			handlers.Error(w, r, http.StatusBadRequest, response.Error("invalid offset parameter", ""))

			return
		}
	}

	recs, err := h.recorder.CameraRecordings(cameraID, limit, offset)
	if err != nil {
		log.Error("failed to list recordings", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to list recordings", middleware.GetReqID(r.Context())))

		return
	}

	render.JSON(w, r, recs)
}
