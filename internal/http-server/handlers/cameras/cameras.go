package camerashandler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/nverdin/camera_archive/internal/domain/errs"
	"github.com/nverdin/camera_archive/internal/domain/models"
	"github.com/nverdin/camera_archive/internal/http-server/handlers"
	"github.com/nverdin/camera_archive/internal/lib/api/response"
	"github.com/nverdin/camera_archive/internal/lib/sl"
)

type CameraHandler struct {
	log     *slog.Logger
	cameras CameraService
}

type CameraService interface {
	SaveCamera(address, login, password, location string, isPublic bool) (models.Camera, error)
	Cameras() ([]models.Camera, error)
	Disable(cameraID string) error
	TestConnection(address string) error
}

func New(log *slog.Logger, cameras CameraService) *CameraHandler {
	return &CameraHandler{
		log:     log,
		cameras: cameras,
	}
}

type SaveRequest struct {
	Address  string `json:"address" validate:"required"`
	Login    string `json:"login"`
	Password string `json:"password"`
	Location string `json:"location"`
	IsPublic bool   `json:"is_public"`
}

type TestRequest struct {
	Address string `json:"address" validate:"required"`
}

func (h *CameraHandler) Save(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.Save"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req SaveRequest
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

	if err := validator.New().Struct(req); err != nil {
		validateErr := err.(validator.ValidationErrors)

		log.Error("invalid request", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, response.ValidationError(validateErr))

		return
	}

	cam, err := h.cameras.SaveCamera(req.Address, req.Login, req.Password, req.Location, req.IsPublic)
	if err != nil {
		log.Error("failed to save camera", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to save camera", middleware.GetReqID(r.Context())))

		return
	}

	render.JSON(w, r, cam)
}

func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.List"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	cams, err := h.cameras.Cameras()
	if err != nil {
		log.Error("failed to list cameras", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to list cameras", middleware.GetReqID(r.Context())))

		return
	}

	render.JSON(w, r, cams)
}

func (h *CameraHandler) Disable(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.Disable"

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

	if err := h.cameras.Disable(cameraID); err != nil {
		if errors.Is(err, errs.ErrCameraNotFound) {
			handlers.Error(w, r, http.StatusNotFound, response.Error("camera not found", ""))

			return
		}

		log.Error("failed to disable camera", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to disable camera", middleware.GetReqID(r.Context())))

		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *CameraHandler) Test(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.Test"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req TestRequest
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

	if err := validator.New().Struct(req); err != nil {
		validateErr := err.(validator.ValidationErrors)

		log.Error("invalid request", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, response.ValidationError(validateErr))

		return
	}

	if err := h.cameras.TestConnection(req.Address); err != nil {
		log.Error("camera connection test failed", sl.Err(err))

		handlers.Error(w, r, http.StatusBadGateway, response.Error("camera is not available", middleware.GetReqID(r.Context())))

		return
	}

	w.WriteHeader(http.StatusOK)
}
