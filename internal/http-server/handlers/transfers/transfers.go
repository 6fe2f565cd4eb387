package transfershandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/nverdin/camera_archive/internal/domain/errs"
	"github.com/nverdin/camera_archive/internal/domain/models"
	"github.com/nverdin/camera_archive/internal/http-server/handlers"
	"github.com/nverdin/camera_archive/internal/lib/api/response"
	"github.com/nverdin/camera_archive/internal/lib/sl"
	codecservice "github.com/nverdin/camera_archive/internal/services/codec"
	transferservice "github.com/nverdin/camera_archive/internal/services/transfers"
)

type TransferHandler struct {
	log       *slog.Logger
	transfers TransferService
	codecs    CodecSelector
}

type TransferService interface {
	SyncSweep(ctx context.Context, params transferservice.SyncParams) (transferservice.SyncReport, error)
	CleanupSweep(ctx context.Context, params transferservice.CleanupParams) (transferservice.CleanupReport, error)
	Transfer(transferID string) (models.Transfer, error)
}

type CodecSelector interface {
	Invalidate()
	Warmup(ctx context.Context, profiles []codecservice.Profile)
}

func New(log *slog.Logger, transfers TransferService, codecs CodecSelector) *TransferHandler {
	return &TransferHandler{
		log:       log,
		transfers: transfers,
		codecs:    codecs,
	}
}

type SyncRequest struct {
	BatchSize int    `json:"batch_size"`
	MaxAge    string `json:"max_age"`
	DryRun    bool   `json:"dry_run"`
	Force     bool   `json:"force"`
}

type CleanupRequest struct {
	DryRun     bool   `json:"dry_run"`
	Force      bool   `json:"force"`
	TransferID string `json:"transfer_id"`
}

type WarmupRequest struct {
	Profiles []ProfileRequest `json:"profiles"`
}

type ProfileRequest struct {
	Width  int `json:"width" validate:"required"`
	Height int `json:"height" validate:"required"`
	FPS    int `json:"fps" validate:"required"`
}

func (h *TransferHandler) Sync(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.transfers.Sync"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req SyncRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		log.Error("failed to decode request body", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, response.Error("failed to decode request", ""))

		return
	}

	var maxAge time.Duration
	if req.MaxAge != "" {
		var err error
		maxAge, err = time.ParseDuration(req.MaxAge)
		if err != nil {
			log.Error("wrong max_age format")

			handlers.Error(w, r, http.StatusBadRequest, response.Error("invalid max_age", ""))

			return
		}
	}

	report, err := h.transfers.SyncSweep(r.Context(), transferservice.SyncParams{
		BatchSize: req.BatchSize,
		MaxAge:    maxAge,
		DryRun:    req.DryRun,
		Force:     req.Force,
	})
	if err != nil {
		log.Error("sync sweep failed", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("sync sweep failed", middleware.GetReqID(r.Context())))

		return
	}

	render.JSON(w, r, report)
}

func (h *TransferHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.transfers.Cleanup"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req CleanupRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		log.Error("failed to decode request body", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, response.Error("failed to decode request", ""))

		return
	}

	report, err := h.transfers.CleanupSweep(r.Context(), transferservice.CleanupParams{
		DryRun:     req.DryRun,
		Force:      req.Force,
		TransferID: req.TransferID,
	})
	if err != nil {
		if errors.Is(err, errs.ErrTransferNotFound) {
			handlers.Error(w, r, http.StatusNotFound, response.Error("transfer not found", ""))

			return
		}

		log.Error("cleanup sweep failed", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("cleanup sweep failed", middleware.GetReqID(r.Context())))

		return
	}

	render.JSON(w, r, report)
}

func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.transfers.Get"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	transferID := r.URL.Query().Get("transfer_id")
	if transferID == "" {
		log.Error("transfer_id is empty")

		handlers.Error(w, r, http.StatusBadRequest, response.Error("missing transfer_id query parameter", ""))

		return
	}

	tr, err := h.transfers.Transfer(transferID)
	if err != nil {
		if errors.Is(err, errs.ErrTransferNotFound) {
			handlers.Error(w, r, http.StatusNotFound, response.Error("transfer not found", ""))

			return
		}

		log.Error("failed to get transfer", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to get transfer", middleware.GetReqID(r.Context())))

		return
	}

	render.JSON(w, r, tr)
}

func (h *TransferHandler) InvalidateCodecs(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.transfers.InvalidateCodecs"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	h.codecs.Invalidate()

	log.Info("codec probe cache invalidated")

	w.WriteHeader(http.StatusOK)
}

func (h *TransferHandler) WarmupCodecs(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.transfers.WarmupCodecs"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req WarmupRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, response.Error("failed to decode request", ""))

		return
	}

	profiles := make([]codecservice.Profile, 0, len(req.Profiles))
	for _, p := range req.Profiles {
		profiles = append(profiles, codecservice.Profile{Width: p.Width, Height: p.Height, FPS: p.FPS})
	}

	go h.codecs.Warmup(context.Background(), profiles)

	log.Info("codec warmup started", slog.Int("profiles", len(profiles)))

	w.WriteHeader(http.StatusAccepted)
}
