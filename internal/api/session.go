package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/config"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/controller"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/protocol"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/service"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/transcript"
)

// SessionHandler serves service lifecycle and operation endpoints.
type SessionHandler struct {
	ctrl      Controller
	svc       Service
	cfg       *config.Config
	version   string
	startTime time.Time
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

func (h *SessionHandler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.svc.State()
	status := "ok"
	if state == service.StateError {
		status = "degraded"
	}
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks: map[string]string{
			"service": state.String(),
		},
	})
}

type ServiceStatusResponse struct {
	State       string `json:"state"`
	Alive       bool   `json:"alive"`
	Busy        bool   `json:"busy"`
	LoadedModel string `json:"loaded_model,omitempty"`
	Restarts    int64  `json:"restarts"`
}

func (h *SessionHandler) ServiceStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceStatusResponse{
		State:       h.svc.State().String(),
		Alive:       h.svc.Alive(),
		Busy:        h.ctrl.Busy(),
		LoadedModel: h.ctrl.LoadedModel(),
		Restarts:    h.svc.Restarts(),
	})
}

func (h *SessionHandler) StartService(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Start(r.Context()); err != nil {
		writeOperationError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"state": h.svc.State().String(),
	})
}

func (h *SessionHandler) StopService(w http.ResponseWriter, r *http.Request) {
	id, err := h.ctrl.SubmitShutdown(r.Context())
	if err != nil {
		writeOperationError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"operation_id": id.String(),
		"state":        h.svc.State().String(),
	})
}

type ModelInfo struct {
	Name   string `json:"name"`
	Size   string `json:"size"`
	Loaded bool   `json:"loaded"`
}

func (h *SessionHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	loaded := h.ctrl.LoadedModel()
	catalog := controller.KnownModels()
	models := make([]ModelInfo, 0, len(catalog))
	for name, size := range catalog {
		models = append(models, ModelInfo{Name: name, Size: size, Loaded: name == loaded})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"models": models})
}

type LoadModelRequest struct {
	Model string `json:"model"`
}

func (h *SessionHandler) LoadModel(w http.ResponseWriter, r *http.Request) {
	var req LoadModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		WriteError(w, http.StatusBadRequest, "model is required")
		return
	}
	id, err := h.ctrl.SubmitLoadModel(r.Context(), req.Model)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"operation_id": id.String()})
}

type TranscribeRequest struct {
	Path    string `json:"path"`
	Diarize *bool  `json:"diarize,omitempty"`
}

func (h *SessionHandler) SubmitTranscription(w http.ResponseWriter, r *http.Request) {
	var req TranscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		WriteError(w, http.StatusBadRequest, "path is required")
		return
	}
	diarize := h.cfg.Diarize
	if req.Diarize != nil {
		diarize = *req.Diarize
	}
	id, err := h.ctrl.SubmitTranscribe(r.Context(), req.Path, diarize)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"operation_id": id.String()})
}

type OperationResponse struct {
	ID         string                 `json:"id"`
	Status     string                 `json:"status"`
	Kind       string                 `json:"kind"`
	Model      string                 `json:"model,omitempty"`
	Transcript *transcript.Transcript `json:"transcript,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// PollOperation reports an operation's status. A completed result is
// consumed by the read, matching the session model where the caller owns
// the result once seen.
func (h *SessionHandler) PollOperation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid operation id")
		return
	}
	res, err := h.ctrl.Poll(id)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	resp := OperationResponse{
		ID:         id.String(),
		Status:     res.Status.String(),
		Kind:       res.Kind.String(),
		Model:      res.Model,
		Transcript: res.Transcript,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) CancelOperation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid operation id")
		return
	}
	if err := h.ctrl.Cancel(id); err != nil {
		writeOperationError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// writeOperationError maps controller and service errors onto HTTP
// status codes.
func writeOperationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, protocol.ErrChannelBusy):
		WriteError(w, http.StatusConflict, "an operation is already in progress")
	case errors.Is(err, controller.ErrUnknownModel):
		WriteError(w, http.StatusBadRequest, "unknown model")
	case errors.Is(err, controller.ErrUnknownOperation):
		WriteError(w, http.StatusNotFound, "unknown operation")
	case errors.Is(err, service.ErrScriptNotFound):
		WriteErrorDetail(w, http.StatusBadGateway, "transcription service unavailable", err.Error())
	case errors.Is(err, service.ErrSpawnFailed):
		WriteErrorDetail(w, http.StatusBadGateway, "transcription service unavailable", err.Error())
	default:
		WriteErrorDetail(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}
