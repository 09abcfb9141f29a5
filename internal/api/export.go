package api

import (
	"net/http"
	"strconv"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/config"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/timeline"
)

// ExportHandler serves timeline exports of the session's last completed
// transcript.
type ExportHandler struct {
	ctrl Controller
	cfg  *config.Config
}

func (h *ExportHandler) fps(r *http.Request) float64 {
	if v := r.URL.Query().Get("fps"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return h.cfg.FPS
}

// Strips exports animation-strip placements for the last transcript.
func (h *ExportHandler) Strips(w http.ResponseWriter, r *http.Request) {
	tr := h.ctrl.LastTranscript()
	if tr == nil {
		WriteError(w, http.StatusNotFound, "no transcript available")
		return
	}
	gran, err := timeline.ParseGranularity(r.URL.Query().Get("granularity"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	strips, err := timeline.AnimationStrips(tr, timeline.AnimationOptions{
		FPS:         h.fps(r),
		Granularity: gran,
	})
	if err != nil {
		writeExportError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"granularity": gran,
		"strips":      strips,
	})
}

// Subtitles exports subtitle placements, either as JSON strip data or as
// rendered SRT text.
func (h *ExportHandler) Subtitles(w http.ResponseWriter, r *http.Request) {
	tr := h.ctrl.LastTranscript()
	if tr == nil {
		WriteError(w, http.StatusNotFound, "no transcript available")
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "srt":
		w.Header().Set("Content-Type", "application/x-subrip")
		w.Header().Set("Content-Disposition", `attachment; filename="transcript.srt"`)
		if err := timeline.WriteSRT(w, tr); err != nil {
			// Headers are already out; nothing sensible to send.
			return
		}
	case "", "json":
		gran, err := timeline.ParseGranularity(r.URL.Query().Get("granularity"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		pos, err := timeline.ParsePosition(r.URL.Query().Get("position"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if pos == timeline.PositionBottom && r.URL.Query().Get("position") == "" {
			if p, perr := timeline.ParsePosition(h.cfg.SubtitlePosition); perr == nil {
				pos = p
			}
		}
		strips, err := timeline.SubtitleStrips(tr, timeline.SubtitleOptions{
			FPS:         h.fps(r),
			Granularity: gran,
			Position:    pos,
			FontSize:    h.cfg.SubtitleFontSize,
		})
		if err != nil {
			writeExportError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"granularity": gran,
			"position":    pos,
			"strips":      strips,
		})
	default:
		WriteError(w, http.StatusBadRequest, "unknown format, want srt or json")
	}
}

func writeExportError(w http.ResponseWriter, err error) {
	if err == timeline.ErrNoWordsInTranscript {
		WriteError(w, http.StatusUnprocessableEntity, "transcript has no word timings")
		return
	}
	WriteErrorDetail(w, http.StatusInternalServerError, "export failed", err.Error())
}
