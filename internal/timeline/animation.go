// Package timeline turns a decoded transcript into timed placements for a
// host editing timeline: animation strips on a named track and subtitle
// text strips in a sequence editor. The package is a pure transform; the
// host (or the export API) decides what to do with the placements.
package timeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/transcript"
)

// ErrNoWordsInTranscript is returned when word-level export is requested
// but the transcript carries no word timings at all.
var ErrNoWordsInTranscript = errors.New("no words in transcript")

// Granularity selects whether exports emit one strip per word or per
// segment.
type Granularity string

const (
	GranularityWord    Granularity = "word"
	GranularitySegment Granularity = "segment"
)

// ParseGranularity maps a user-supplied string onto a Granularity.
// The empty string defaults to word-level, matching the interactive tool
// this grew out of.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(s) {
	case "", "word", "words":
		return GranularityWord, nil
	case "segment", "segments":
		return GranularitySegment, nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

const defaultTrack = "Transcript"

// Strip is one animation placement: a clip on a track spanning a frame
// range. Track is the speaker label when the transcript carries one, so
// downstream tools can group strips by speaker.
type Strip struct {
	Name       string  `json:"name"`
	Text       string  `json:"text"`
	Track      string  `json:"track"`
	StartFrame int     `json:"start_frame"`
	EndFrame   int     `json:"end_frame"`
	Score      float64 `json:"score,omitempty"`
}

// AnimationOptions control the animation-strip export.
type AnimationOptions struct {
	FPS         float64
	Granularity Granularity
}

// AnimationStrips flattens a transcript into ordered animation strips.
//
// Word mode emits one strip per word. Names encode confidence the way an
// animator skims a timeline: above 0.8 the name is uppercased, below 0.5
// it gets a trailing question mark. Segment mode emits one strip per
// segment using the segment text verbatim.
func AnimationStrips(t *transcript.Transcript, opts AnimationOptions) ([]Strip, error) {
	fps := opts.FPS
	if fps <= 0 {
		fps = 24
	}

	switch opts.Granularity {
	case GranularitySegment:
		strips := make([]Strip, 0, len(t.Segments))
		for _, seg := range t.Segments {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			start, end := frameSpan(seg.Start, seg.End, fps)
			strips = append(strips, Strip{
				Name:       text,
				Text:       text,
				Track:      trackFor(seg.Speaker),
				StartFrame: start,
				EndFrame:   end,
			})
		}
		return strips, nil

	case GranularityWord, "":
		words := t.Words()
		if len(words) == 0 {
			return nil, ErrNoWordsInTranscript
		}
		strips := make([]Strip, 0, len(words))
		for _, w := range words {
			text := strings.TrimSpace(w.Text)
			if text == "" {
				continue
			}
			end := w.End
			if end <= w.Start {
				end = w.Start + 0.5
			}
			start, endFrame := frameSpan(w.Start, end, fps)
			s := Strip{
				Name:       text,
				Text:       text,
				Track:      trackFor(w.Speaker),
				StartFrame: start,
				EndFrame:   endFrame,
			}
			if w.Score != nil {
				s.Score = *w.Score
				if *w.Score > 0.8 {
					s.Name = strings.ToUpper(text)
				} else if *w.Score < 0.5 {
					s.Name = text + "?"
				}
			}
			strips = append(strips, s)
		}
		return strips, nil
	}
	return nil, fmt.Errorf("unknown granularity %q", opts.Granularity)
}

func trackFor(speaker string) string {
	if speaker != "" {
		return speaker
	}
	return defaultTrack
}

// frameSpan converts a time span in seconds to a 1-based frame span at
// least one frame long. Frame numbering starts at 1, not 0.
func frameSpan(start, end, fps float64) (int, int) {
	startFrame := int(start*fps) + 1
	endFrame := int(end*fps) + 1
	if endFrame <= startFrame {
		endFrame = startFrame + 1
	}
	return startFrame, endFrame
}
