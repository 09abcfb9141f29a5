// Package transcript holds the typed result of a WhisperX transcription
// run. The runner emits loosely-typed JSON; Decode converts it into the
// strict model here and rejects anything that fails structural checks, so
// untyped data never travels further into the host.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Word is a single timed token from the aligner.
type Word struct {
	Text    string   `json:"word"`
	Start   float64  `json:"start"`
	End     float64  `json:"end"`
	Score   *float64 `json:"score,omitempty"`
	Speaker string   `json:"speaker,omitempty"`
}

// Segment is a contiguous span of transcript text with one timing range.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
	Words   []Word  `json:"words"`
}

// Transcript is a full transcription result. Besides the segments the
// runner includes a few summary fields (joined text, model, timings) which
// are kept for display but carry no timing semantics.
type Transcript struct {
	Text           string    `json:"transcript,omitempty"`
	Language       string    `json:"language"`
	Model          string    `json:"model_used,omitempty"`
	AudioDuration  float64   `json:"audio_duration,omitempty"`
	ProcessingTime float64   `json:"processing_time,omitempty"`
	Segments       []Segment `json:"segments"`
}

// Decode parses runner JSON into a Transcript and validates the timing
// invariants. Any failure means the payload cannot be trusted as a
// transcription result.
func Decode(data []byte) (*Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if t.Segments == nil {
		return nil, errors.New("transcript missing segments array")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the ordering invariants: segments sorted by start time,
// word starts non-decreasing within a segment, no word overlap, and each
// segment covering its last word.
func (t *Transcript) Validate() error {
	prevSegStart := -1.0
	for i, seg := range t.Segments {
		if seg.End < seg.Start {
			return fmt.Errorf("segment %d: end %.3f before start %.3f", i, seg.End, seg.Start)
		}
		if seg.Start < prevSegStart {
			return fmt.Errorf("segment %d: start %.3f precedes previous segment start %.3f", i, seg.Start, prevSegStart)
		}
		prevSegStart = seg.Start

		for j, w := range seg.Words {
			if w.End < w.Start {
				return fmt.Errorf("segment %d word %d (%q): end %.3f before start %.3f", i, j, w.Text, w.End, w.Start)
			}
			if j > 0 {
				prev := seg.Words[j-1]
				if w.Start < prev.Start {
					return fmt.Errorf("segment %d word %d (%q): start %.3f precedes previous word start %.3f", i, j, w.Text, w.Start, prev.Start)
				}
				if prev.End > w.Start {
					return fmt.Errorf("segment %d word %d (%q): overlaps previous word ending at %.3f", i, j, w.Text, prev.End)
				}
			}
		}
		if n := len(seg.Words); n > 0 && seg.Words[n-1].End > seg.End {
			return fmt.Errorf("segment %d: last word ends at %.3f past segment end %.3f", i, seg.Words[n-1].End, seg.End)
		}
	}
	return nil
}

// Words flattens all word tokens across segments in timeline order.
func (t *Transcript) Words() []Word {
	var words []Word
	for _, seg := range t.Segments {
		words = append(words, seg.Words...)
	}
	return words
}

// WordCount returns the total number of word tokens.
func (t *Transcript) WordCount() int {
	n := 0
	for _, seg := range t.Segments {
		n += len(seg.Words)
	}
	return n
}

// Duration returns the end time of the last segment, in seconds.
func (t *Transcript) Duration() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].End
}
