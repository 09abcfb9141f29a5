package timeline

import (
	"fmt"
	"strings"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/transcript"
)

// Position is a vertical anchor for subtitle text in the frame.
type Position string

const (
	PositionTop    Position = "top"
	PositionCenter Position = "center"
	PositionBottom Position = "bottom"
)

// ParsePosition maps a user-supplied string onto a Position. The empty
// string defaults to bottom.
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(s) {
	case "", "bottom":
		return PositionBottom, nil
	case "center":
		return PositionCenter, nil
	case "top":
		return PositionTop, nil
	}
	return "", fmt.Errorf("unknown position %q", s)
}

// Location returns the normalized [x, y] placement for the position,
// with (0, 0) at the bottom left of the frame.
func (p Position) Location() [2]float64 {
	switch p {
	case PositionTop:
		return [2]float64{0.5, 0.9}
	case PositionCenter:
		return [2]float64{0.5, 0.5}
	default:
		return [2]float64{0.5, 0.1}
	}
}

const subtitlePrefix = "Sub_"

// TextStrip is one subtitle placement in a sequence editor. All strips
// from a single export share one channel so they never stack.
type TextStrip struct {
	Name       string     `json:"name"`
	Text       string     `json:"text"`
	Channel    int        `json:"channel"`
	StartFrame int        `json:"start_frame"`
	EndFrame   int        `json:"end_frame"`
	Location   [2]float64 `json:"location"`
	FontSize   int        `json:"font_size"`
}

// SubtitleOptions control the subtitle-strip export.
type SubtitleOptions struct {
	FPS         float64
	Granularity Granularity
	Position    Position
	FontSize    int
	Channel     int
}

// SubtitleStrips lays out one text strip per word or per segment, all on
// the same channel, positioned per opts.
func SubtitleStrips(t *transcript.Transcript, opts SubtitleOptions) ([]TextStrip, error) {
	fps := opts.FPS
	if fps <= 0 {
		fps = 24
	}
	size := opts.FontSize
	if size <= 0 {
		size = 70
	}
	channel := opts.Channel
	if channel <= 0 {
		channel = 2
	}
	loc := opts.Position.Location()

	type span struct {
		text       string
		start, end float64
	}
	var spans []span
	switch opts.Granularity {
	case GranularitySegment:
		for _, seg := range t.Segments {
			spans = append(spans, span{seg.Text, seg.Start, seg.End})
		}
	case GranularityWord, "":
		words := t.Words()
		if len(words) == 0 {
			return nil, ErrNoWordsInTranscript
		}
		for _, w := range words {
			spans = append(spans, span{w.Text, w.Start, w.End})
		}
	default:
		return nil, fmt.Errorf("unknown granularity %q", opts.Granularity)
	}

	strips := make([]TextStrip, 0, len(spans))
	for i, sp := range spans {
		text := strings.TrimSpace(sp.text)
		if text == "" {
			continue
		}
		start, end := frameSpan(sp.start, sp.end, fps)
		strips = append(strips, TextStrip{
			Name:       stripName(i, text),
			Text:       text,
			Channel:    channel,
			StartFrame: start,
			EndFrame:   end,
			Location:   loc,
			FontSize:   size,
		})
	}
	return strips, nil
}

// stripName builds a stable, sortable strip name carrying the leading
// characters of the text for quick identification in the editor.
func stripName(index int, text string) string {
	head := text
	if len(head) > 10 {
		head = head[:10]
	}
	return fmt.Sprintf("%s%03d_%s", subtitlePrefix, index, head)
}
