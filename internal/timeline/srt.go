package timeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/transcript"
)

// WriteSRT renders the transcript as SubRip text, one cue per segment.
// Segments with a speaker label get the label prefixed in brackets so
// diarized transcripts stay readable in plain players.
func WriteSRT(w io.Writer, t *transcript.Transcript) error {
	cue := 0
	for _, seg := range t.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.Speaker != "" {
			text = fmt.Sprintf("[%s] %s", seg.Speaker, text)
		}
		cue++
		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			cue, srtTimestamp(seg.Start), srtTimestamp(seg.End), text)
		if err != nil {
			return err
		}
	}
	return nil
}

// srtTimestamp formats seconds as the SubRip HH:MM:SS,mmm form.
func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ms := (d - s*time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
