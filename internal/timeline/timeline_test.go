package timeline

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/transcript"
)

func score(v float64) *float64 { return &v }

func sampleTranscript() *transcript.Transcript {
	return &transcript.Transcript{
		Text:     "Hello there world. How are you",
		Language: "en",
		Segments: []transcript.Segment{
			{
				Start: 0, End: 1.8, Text: "Hello there world.",
				Words: []transcript.Word{
					{Text: "Hello", Start: 0, End: 0.4, Score: score(0.95)},
					{Text: "there", Start: 0.5, End: 0.9, Score: score(0.3)},
					{Text: "world.", Start: 1.0, End: 1.7, Score: score(0.6)},
				},
			},
			{
				Start: 2.0, End: 3.5, Text: "How are you", Speaker: "SPEAKER_01",
				Words: []transcript.Word{
					{Text: "How", Start: 2.0, End: 2.3, Speaker: "SPEAKER_01"},
					{Text: "are you", Start: 2.4, End: 3.1, Speaker: "SPEAKER_01"},
				},
			},
		},
	}
}

func TestAnimationStrips_WordMode(t *testing.T) {
	strips, err := AnimationStrips(sampleTranscript(), AnimationOptions{FPS: 24, Granularity: GranularityWord})
	if err != nil {
		t.Fatalf("AnimationStrips() error = %v", err)
	}
	if len(strips) != 5 {
		t.Fatalf("len(strips) = %d, want 5", len(strips))
	}

	// High confidence uppercases, low confidence flags with "?", the
	// rest keep the raw token.
	wantNames := []string{"HELLO", "there?", "world.", "How", "are you"}
	for i, want := range wantNames {
		if strips[i].Name != want {
			t.Errorf("strips[%d].Name = %q, want %q", i, strips[i].Name, want)
		}
	}

	if strips[0].StartFrame != 1 {
		t.Errorf("strips[0].StartFrame = %d, want 1", strips[0].StartFrame)
	}
	if strips[0].EndFrame != 10 { // 0.4s * 24fps, truncated, +1
		t.Errorf("strips[0].EndFrame = %d, want 10", strips[0].EndFrame)
	}

	if strips[0].Track != "Transcript" {
		t.Errorf("strips[0].Track = %q, want Transcript", strips[0].Track)
	}
	if strips[3].Track != "SPEAKER_01" {
		t.Errorf("strips[3].Track = %q, want SPEAKER_01", strips[3].Track)
	}
}

func TestAnimationStrips_SegmentMode(t *testing.T) {
	strips, err := AnimationStrips(sampleTranscript(), AnimationOptions{FPS: 24, Granularity: GranularitySegment})
	if err != nil {
		t.Fatalf("AnimationStrips() error = %v", err)
	}
	if len(strips) != 2 {
		t.Fatalf("len(strips) = %d, want 2", len(strips))
	}
	if strips[0].Text != "Hello there world." {
		t.Errorf("strips[0].Text = %q", strips[0].Text)
	}
	if strips[1].Track != "SPEAKER_01" {
		t.Errorf("strips[1].Track = %q, want SPEAKER_01", strips[1].Track)
	}
	if strips[1].StartFrame != 49 { // 2.0s * 24fps + 1
		t.Errorf("strips[1].StartFrame = %d, want 49", strips[1].StartFrame)
	}
}

func TestAnimationStrips_NoWords(t *testing.T) {
	tr := &transcript.Transcript{
		Segments: []transcript.Segment{{Start: 0, End: 1, Text: "silence"}},
	}
	if _, err := AnimationStrips(tr, AnimationOptions{Granularity: GranularityWord}); !errors.Is(err, ErrNoWordsInTranscript) {
		t.Errorf("AnimationStrips() error = %v, want ErrNoWordsInTranscript", err)
	}
	// Segment mode does not need word timings.
	strips, err := AnimationStrips(tr, AnimationOptions{Granularity: GranularitySegment})
	if err != nil || len(strips) != 1 {
		t.Errorf("segment mode = (%v, %v), want 1 strip", strips, err)
	}
}

func TestAnimationStrips_ZeroLengthWord(t *testing.T) {
	tr := &transcript.Transcript{
		Segments: []transcript.Segment{{
			Start: 0, End: 2,
			Words: []transcript.Word{{Text: "hm", Start: 1.0, End: 1.0}},
		}},
	}
	strips, err := AnimationStrips(tr, AnimationOptions{FPS: 24})
	if err != nil {
		t.Fatalf("AnimationStrips() error = %v", err)
	}
	if strips[0].EndFrame <= strips[0].StartFrame {
		t.Errorf("strip span = [%d, %d], want at least one frame",
			strips[0].StartFrame, strips[0].EndFrame)
	}
}

func TestFrameSpan(t *testing.T) {
	tests := []struct {
		start, end, fps    float64
		wantStart, wantEnd int
	}{
		{0, 0.4, 24, 1, 10},
		{0, 0, 24, 1, 2},
		{2.0, 3.5, 24, 49, 85},
		{0.5, 0.9, 30, 16, 28},
		{1.0, 1.01, 24, 25, 26},
	}
	for _, tt := range tests {
		start, end := frameSpan(tt.start, tt.end, tt.fps)
		if start != tt.wantStart || end != tt.wantEnd {
			t.Errorf("frameSpan(%v, %v, %v) = (%d, %d), want (%d, %d)",
				tt.start, tt.end, tt.fps, start, end, tt.wantStart, tt.wantEnd)
		}
	}
}

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		in      string
		want    Granularity
		wantErr bool
	}{
		{"", GranularityWord, false},
		{"word", GranularityWord, false},
		{"Segments", GranularitySegment, false},
		{"sentence", "", true},
	}
	for _, tt := range tests {
		got, err := ParseGranularity(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseGranularity(%q) = (%q, %v), want (%q, err=%v)",
				tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestSubtitleStrips_Positions(t *testing.T) {
	tests := []struct {
		pos   Position
		wantY float64
	}{
		{PositionTop, 0.9},
		{PositionCenter, 0.5},
		{PositionBottom, 0.1},
	}
	for _, tt := range tests {
		strips, err := SubtitleStrips(sampleTranscript(), SubtitleOptions{
			FPS: 24, Granularity: GranularitySegment, Position: tt.pos,
		})
		if err != nil {
			t.Fatalf("SubtitleStrips(%s) error = %v", tt.pos, err)
		}
		for _, s := range strips {
			if s.Location != [2]float64{0.5, tt.wantY} {
				t.Errorf("position %s: Location = %v, want [0.5 %v]", tt.pos, s.Location, tt.wantY)
			}
		}
	}
}

func TestSubtitleStrips_WordMode(t *testing.T) {
	strips, err := SubtitleStrips(sampleTranscript(), SubtitleOptions{FPS: 24})
	if err != nil {
		t.Fatalf("SubtitleStrips() error = %v", err)
	}
	if len(strips) != 5 {
		t.Fatalf("len(strips) = %d, want 5", len(strips))
	}
	for i, s := range strips {
		if s.Channel != 2 {
			t.Errorf("strips[%d].Channel = %d, want 2", i, s.Channel)
		}
		if s.FontSize != 70 {
			t.Errorf("strips[%d].FontSize = %d, want 70", i, s.FontSize)
		}
	}
	if strips[0].Name != "Sub_000_Hello" {
		t.Errorf("strips[0].Name = %q, want Sub_000_Hello", strips[0].Name)
	}
}

func TestSubtitleStrips_NameTruncation(t *testing.T) {
	tr := &transcript.Transcript{
		Segments: []transcript.Segment{{
			Start: 0, End: 1, Text: "a considerably longer segment",
		}},
	}
	strips, err := SubtitleStrips(tr, SubtitleOptions{Granularity: GranularitySegment})
	if err != nil {
		t.Fatalf("SubtitleStrips() error = %v", err)
	}
	if strips[0].Name != "Sub_000_a consider" {
		t.Errorf("strips[0].Name = %q, want Sub_000_a consider", strips[0].Name)
	}
}

func TestSubtitleStrips_NoWords(t *testing.T) {
	tr := &transcript.Transcript{
		Segments: []transcript.Segment{{Start: 0, End: 1, Text: "only text"}},
	}
	if _, err := SubtitleStrips(tr, SubtitleOptions{Granularity: GranularityWord}); !errors.Is(err, ErrNoWordsInTranscript) {
		t.Errorf("SubtitleStrips() error = %v, want ErrNoWordsInTranscript", err)
	}
}

func TestWriteSRT(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSRT(&buf, sampleTranscript()); err != nil {
		t.Fatalf("WriteSRT() error = %v", err)
	}
	want := "1\n" +
		"00:00:00,000 --> 00:00:01,800\n" +
		"Hello there world.\n\n" +
		"2\n" +
		"00:00:02,000 --> 00:00:03,500\n" +
		"[SPEAKER_01] How are you\n\n"
	if buf.String() != want {
		t.Errorf("WriteSRT() =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestSRTTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00,000"},
		{1.8, "00:00:01,800"},
		{61.25, "00:01:01,250"},
		{3661.5, "01:01:01,500"},
		{-5, "00:00:00,000"},
	}
	for _, tt := range tests {
		if got := srtTimestamp(tt.seconds); got != tt.want {
			t.Errorf("srtTimestamp(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestWriteSRT_SkipsEmptySegments(t *testing.T) {
	tr := &transcript.Transcript{
		Segments: []transcript.Segment{
			{Start: 0, End: 1, Text: "  "},
			{Start: 1, End: 2, Text: "kept"},
		},
	}
	var buf bytes.Buffer
	if err := WriteSRT(&buf, tr); err != nil {
		t.Fatalf("WriteSRT() error = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "1\n") || !strings.Contains(buf.String(), "kept") {
		t.Errorf("WriteSRT() = %q, want single cue numbered 1", buf.String())
	}
	if strings.Contains(buf.String(), "2\n00:") {
		t.Errorf("WriteSRT() emitted a cue for the blank segment")
	}
}
