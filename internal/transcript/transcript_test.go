package transcript

import (
	"fmt"
	"math/rand"
	"testing"
)

const cannedJSON = `{
  "transcript": "Hello there world. How are you",
  "language": "en",
  "model_used": "tiny.en",
  "audio_duration": 4.5,
  "processing_time": 1.2,
  "segments": [
    {"start": 0.0, "end": 1.8, "text": "Hello there world.", "words": [
      {"word": "Hello", "start": 0.0, "end": 0.4, "score": 0.95},
      {"word": "there", "start": 0.5, "end": 0.9, "score": 0.91},
      {"word": "world.", "start": 1.0, "end": 1.7, "score": 0.88}
    ]},
    {"start": 2.0, "end": 3.5, "text": "How are you", "speaker": "SPEAKER_01", "words": [
      {"word": "How", "start": 2.0, "end": 2.3, "speaker": "SPEAKER_01"},
      {"word": "are you", "start": 2.4, "end": 3.1, "speaker": "SPEAKER_01"}
    ]}
  ]
}`

func TestDecode_CannedResponse(t *testing.T) {
	tr, err := Decode([]byte(cannedJSON))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if len(tr.Segments) != 2 {
		t.Errorf("segments = %d, want 2", len(tr.Segments))
	}
	if tr.WordCount() != 5 {
		t.Errorf("WordCount = %d, want 5", tr.WordCount())
	}
	if tr.Language != "en" {
		t.Errorf("Language = %q, want %q", tr.Language, "en")
	}
	if tr.Model != "tiny.en" {
		t.Errorf("Model = %q, want %q", tr.Model, "tiny.en")
	}
	if tr.Segments[1].Speaker != "SPEAKER_01" {
		t.Errorf("segment 1 speaker = %q, want SPEAKER_01", tr.Segments[1].Speaker)
	}
	if tr.Duration() != 3.5 {
		t.Errorf("Duration = %f, want 3.5", tr.Duration())
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `progress=50`},
		{"missing segments", `{"language":"en"}`},
		{"word overlap", `{"language":"en","segments":[{"start":0,"end":2,"text":"a b","words":[{"word":"a","start":0,"end":1.2},{"word":"b","start":1.0,"end":2.0}]}]}`},
		{"word starts decreasing", `{"language":"en","segments":[{"start":0,"end":2,"text":"a b","words":[{"word":"a","start":1.0,"end":1.2},{"word":"b","start":0.5,"end":0.9}]}]}`},
		{"segment end before start", `{"language":"en","segments":[{"start":2,"end":1,"text":"x","words":[]}]}`},
		{"segments out of order", `{"language":"en","segments":[{"start":5,"end":6,"text":"x","words":[]},{"start":1,"end":2,"text":"y","words":[]}]}`},
		{"word past segment end", `{"language":"en","segments":[{"start":0,"end":1,"text":"a","words":[{"word":"a","start":0,"end":1.5}]}]}`},
		{"word end before start", `{"language":"en","segments":[{"start":0,"end":2,"text":"a","words":[{"word":"a","start":1.0,"end":0.5}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.json)); err == nil {
				t.Errorf("Decode(%s) succeeded, want error", tt.name)
			}
		})
	}
}

func TestDecode_EmptySegments(t *testing.T) {
	tr, err := Decode([]byte(`{"language":"en","segments":[]}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if tr.WordCount() != 0 {
		t.Errorf("WordCount = %d, want 0", tr.WordCount())
	}
	if tr.Duration() != 0 {
		t.Errorf("Duration = %f, want 0", tr.Duration())
	}
}

func TestWords_Flatten(t *testing.T) {
	tr, err := Decode([]byte(cannedJSON))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	words := tr.Words()
	if len(words) != 5 {
		t.Fatalf("len(Words) = %d, want 5", len(words))
	}
	if words[0].Text != "Hello" || words[4].Text != "are you" {
		t.Errorf("flattened order wrong: first=%q last=%q", words[0].Text, words[4].Text)
	}
}

// generateTranscript builds a random well-formed transcript: monotone word
// spans with gaps, segments covering their words.
func generateTranscript(rng *rand.Rand) *Transcript {
	tr := &Transcript{Language: "en"}
	cursor := 0.0
	nSegs := 1 + rng.Intn(5)
	for s := 0; s < nSegs; s++ {
		seg := Segment{Start: cursor}
		nWords := 1 + rng.Intn(8)
		for w := 0; w < nWords; w++ {
			start := cursor
			end := start + 0.1 + rng.Float64()*0.5
			seg.Words = append(seg.Words, Word{
				Text:  fmt.Sprintf("w%d_%d", s, w),
				Start: start,
				End:   end,
			})
			cursor = end + rng.Float64()*0.2
		}
		seg.End = seg.Words[len(seg.Words)-1].End
		seg.Text = "segment"
		tr.Segments = append(tr.Segments, seg)
	}
	return tr
}

func TestValidate_GeneratedTranscripts(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		tr := generateTranscript(rng)
		if err := tr.Validate(); err != nil {
			t.Fatalf("iteration %d: well-formed transcript rejected: %v", i, err)
		}

		// Perturb one word pair to overlap; Validate must reject it.
		for _, seg := range tr.Segments {
			if len(seg.Words) >= 2 {
				seg.Words[1].Start = seg.Words[0].End - 0.05
				seg.Words[1].End = seg.Words[1].Start + 0.3
				if err := tr.Validate(); err == nil {
					t.Fatalf("iteration %d: overlapping words accepted", i)
				}
				break
			}
		}
	}
}
