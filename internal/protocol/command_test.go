package protocol

import "testing"

func TestCommandEncode(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"load model", LoadModel("tiny"), "load-model(tiny)\n"},
		{"load model en variant", LoadModel("large-v3"), "load-model(large-v3)\n"},
		{"transcribe diarized", TranscribeAudio("/a.wav", true), "transcribe-audio(\"/a.wav\", True)\n"},
		{"transcribe plain", TranscribeAudio("/tmp/take 3.mp3", false), "transcribe-audio(\"/tmp/take 3.mp3\", False)\n"},
		{"windows path normalized", TranscribeAudio(`C:\clips\take.wav`, false), "transcribe-audio(\"C:/clips/take.wav\", False)\n"},
		{"exit", Exit(), "exit()\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.Encode(); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandVerb(t *testing.T) {
	if v := TranscribeAudio("/a.wav", true).Verb(); v != VerbTranscribe {
		t.Errorf("Verb() = %q, want %q", v, VerbTranscribe)
	}
	if v := Exit().Verb(); v != VerbExit {
		t.Errorf("Verb() = %q, want %q", v, VerbExit)
	}
}
