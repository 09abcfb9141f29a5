package protocol

import "errors"

var (
	// ErrChannelBusy is returned by Send while another command is still
	// outstanding. The runner handles one command at a time, so requests
	// are rejected rather than queued.
	ErrChannelBusy = errors.New("command channel busy")

	// ErrMalformedResponse marks a response that could not be parsed as
	// the expected JSON schema.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrModelLoadFailed marks a load-model command the runner rejected
	// (unknown model, download failure, out of memory).
	ErrModelLoadFailed = errors.New("model load failed")

	// ErrTranscriptionFailed marks a transcribe-audio command the runner
	// rejected (missing file, unsupported format, no model loaded).
	ErrTranscriptionFailed = errors.New("transcription failed")
)
