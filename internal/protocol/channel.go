package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Response is the raw outcome of one command. The channel does not
// interpret captured JSON beyond checking it parses; deserialization into
// the transcript model happens in the controller.
type Response struct {
	Raw   []byte // captured JSON payload, nil on failure
	Model string // loaded model name, set for load-model success
	Err   error
}

// Pending tracks one in-flight command. The reader goroutine completes it;
// Poll never blocks.
type Pending struct {
	cmd       Command
	issued    time.Time
	done      chan Response
	discarded atomic.Bool
}

// Command returns the command this pending belongs to.
func (p *Pending) Command() Command { return p.cmd }

// IssuedAt returns the time the command was written.
func (p *Pending) IssuedAt() time.Time { return p.issued }

// Poll reports whether the response has arrived, without blocking.
func (p *Pending) Poll() (Response, bool) {
	select {
	case r := <-p.done:
		return r, true
	default:
		return Response{}, false
	}
}

// Discard marks the pending as abandoned host-side. The runner call is not
// interrupted; its eventual response is dropped when it arrives.
func (p *Pending) Discard() { p.discarded.Store(true) }

// Discarded reports whether the pending was abandoned.
func (p *Pending) Discarded() bool { return p.discarded.Load() }

// LineKind classifies one line of runner output.
type LineKind int

const (
	LineLog LineKind = iota
	LineProgress
	LineReady
	LineModelLoaded
	LineError
	LineResponse
)

// LineEvent is the classification result for one consumed line.
type LineEvent struct {
	Kind     LineKind
	Text     string
	Progress int    // valid for LineProgress
	Model    string // valid for LineModelLoaded
}

// Channel serializes commands onto the runner's stdin and assembles its
// stdout lines into responses. At most one command may be outstanding;
// Send rejects a second with ErrChannelBusy instead of queuing, because
// the runner is single-threaded and interleaved commands would deadlock.
type Channel struct {
	w   io.Writer
	log zerolog.Logger

	mu      sync.Mutex
	pending *Pending

	// JSON capture state, touched only by the reader goroutine via Consume.
	capturing bool
	buf       []string
}

// NewChannel wraps the runner's stdin writer.
func NewChannel(w io.Writer, log zerolog.Logger) *Channel {
	return &Channel{w: w, log: log}
}

// Send encodes and writes a command. For exit no response is tracked and
// an existing pending is not considered, since shutdown must always be
// deliverable. For all other verbs it returns the Pending to poll, or
// ErrChannelBusy when one is already outstanding.
func (ch *Channel) Send(cmd Command) (*Pending, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if cmd.Verb() == VerbExit {
		if _, err := io.WriteString(ch.w, cmd.Encode()); err != nil {
			return nil, fmt.Errorf("write exit: %w", err)
		}
		return nil, nil
	}

	if ch.pending != nil {
		return nil, ErrChannelBusy
	}
	if _, err := io.WriteString(ch.w, cmd.Encode()); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}
	p := &Pending{cmd: cmd, issued: time.Now(), done: make(chan Response, 1)}
	ch.pending = p
	return p, nil
}

// Busy reports whether a command is outstanding.
func (ch *Channel) Busy() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.pending != nil
}

// Fail invalidates the outstanding command, if any, completing it with
// err. Called on process exit, explicit stop, and timeout so that
// late-arriving output is never misattributed to a later command.
func (ch *Channel) Fail(err error) {
	ch.complete(Response{Err: err})
}

// Matches both the fresh-load and already-loaded success lines.
var modelLoadedRe = regexp.MustCompile(`Model '([^']+)' (?:fully loaded|is already loaded)`)

// Consume classifies one line of runner output, advancing the JSON capture
// state machine and completing the outstanding command when a response or
// error marker arrives. It is driven by the process manager's reader
// goroutine.
func (ch *Channel) Consume(line string) LineEvent {
	line = strings.TrimRight(line, "\r\n")

	// The runner frames its transcript JSON between lines of 60 '='.
	// (Its startup banner uses 50, which must not toggle capture.)
	if isJSONDelimiter(line) {
		if ch.capturing {
			ch.capturing = false
			raw := []byte(strings.Join(ch.buf, "\n"))
			ch.buf = nil
			ch.deliverJSON(raw)
			return LineEvent{Kind: LineResponse, Text: string(raw)}
		}
		ch.capturing = true
		ch.buf = nil
		return LineEvent{Kind: LineLog, Text: line}
	}
	if ch.capturing {
		ch.buf = append(ch.buf, line)
		return LineEvent{Kind: LineLog, Text: line}
	}

	trimmed := strings.TrimSpace(line)

	// Unframed single-line JSON response.
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		ch.deliverJSON([]byte(trimmed))
		return LineEvent{Kind: LineResponse, Text: trimmed}
	}

	if strings.HasPrefix(trimmed, "progress=") {
		n, err := strconv.Atoi(strings.TrimPrefix(trimmed, "progress="))
		if err == nil {
			return LineEvent{Kind: LineProgress, Text: trimmed, Progress: n}
		}
	}

	if strings.Contains(line, "Environment setup complete") {
		return LineEvent{Kind: LineReady, Text: line}
	}

	if m := modelLoadedRe.FindStringSubmatch(line); m != nil {
		ch.complete(Response{Model: m[1]})
		return LineEvent{Kind: LineModelLoaded, Text: line, Model: m[1]}
	}

	if err := classifyErrorLine(line); err != nil {
		ch.complete(Response{Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(line))})
		return LineEvent{Kind: LineError, Text: line}
	}

	return LineEvent{Kind: LineLog, Text: line}
}

// deliverJSON completes the outstanding command with captured JSON, or
// with ErrMalformedResponse when the payload fails to parse.
func (ch *Channel) deliverJSON(raw []byte) {
	if !json.Valid(raw) {
		ch.complete(Response{Err: fmt.Errorf("%w: invalid JSON (%d bytes)", ErrMalformedResponse, len(raw))})
		return
	}
	ch.complete(Response{Raw: raw})
}

func (ch *Channel) complete(resp Response) {
	ch.mu.Lock()
	p := ch.pending
	ch.pending = nil
	ch.mu.Unlock()

	if p == nil {
		if resp.Err == nil && resp.Raw != nil {
			ch.log.Debug().Int("bytes", len(resp.Raw)).Msg("response with no pending command, dropped")
		}
		return
	}
	if p.Discarded() {
		ch.log.Debug().Str("verb", string(p.cmd.Verb())).Msg("response for cancelled command")
	}
	p.done <- resp
}

func isJSONDelimiter(line string) bool {
	return len(line) >= 60 && strings.Trim(line, "=") == ""
}

// classifyErrorLine maps known runner error markers to error kinds.
// Model/memory/file problems need user intervention, so these are surfaced
// without retry.
func classifyErrorLine(line string) error {
	switch {
	case strings.Contains(line, "Error loading model"),
		strings.Contains(line, "Error: Model '"):
		return ErrModelLoadFailed
	case strings.Contains(line, "Error: No model loaded"),
		strings.Contains(line, "Error: Audio file not found"),
		strings.Contains(line, "Error: Permission denied accessing"),
		strings.Contains(line, "Error transcribing audio"):
		return ErrTranscriptionFailed
	default:
		return nil
	}
}
