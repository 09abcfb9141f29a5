// Package service owns the lifecycle of the external WhisperX runner
// process: spawn with piped stdio, handshake, graceful stop, liveness, and
// crash detection. The Manager also owns the session ServiceState and the
// protocol Channel bound to the live process.
package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/metrics"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/protocol"
)

// Options configures the process manager.
type Options struct {
	ScriptPath      string
	Interpreter     string   // e.g. "python3"
	InterpreterArgs []string // extra args before the script, e.g. ["-u"]

	HandshakeTimeout time.Duration
	StopGrace        time.Duration

	// OnLine receives every classified line of runner output.
	OnLine func(protocol.LineEvent)
	// OnStateChange receives every ServiceState transition.
	OnStateChange func(State)

	Log zerolog.Logger
}

// Manager supervises at most one runner process per session.
type Manager struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	channel *protocol.Channel
	exited  chan struct{} // closed when the current process has exited

	restarts atomic.Int64
}

// NewManager creates a manager in the NotStarted state.
func NewManager(opts Options) *Manager {
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Minute
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	return &Manager{
		opts:  opts,
		log:   opts.Log,
		state: StateNotStarted,
	}
}

// Start spawns the runner with piped stdin/stdout (stderr merged into
// stdout, matching the runner's own framing). It returns once the process
// is launched; the Starting→Ready transition happens when the handshake
// line arrives, or the state becomes Error when the handshake times out.
// Calling Start on a live process is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runningLocked() {
		return nil
	}

	if _, err := os.Stat(m.opts.ScriptPath); err != nil {
		m.setStateLocked(StateError)
		return fmt.Errorf("%w: %s", ErrScriptNotFound, m.opts.ScriptPath)
	}

	args := append(append([]string{}, m.opts.InterpreterArgs...), m.opts.ScriptPath)
	cmd := exec.Command(m.opts.Interpreter, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		m.setStateLocked(StateError)
		return fmt.Errorf("%w: stdin pipe: %v", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		m.setStateLocked(StateError)
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		m.setStateLocked(StateError)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	m.cmd = cmd
	m.stdin = stdin
	m.channel = protocol.NewChannel(stdin, m.log)
	m.exited = make(chan struct{})
	m.setStateLocked(StateStarting)

	m.log.Info().
		Str("interpreter", m.opts.Interpreter).
		Str("script", m.opts.ScriptPath).
		Int("pid", cmd.Process.Pid).
		Msg("runner started")

	go m.readLoop(cmd, stdout, m.channel, m.exited)
	go m.handshakeTimer(ctx, m.exited)

	return nil
}

// Stop shuts the runner down: invalidate any pending command, send exit(),
// wait up to the grace period, escalate to SIGTERM and then SIGKILL.
// Idempotent: stopping a stopped service is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.runningLocked() {
		m.mu.Unlock()
		return
	}
	cmd := m.cmd
	ch := m.channel
	stdin := m.stdin
	exited := m.exited
	m.setStateLocked(StateStopped)
	m.mu.Unlock()

	// Pending first, so late output is never misattributed.
	ch.Fail(ErrServiceStopped)

	if _, err := ch.Send(protocol.Exit()); err != nil {
		m.log.Debug().Err(err).Msg("exit command not delivered")
	}
	stdin.Close()

	select {
	case <-exited:
		m.log.Info().Msg("runner exited gracefully")
		return
	case <-time.After(m.opts.StopGrace):
	}

	m.log.Warn().Msg("runner did not exit in grace period, sending SIGTERM")
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-exited:
		return
	case <-time.After(2 * time.Second):
	}

	m.log.Warn().Msg("runner ignored SIGTERM, killing")
	_ = cmd.Process.Kill()
	<-exited
}

// Restart stops any live process and starts a fresh one.
func (m *Manager) Restart(ctx context.Context) error {
	m.Stop()
	m.mu.Lock()
	m.setStateLocked(StateNotStarted)
	m.mu.Unlock()
	m.restarts.Add(1)
	metrics.ServiceRestartsTotal.Inc()
	return m.Start(ctx)
}

// Alive reports whether the runner process is running, without blocking.
func (m *Manager) Alive() bool {
	m.mu.Lock()
	cmd, exited := m.cmd, m.exited
	m.mu.Unlock()
	if cmd == nil || exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

// State returns the current ServiceState.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetState transitions the session state. Used by the controller to mark
// command phases (ModelLoading, Transcribing, back to ModelLoaded).
func (m *Manager) SetState(s State) {
	m.mu.Lock()
	m.setStateLocked(s)
	m.mu.Unlock()
}

// Channel returns the command channel of the live process, or nil when the
// runner is not running.
func (m *Manager) Channel() *protocol.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

// Restarts returns the number of restarts performed this session.
func (m *Manager) Restarts() int64 { return m.restarts.Load() }

func (m *Manager) runningLocked() bool {
	if m.cmd == nil || m.exited == nil {
		return false
	}
	select {
	case <-m.exited:
		return false
	default:
		return true
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	old := m.state
	m.state = s
	m.log.Info().Str("from", old.String()).Str("to", s.String()).Msg("service state changed")
	metrics.ServiceStateGauge.Set(float64(s))
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(s)
	}
}

// readLoop consumes merged stdout/stderr line by line, feeding the channel
// classifier, until the process exits. On an unexpected exit it marks the
// state Error and fails the pending command with ErrServiceCrashed.
func (m *Manager) readLoop(cmd *exec.Cmd, r io.Reader, ch *protocol.Channel, exited chan struct{}) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		ev := ch.Consume(scanner.Text())
		m.dispatch(ev)
	}

	err := cmd.Wait()
	close(exited)

	m.mu.Lock()
	expected := m.state == StateStopped
	if !expected {
		m.setStateLocked(StateError)
	}
	m.cmd = nil
	m.stdin = nil
	m.channel = nil
	m.mu.Unlock()

	if expected {
		return
	}
	m.log.Error().Err(err).Msg("runner exited unexpectedly")
	ch.Fail(fmt.Errorf("%w: %v", ErrServiceCrashed, exitReason(err)))
}

func (m *Manager) dispatch(ev protocol.LineEvent) {
	if ev.Kind == protocol.LineReady {
		m.mu.Lock()
		if m.state == StateStarting {
			m.setStateLocked(StateReady)
		}
		m.mu.Unlock()
	}
	if m.opts.OnLine != nil {
		m.opts.OnLine(ev)
	}
}

// handshakeTimer kills the process if no ready line arrives in time while
// the state is still Starting.
func (m *Manager) handshakeTimer(ctx context.Context, exited chan struct{}) {
	t := time.NewTimer(m.opts.HandshakeTimeout)
	defer t.Stop()

	select {
	case <-exited:
		return
	case <-ctx.Done():
		return
	case <-t.C:
	}

	m.mu.Lock()
	stuck := m.state == StateStarting
	cmd := m.cmd
	if stuck {
		m.setStateLocked(StateError)
	}
	m.mu.Unlock()

	if stuck {
		m.log.Error().Dur("timeout", m.opts.HandshakeTimeout).Msg("runner handshake timed out")
		if cmd != nil {
			_ = cmd.Process.Kill()
		}
	}
}

func exitReason(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
