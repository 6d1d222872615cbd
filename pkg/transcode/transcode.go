// Package transcode spawns and supervises an external transcoder process
// that converts a remote audio stream into raw PCM on stdout. The package
// is a byte-stream boundary: it never interprets the PCM it forwards.
package transcode

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Output format expected by the voice layer: interleaved little-endian
// 16-bit PCM, stereo, 48kHz.
const (
	SampleRate = 48000
	Channels   = 2
)

const stopGracePeriod = 3 * time.Second

// ErrSpawn indicates the transcoder process could not be started at all,
// e.g. the binary is missing. A deployment defect, not a stream condition.
var ErrSpawn = errors.New("failed to spawn transcoder")

// Config holds transcoder invocation settings.
type Config struct {
	FFmpegPath        string        `yaml:"ffmpeg-path,omitempty"`
	ReconnectDelayMax time.Duration `yaml:"reconnect-delay-max,omitempty"`
	BufferSize        string        `yaml:"buffer-size,omitempty"`
}

func (cfg *Config) applyDefaults() {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.ReconnectDelayMax == 0 {
		cfg.ReconnectDelayMax = 2 * time.Second
	}
	if cfg.BufferSize == "" {
		cfg.BufferSize = "64k"
	}
}

// Manager spawns transcoder processes.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	cfg.applyDefaults()

	return &Manager{
		cfg:    cfg,
		logger: logger.With("module", "transcode"),
	}
}

// Process is a single live transcoder. Exactly one OS child per Process.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	done   chan struct{}
	logger *slog.Logger

	mu  sync.Mutex
	err error
}

// Start launches the transcoder against streamURL. The input side is
// configured to reconnect on error, at end-of-stream, and while actively
// streaming, with a bounded maximum reconnect delay.
func (m *Manager) Start(ctx context.Context, streamURL string) (*Process, error) {
	args := []string{
		"-reconnect", "1",
		"-reconnect_at_eof", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", strconv.Itoa(int(m.cfg.ReconnectDelayMax.Seconds())),
		"-i", streamURL,
		"-f", "s16le",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-bufsize", m.cfg.BufferSize,
		"-loglevel", "warning",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, m.cfg.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stdout pipe")
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(ErrSpawn, "%s: %v", m.cfg.FFmpegPath, err)
	}

	p := &Process{
		cmd:    cmd,
		stdout: stdout,
		done:   make(chan struct{}),
		logger: m.logger.With("pid", cmd.Process.Pid),
	}

	p.logger.Info("transcoder started", "url", streamURL)

	// Diagnostics are informational only; they never drive control flow.
	go p.drainDiagnostics(stderr)

	// Single goroutine waits on the process and closes done.
	go func() {
		err := cmd.Wait()

		p.mu.Lock()
		p.err = err
		p.mu.Unlock()

		close(p.done)

		if err != nil {
			p.logger.Debug("transcoder exited", "err", err)
		} else {
			p.logger.Debug("transcoder exited")
		}
	}()

	return p, nil
}

// Output returns the raw PCM stream.
func (p *Process) Output() io.Reader {
	return p.stdout
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the process exit error, if any, once Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}

// Stop terminates the process and waits for it to exit. Idempotent; safe
// to call after the process has already exited.
func (p *Process) Stop() {
	select {
	case <-p.done:
		return
	default:
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-p.done:
	case <-time.After(stopGracePeriod):
		p.logger.Warn("transcoder did not exit, killing")
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
	}
}

func (p *Process) drainDiagnostics(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.logger.Info("transcoder", "detail", scanner.Text())
	}
}
