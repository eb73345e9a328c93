package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// releaseTimeout bounds how long Release waits for the capture process to
// exit after an interrupt before killing it.
const releaseTimeout = 3 * time.Second

// ExecSource acquires a device by spawning a capture command (ffmpeg,
// arecord and the like) that writes raw samples or frames to stdout. Each
// ReadRaw returns one fixed-size chunk.
type ExecSource struct {
	command   string
	args      []string
	chunkSize int
}

// NewExecSource creates a subprocess-backed source. chunkSize is the number
// of bytes per tick: one audio chunk or one full video frame.
func NewExecSource(command string, args []string, chunkSize int) *ExecSource {
	return &ExecSource{command: command, args: args, chunkSize: chunkSize}
}

// Acquire spawns the capture process.
func (s *ExecSource) Acquire(ctx context.Context) (Handle, error) {
	cmd := exec.Command(s.command, s.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrDeviceUnavailable, s.command, err)
	}

	if ctx.Err() != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, ctx.Err()
	}

	return &execHandle{
		cmd:       cmd,
		stdout:    stdout,
		chunkSize: s.chunkSize,
	}, nil
}

type execHandle struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	chunkSize int

	mu       sync.Mutex
	released bool
}

// ReadRaw reads one full chunk from the capture process.
func (h *execHandle) ReadRaw() ([]byte, error) {
	buf := make([]byte, h.chunkSize)
	n, err := io.ReadFull(h.stdout, buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) && n > 0 {
			// Partial chunk, device still warming up or draining.
			return nil, ErrReadMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return buf, nil
}

// Release interrupts the capture process and waits for it to exit.
func (h *execHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	_ = h.stdout.Close()
	_ = h.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(releaseTimeout):
		_ = h.cmd.Process.Kill()
		<-done
		return nil
	}
}
