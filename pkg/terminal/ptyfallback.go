package terminal

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
)

// LocalPane spawns a process under a pseudo-tty directly, bypassing tmux
// entirely. It exists for local development and test environments where no
// system tmux binary is reachable — the Agent Lifecycle Controller falls
// back to it only after Bridge.CheckHealth reports ErrTmuxNotInstalled.
type LocalPane struct {
	cmd    *exec.Cmd
	pty    *os.File
	exited atomic.Bool

	mu  sync.Mutex
	buf []byte
}

// SpawnLocalPane starts command under a pty and begins buffering its
// combined output for later CapturedOutput calls.
func SpawnLocalPane(name string, args ...string) (*LocalPane, error) {
	cmd := exec.Command(name, args...)
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, &BridgeError{Kind: ErrSubprocessFailed, Err: err}
	}

	lp := &LocalPane{cmd: cmd, pty: f}
	go lp.drain()
	go func() {
		_ = cmd.Wait()
		lp.exited.Store(true)
	}()
	return lp, nil
}

func (l *LocalPane) drain() {
	chunk := make([]byte, 4096)
	for {
		n, err := l.pty.Read(chunk)
		if n > 0 {
			l.mu.Lock()
			l.buf = append(l.buf, chunk[:n]...)
			if len(l.buf) > 65536 {
				l.buf = l.buf[len(l.buf)-65536:]
			}
			l.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Write sends raw bytes to the pane, as tmux send-keys would.
func (l *LocalPane) Write(p []byte) (int, error) {
	return l.pty.Write(p)
}

// CapturedOutput returns everything buffered from the pane so far.
func (l *LocalPane) CapturedOutput() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.buf)
}

// Running reports whether the underlying process is still alive.
func (l *LocalPane) Running() bool {
	return !l.exited.Load()
}

// Close terminates the process and releases the pty.
func (l *LocalPane) Close() error {
	if !l.exited.Load() {
		_ = l.cmd.Process.Kill()
	}
	return l.pty.Close()
}

var _ io.Writer = (*LocalPane)(nil)
