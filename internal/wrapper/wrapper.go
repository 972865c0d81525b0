package wrapper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/omnara-ai/omnara/internal/config"
	"github.com/omnara-ai/omnara/internal/frame"
	"github.com/omnara-ai/omnara/internal/logger"
)

const (
	ptyReadSize   = 8192
	ptyWriteChunk = 1024
	killDelay     = 5 * time.Second
)

// Wrapper runs a CLI agent under a PTY, mirrors its output to the local
// terminal and the relay, and feeds it keystrokes from both.
type Wrapper struct {
	cfg  config.Wrapper
	ptmx *os.File
	conn *relayConn

	mu         sync.Mutex
	cols, rows uint16
}

// Run locates and executes the command under a PTY and blocks until it
// exits, returning the child's exit code. The local terminal works even when
// the relay is unreachable.
func Run(ctx context.Context, cfg config.Wrapper, command string, args []string) (int, error) {
	path, err := Locate(command)
	if err != nil {
		return 1, err
	}

	w := &Wrapper{cfg: cfg, cols: 80, rows: 24}
	stdinFd := int(os.Stdin.Fd())
	isTTY := term.IsTerminal(stdinFd)
	if isTTY {
		if cols, rows, err := term.GetSize(stdinFd); err == nil && cols > 0 && rows > 0 {
			w.cols, w.rows = uint16(cols), uint16(rows)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"OMNARA_API_KEY="+cfg.APIKey,
		"OMNARA_SESSION_ID="+cfg.SessionID,
	)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killDelay

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: w.cols, Rows: w.rows})
	if err != nil {
		return 1, fmt.Errorf("start %s: %w", command, err)
	}
	defer ptmx.Close()
	w.ptmx = ptmx
	// Register the master fd with the runtime poller so reads park the
	// goroutine instead of a thread.
	_ = unix.SetNonblock(int(ptmx.Fd()), true)

	if isTTY {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return 1, fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(stdinFd, oldState)
	}

	if !cfg.Disabled {
		w.conn = newRelayConn(cfg, w.handleRelayFrame, w.sendSize)
		go w.conn.Run(runCtx)
	}

	w.watchResize(runCtx, stdinFd, isTTY)

	var interrupted atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			interrupted.Store(true)
			if cmd.Process != nil {
				_ = cmd.Process.Signal(syscall.SIGTERM)
			}
		case <-runCtx.Done():
		}
	}()

	go w.pumpStdin(runCtx)
	w.pumpOutput()

	waitErr := cmd.Wait()
	cancel()

	if interrupted.Load() {
		return 130, nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 1, waitErr
	}
	return 0, nil
}

// pumpOutput copies PTY output to the local terminal and, framed, to the
// relay. Returns when the child exits and the master read fails.
func (w *Wrapper) pumpOutput() {
	buf := make([]byte, ptyReadSize)
	for {
		n, err := w.ptmx.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
			if w.conn != nil {
				if err := w.conn.SendFrame(frame.Output, buf[:n]); err != nil && !errors.Is(err, errNotConnected) {
					logger.Debug("send output failed", "error", err)
				}
			}
		}
		if err != nil {
			// EIO on Linux once the slave side closes.
			return
		}
	}
}

// pumpStdin copies local keystrokes to the PTY.
func (w *Wrapper) pumpStdin(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if werr := writeChunked(w.ptmx, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil || ctx.Err() != nil {
			return
		}
	}
}

// handleRelayFrame injects remote viewer keystrokes into the PTY. Anything
// other than input is logged and skipped; the relay never sends output back
// and resize requests arrive as RESIZE frames only on the viewer leg.
func (w *Wrapper) handleRelayFrame(f frame.Frame) {
	switch f.Type {
	case frame.Input:
		if err := writeChunked(w.ptmx, f.Payload); err != nil {
			logger.Debug("inject input failed", "error", err)
		}
	default:
		logger.Debug("ignoring relay frame", "type", byte(f.Type), "bytes", len(f.Payload))
	}
}

// watchResize tracks SIGWINCH, resizes the PTY, and reports the new size to
// the relay. An initial signal is queued so the first size is applied even
// if the terminal resized before the handler installed.
func (w *Wrapper) watchResize(ctx context.Context, stdinFd int, isTTY bool) {
	if !isTTY {
		return
	}
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	winch <- syscall.SIGWINCH
	go func() {
		defer signal.Stop(winch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-winch:
			}
			cols, rows, err := term.GetSize(stdinFd)
			if err != nil || cols <= 0 || rows <= 0 {
				continue
			}
			w.mu.Lock()
			w.cols, w.rows = uint16(cols), uint16(rows)
			w.mu.Unlock()
			_ = pty.Setsize(w.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
			w.sendSize()
		}
	}()
}

// sendSize reports the current window size to the relay. Also called on
// every (re)connect so the relay's recorded size never goes stale.
func (w *Wrapper) sendSize() {
	if w.conn == nil {
		return
	}
	w.mu.Lock()
	cols, rows := w.cols, w.rows
	w.mu.Unlock()
	if err := w.conn.SendFrame(frame.Resize, frame.ResizePayload(rows, cols)); err != nil && !errors.Is(err, errNotConnected) {
		logger.Debug("send resize failed", "error", err)
	}
}

// writeChunked writes in small chunks so a single large injection cannot
// wedge on a full PTY kernel buffer.
func writeChunked(dst io.Writer, data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > ptyWriteChunk {
			n = ptyWriteChunk
		}
		if _, err := dst.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
