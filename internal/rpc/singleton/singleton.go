// Package singleton manages the one child OS process that hosts a given
// plugin.Process slot (CAMERA or CHAT), grounded on the
// os/exec.Command re-invocation idiom used by the teacher's service
// wrapper (internal/driver/servicelog) to keep a single binary able to
// run as either the installed service or a foreground debug run. Here the
// same binary is re-exec'd with an internal --rpc-role flag instead of a
// service-manager flag.
package singleton

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/warpcomdev/ratcam/internal/plugin"
	"github.com/warpcomdev/ratcam/internal/ratcamlog"
	"github.com/warpcomdev/ratcam/internal/rpc"
)

// RoleEnv is the environment variable the child reads at startup to learn
// which plugin.Process it is and which socket to bind its Server to.
const (
	RoleEnv   = "RATCAM_RPC_ROLE"
	SocketEnv = "RATCAM_RPC_SOCKET"
	ReadyFD   = 3
)

// Host supervises exactly one child process.
type Host struct {
	logger  ratcamlog.Logger
	process plugin.Process
	binary  string
	baseDir string

	cmd    *exec.Cmd
	socket string
}

// New prepares (but does not start) a Host for process p. binary is the
// path to this same executable; baseDir is a writable scratch directory
// the child's socket file is created under.
func New(logger ratcamlog.Logger, p plugin.Process, binary, baseDir string) *Host {
	return &Host{
		logger:  logger.With(ratcamlog.String("child", p.String())),
		process: p,
		binary:  binary,
		baseDir: baseDir,
	}
}

// Start launches the child and blocks until it reports its socket path is
// ready (or ctx expires).
func (h *Host) Start(ctx context.Context) error {
	socket := filepath.Join(h.baseDir, fmt.Sprintf("ratcam-%s.sock", h.process.String()))
	_ = os.Remove(socket)

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("singleton: pipe: %w", err)
	}
	defer readyW.Close()

	cmd := exec.CommandContext(ctx, h.binary)
	cmd.Env = append(os.Environ(),
		RoleEnv+"="+h.process.String(),
		SocketEnv+"="+socket,
	)
	cmd.ExtraFiles = []*os.File{readyW}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		readyR.Close()
		return fmt.Errorf("singleton: start %s: %w", h.process, err)
	}
	h.cmd = cmd

	readyW.Close()
	scanner := bufio.NewScanner(readyR)
	done := make(chan bool, 1)
	go func() { done <- scanner.Scan() }()
	select {
	case ok := <-done:
		if !ok {
			return fmt.Errorf("singleton: %s exited before signalling ready", h.process)
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	case <-time.After(10 * time.Second):
		_ = cmd.Process.Kill()
		return fmt.Errorf("singleton: %s did not become ready in time", h.process)
	}
	h.socket = socket
	h.logger.Info("child process ready", ratcamlog.String("socket", socket))
	return nil
}

// Socket is the UNIX socket path the child's Server is bound to, valid
// after Start returns successfully.
func (h *Host) Socket() string { return h.socket }

// Dial connects a new rpc.Client to this child.
func (h *Host) Dial() (*rpc.Client, error) {
	return rpc.Dial(h.socket)
}

// Stop requests the child exit, giving it worker.JoinTimeout to do so
// cleanly before killing it outright.
func (h *Host) Stop() error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	_ = h.cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(1 * time.Second):
		h.logger.Warn("child did not exit cleanly, killing")
		_ = h.cmd.Process.Kill()
		<-done
		return nil
	}
}

// SignalReady is called by the child process itself, as early in main()
// as possible, once its Server is listening: it writes one line to fd 3
// (ReadyFD) so the parent's Start unblocks.
func SignalReady() {
	f := os.NewFile(uintptr(ReadyFD), "ready")
	if f == nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, "ready")
}

// RoleFromEnv reads back what main() was told to become by the parent's
// Start, for processes launched via os/exec rather than the top-level
// MAIN invocation.
func RoleFromEnv() (plugin.Process, string, bool) {
	roleStr := os.Getenv(RoleEnv)
	socket := os.Getenv(SocketEnv)
	if roleStr == "" || socket == "" {
		return 0, "", false
	}
	p, err := plugin.ParseProcess(roleStr)
	if err != nil {
		return 0, "", false
	}
	return p, socket, true
}
