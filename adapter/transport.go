package adapter

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fansqz/go-debug-mediator/config"
	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/sirupsen/logrus"
)

const (
	portPlaceholder = "{port}"
	dialInterval    = 100 * time.Millisecond
)

// Launcher spawns debug adapter processes from configuration.
type Launcher struct {
	adapters          map[string]config.AdapterConfig
	initializeTimeout time.Duration
}

func NewLauncher(cfg *config.Config) *Launcher {
	return &Launcher{
		adapters:          cfg.Adapters,
		initializeTimeout: cfg.Timing.InitializeTimeout,
	}
}

// Spawn starts the adapter registered for t and returns a client connected
// to it. Closing the client kills the adapter process.
func (l *Launcher) Spawn(ctx context.Context, t constants.AdapterType) (*Client, error) {
	cfg, ok := l.adapters[string(t)]
	if !ok {
		return nil, fmt.Errorf("no adapter configured for %q", t)
	}
	logrus.Infof("[Launcher] Spawn %s: %s %s", t, cfg.Command, strings.Join(cfg.Args, " "))

	var (
		conn io.ReadWriteCloser
		err  error
	)
	switch constants.TransportType(cfg.Transport) {
	case constants.TransportTCP:
		conn, err = spawnTCP(ctx, cfg, l.initializeTimeout)
	default:
		conn, err = spawnStdio(cfg)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(conn, WithInitializeTimeout(l.initializeTimeout)), nil
}

// processConn couples an adapter connection with the process serving it.
// logs forward the adapter's output to logrus and are closed after the
// process has exited.
type processConn struct {
	io.Reader
	io.Writer
	closers []io.Closer
	logs    []io.Closer
	cmd     *exec.Cmd
}

func (p *processConn) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	closeAll(p.logs)
	return first
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

func spawnStdio(cfg config.AdapterConfig) (*processConn, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	stderr := logrus.StandardLogger().WriterLevel(logrus.DebugLevel)
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		stderr.Close()
		return nil, fmt.Errorf("get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		stderr.Close()
		return nil, fmt.Errorf("get stdout pipe: %w", err)
	}
	if err = cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}
	return &processConn{Reader: stdout, Writer: stdin, closers: []io.Closer{stdin, stdout}, logs: []io.Closer{stderr}, cmd: cmd}, nil
}

func spawnTCP(ctx context.Context, cfg config.AdapterConfig, timeout time.Duration) (*processConn, error) {
	port, err := freePort()
	if err != nil {
		return nil, err
	}
	args := make([]string, len(cfg.Args))
	for i, a := range cfg.Args {
		args[i] = strings.ReplaceAll(a, portPlaceholder, strconv.Itoa(port))
	}
	cmd := exec.Command(cfg.Command, args...)
	stdout := logrus.StandardLogger().WriterLevel(logrus.DebugLevel)
	stderr := logrus.StandardLogger().WriterLevel(logrus.DebugLevel)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	logs := []io.Closer{stdout, stderr}
	if err = cmd.Start(); err != nil {
		closeAll(logs)
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conn, err := dialWithRetry(ctx, address, timeout)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		closeAll(logs)
		return nil, err
	}
	return &processConn{Reader: conn, Writer: conn, closers: []io.Closer{conn}, logs: logs, cmd: cmd}, nil
}

// dialWithRetry waits for a freshly spawned adapter to start listening.
func dialWithRetry(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", address, err)
		case <-time.After(dialInterval):
		}
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
