package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/bbopen/tywrap-sub003/internal/bridgeerr"
	"github.com/bbopen/tywrap-sub003/internal/protocol"
)

// defaultMaxLineBytes bounds a single inbound line; a worker that writes a
// larger one has violated the protocol (spec §7: "oversize line"). It is
// overridden per-transport by StdioConfig.MaxLineBytes or, failing that, the
// TYWRAP_CODEC_MAX_BYTES environment variable (spec §6).
const defaultMaxLineBytes = 1 << 20

// maxLineBytes also bounds a single HTTP response body, so the constant is
// reused there; StdioConfig can still override it per-transport.
const maxLineBytes = defaultMaxLineBytes

// StdioConfig configures a StdioTransport.
type StdioConfig struct {
	// Command is the interpreter to run. If empty and VenvPath is set, the
	// venv's own interpreter is resolved and used.
	Command string
	// Args are passed to Command, typically the worker entry-point script
	// followed by its own flags.
	Args []string
	// LaunchCommand, if set, overrides Command/Args with a single
	// space-separated command line (e.g. from a host config file) that is
	// split into argv the same way a shell would, honoring quoting.
	LaunchCommand string
	// Dir is the working directory for the subprocess, empty for the
	// caller's own.
	Dir string
	// VenvPath, if set, resolves Command from the venv's standard layout
	// when Command is empty.
	VenvPath string
	// PythonPath is prepended to the subprocess's PYTHONPATH.
	PythonPath []string
	// CodecFallback is exported as TYWRAP_CODEC_FALLBACK so the worker
	// knows what to do with an envelope encoding it cannot produce
	// natively (spec §4.2).
	CodecFallback string
	// MaxLineBytes overrides the default maximum length of one stdout line.
	// Zero uses the TYWRAP_CODEC_MAX_BYTES environment variable if set and
	// positive, else defaultMaxLineBytes.
	MaxLineBytes int
	// Env overrides/augments the inherited environment.
	Env map[string]string
}

// StdioTransport owns a worker subprocess and speaks line-delimited JSON
// over its stdin/stdout (spec §6 "stdio transport"), grounded on the
// same request/readLoop/pending-map shape used throughout the retrieved
// example pack's own subprocess bridges.
type StdioTransport struct {
	cfg StdioConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *protocol.ResponseFrame

	stderrCb func([]byte)

	doneCh  chan struct{}
	exitErr error
}

var _ Transport = (*StdioTransport)(nil)
var _ StderrSource = (*StdioTransport)(nil)
var _ ProcessWatcher = (*StdioTransport)(nil)

// NewStdioTransport returns a StdioTransport for cfg. Init must be called
// before Send.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	return &StdioTransport{
		cfg:     cfg,
		pending: make(map[int64]chan *protocol.ResponseFrame),
		doneCh:  make(chan struct{}),
	}
}

// OnStderr registers fn to receive chunks of the worker's stderr.
func (t *StdioTransport) OnStderr(fn func([]byte)) { t.stderrCb = fn }

// Done is closed once the worker process has exited (detected by its stdout
// closing or a read error) and its stderr has been fully drained.
func (t *StdioTransport) Done() <-chan struct{} { return t.doneCh }

// Err returns the reason the worker exited, if it was unsolicited.
func (t *StdioTransport) Err() error { return t.exitErr }

func (t *StdioTransport) command() string {
	if t.cfg.Command != "" {
		return t.cfg.Command
	}
	if t.cfg.VenvPath != "" {
		return resolveVenvInterpreter(t.cfg.VenvPath)
	}
	return "python3"
}

// commandAndArgs resolves the program and argv to exec. LaunchCommand takes
// precedence, parsed the way a shell would (quoting honored), for hosts that
// configure the worker launch as a single string rather than Command+Args.
func (t *StdioTransport) commandAndArgs() (string, []string, error) {
	if t.cfg.LaunchCommand != "" {
		parsed, err := shellwords.Parse(t.cfg.LaunchCommand)
		if err != nil {
			return "", nil, bridgeerr.Wrap(err, fmt.Sprintf("stdio transport: parse launch command %q", t.cfg.LaunchCommand))
		}
		if len(parsed) == 0 {
			return "", nil, bridgeerr.NewProtocolError(fmt.Sprintf("stdio transport: launch command %q parsed to no arguments", t.cfg.LaunchCommand), nil)
		}
		return parsed[0], parsed[1:], nil
	}
	return t.command(), t.cfg.Args, nil
}

func (t *StdioTransport) Init(ctx context.Context) error {
	program, args, err := t.commandAndArgs()
	if err != nil {
		return err
	}
	cmd := exec.Command(program, args...)
	cmd.Dir = t.cfg.Dir

	env := mergeEnv(os.Environ(), map[string]string{
		"PYTHONUTF8":             "1",
		"PYTHONIOENCODING":       "utf-8",
		"TYWRAP_CODEC_FALLBACK":  t.cfg.CodecFallback,
	})
	if len(t.cfg.PythonPath) > 0 {
		existing := os.Getenv("PYTHONPATH")
		parts := append(append([]string{}, t.cfg.PythonPath...), existing)
		env = mergeEnv(env, map[string]string{"PYTHONPATH": joinNonEmpty(parts, string(os.PathListSeparator))})
	}
	env = mergeEnv(env, t.cfg.Env)
	cmd.Env = env

	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return bridgeerr.Wrap(err, "stdio transport: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return bridgeerr.Wrap(err, "stdio transport: stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return bridgeerr.Wrap(err, "stdio transport: stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return bridgeerr.Wrap(err, "stdio transport: start worker")
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = bufio.NewReaderSize(stdout, 64*1024)

	go t.stderrLoop(stderr)
	go t.recvLoop()

	return nil
}

func (t *StdioTransport) stderrLoop(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 && t.stderrCb != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.stderrCb(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (t *StdioTransport) recvLoop() {
	var exitErr error
	for {
		line, err := t.readLine()
		if err != nil {
			if err != io.EOF {
				exitErr = err
			}
			break
		}
		resp, perr := parseResponseLine(line)
		if perr != nil {
			exitErr = perr
			break
		}
		t.dispatch(resp)
	}

	t.pendingMu.Lock()
	pending := t.pending
	t.pending = nil
	t.pendingMu.Unlock()
	for _, ch := range pending {
		close(ch)
	}

	waitErr := t.cmd.Wait()
	if exitErr == nil {
		exitErr = waitErr
	}
	t.exitErr = exitErr
	close(t.doneCh)
}

func (t *StdioTransport) maxLine() int {
	if t.cfg.MaxLineBytes > 0 {
		return t.cfg.MaxLineBytes
	}
	if v := os.Getenv("TYWRAP_CODEC_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultMaxLineBytes
}

func (t *StdioTransport) readLine() ([]byte, error) {
	line, err := t.reader.ReadBytes('\n')
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if limit := t.maxLine(); n > limit {
		return nil, bridgeerr.NewProtocolError(fmt.Sprintf("Response line exceeded the %d byte limit (got %d bytes)", limit, n), nil).WithSnippet(string(line[:min(n, 256)]))
	}
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return line, nil
		}
		return nil, err
	}
	return line, nil
}

func parseResponseLine(line []byte) (*protocol.ResponseFrame, error) {
	var resp protocol.ResponseFrame
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, bridgeerr.NewProtocolError("malformed response line", err).WithSnippet(string(line))
	}
	return &resp, nil
}

func (t *StdioTransport) dispatch(resp *protocol.ResponseFrame) {
	t.pendingMu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
	// An id with no waiter is either a stray late response to a request the
	// caller already timed out on, or a genuine protocol violation; either
	// way there is nothing more bridgecore's Send can do with it here, so it
	// is simply dropped. bridgecore.Send itself detects the timeout case via
	// its own timer and never blocks waiting for this channel once it does.
}

func (t *StdioTransport) IsReady() bool {
	select {
	case <-t.doneCh:
		return false
	default:
		return t.cmd != nil
	}
}

func (t *StdioTransport) Send(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
	ch := make(chan *protocol.ResponseFrame, 1)

	t.pendingMu.Lock()
	if t.pending == nil {
		t.pendingMu.Unlock()
		return nil, bridgeerr.NewProtocolError("worker process is no longer running", t.exitErr)
	}
	t.pending[frame.ID] = ch
	t.pendingMu.Unlock()

	if err := t.writeFrame(frame); err != nil {
		t.pendingMu.Lock()
		delete(t.pending, frame.ID)
		t.pendingMu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, bridgeerr.NewProtocolError("worker process exited before responding", t.exitErr)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *StdioTransport) writeFrame(frame *protocol.RequestFrame) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return bridgeerr.NewCodecError(bridgeerr.PhaseEncode, "RequestFrame", err.Error(), err)
	}
	b = append(b, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.stdin.Write(b)
	if err != nil {
		return bridgeerr.Wrap(err, "stdio transport: write request")
	}
	return nil
}

func (t *StdioTransport) Dispose(ctx context.Context) error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	_ = t.stdin.Close()

	select {
	case <-t.doneCh:
		return nil
	default:
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-t.doneCh:
		case <-done:
		}
	}()
	defer close(done)

	select {
	case <-t.doneCh:
		return nil
	case <-ctx.Done():
		killProcessGroup(t.cmd)
		<-t.doneCh
		return ctx.Err()
	}
}

func joinNonEmpty(parts []string, sep string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	result := ""
	for i, p := range out {
		if i > 0 {
			result += sep
		}
		result += p
	}
	return result
}
