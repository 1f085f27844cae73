package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"camlink/internal/logging"
)

// OutputHandler receives output lines from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
// Used to re-level structured output from the subprocess instead of
// logging everything at info.
type LogParser func(line string) (level, msg string)

// stderrTailLimit bounds how much trailing stderr is retained for the
// crash report.
const stderrTailLimit = 16 * 1024

// Result describes how a subprocess ended.
type Result struct {
	ExitCode int
	// StderrTail is the retained tail of the subprocess's stderr. Worker
	// processes log to stdout, so anything here is crash output.
	StderrTail string
}

// Process supervises one subprocess: it streams stdout into the logger,
// retains a stderr tail for crash reporting, and escalates SIGINT to
// SIGKILL on shutdown.
type Process struct {
	id            string
	args          []string
	cmd           *exec.Cmd
	logger        logging.Logger
	processLogger logging.Logger // logger for subprocess output (nil = use logger)
	logParser     LogParser      // extracts levels from subprocess output (nil = info)
	outputHandler OutputHandler

	gracefulTimeout time.Duration // SIGINT grace before SIGKILL
	killTimeout     time.Duration // wait after SIGKILL before giving up

	stderrMu   sync.Mutex
	stderrTail strings.Builder

	waitErr    error
	waitDone   chan struct{}
	outputDone chan struct{} // receives twice, once per output stream
	stopOnce   sync.Once

	collectOnce sync.Once
	result      Result
}

// New creates a supervisor for the given argv. Nothing runs until Start.
func New(id string, args []string, logger logging.Logger) *Process {
	return &Process{
		id:              id,
		args:            args,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		waitDone:        make(chan struct{}),
		outputDone:      make(chan struct{}, 2),
	}
}

// SetOutputHandler forwards every subprocess output line to the handler,
// in addition to logging it.
func (p *Process) SetOutputHandler(handler OutputHandler) {
	p.outputHandler = handler
}

// SetLogParser sets a custom logger and log parser for subprocess output.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// Args returns the argv the subprocess runs with.
func (p *Process) Args() []string {
	return append([]string(nil), p.args...)
}

// Start launches the subprocess and begins streaming its output.
func (p *Process) Start() error {
	if len(p.args) == 0 {
		return fmt.Errorf("empty command")
	}

	p.cmd = exec.Command(p.args[0], p.args[1:]...)
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.args[0], err)
	}
	p.logger.Info("Process started", "id", p.id, "pid", p.cmd.Process.Pid, "command", strings.Join(p.args, " "))

	go func() {
		p.streamStdout(stdout)
		p.outputDone <- struct{}{}
	}()
	go func() {
		p.captureStderr(stderr)
		p.outputDone <- struct{}{}
	}()

	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.waitDone)
	}()
	return nil
}

// Done is closed when the subprocess has exited.
func (p *Process) Done() <-chan struct{} {
	return p.waitDone
}

// Wait blocks until the subprocess exits and returns its result. The
// stderr tail is complete by the time Wait returns. Safe to call more
// than once.
func (p *Process) Wait() Result {
	<-p.waitDone
	p.collectOnce.Do(func() {
		<-p.outputDone
		<-p.outputDone
		p.result = Result{ExitCode: exitCodeFromError(p.waitErr), StderrTail: p.tail()}
	})
	return p.result
}

// Stop asks the subprocess to exit with SIGINT, escalating to SIGKILL
// after the grace period. It returns the final result. Safe to call after
// the process has already exited.
func (p *Process) Stop() Result {
	p.signal(syscall.SIGINT)
	select {
	case <-p.waitDone:
		return p.Wait()
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", p.gracefulTimeout)
	p.Kill()
	select {
	case <-p.waitDone:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
		return Result{ExitCode: 137, StderrTail: p.tail()}
	}
	p.Wait()
	return Result{ExitCode: 137, StderrTail: p.tail()}
}

// Kill terminates the subprocess immediately.
func (p *Process) Kill() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	if err := p.cmd.Process.Kill(); err != nil {
		// Exiting between the check and the kill is fine.
		if !errors.Is(err, os.ErrProcessDone) {
			p.logger.Error("Failed to kill process", "id", p.id, "error", err)
		}
	}
}

func (p *Process) signal(sig syscall.Signal) {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	p.stopOnce.Do(func() {
		p.logger.Info("Sending signal to process", "id", p.id, "pid", p.cmd.Process.Pid, "signal", sig.String())
		if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("Failed to signal process", "id", p.id, "error", err)
		}
	})
}

// exitCodeFromError extracts the exit code from a Wait error. Returns 0
// for nil, the exit code for ExitError, or 1 for anything else.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// streamStdout relays subprocess stdout into the logger, re-leveled by the
// configured parser.
func (p *Process) streamStdout(reader io.Reader) {
	scanner := bufio.NewScanner(reader)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine("stdout", line)
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "fatal", "error":
			logger.Error(msg)
		case "warning", "warn":
			logger.Warn(msg)
		case "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "id", p.id, "source", "stdout", "error", err)
	}
}

// captureStderr retains the tail of stderr for crash reporting and echoes
// each line at debug.
func (p *Process) captureStderr(reader io.Reader) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine("stderr", line)
		}
		p.logger.Debug("Process stderr", "id", p.id, "line", line)

		p.stderrMu.Lock()
		if p.stderrTail.Len() < stderrTailLimit {
			p.stderrTail.WriteString(line)
			p.stderrTail.WriteByte('\n')
		}
		p.stderrMu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "id", p.id, "source", "stderr", "error", err)
	}
}

func (p *Process) tail() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	return p.stderrTail.String()
}
