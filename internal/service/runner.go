package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/rs/zerolog"

	"github.com/synadia-labs/workload-probe/internal/config"
)

// ISO-8601 with millisecond precision
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// how long pipes may stay open after the shell exits or is killed
const waitDelay = 2 * time.Second

// Runner executes command lines through a shell on the host.
//
// The command line is passed verbatim to the shell, so anyone able to call
// Run can execute arbitrary code as the hosting process.
type Runner struct {
	shell []string
	cfg   config.CommandConfig
	now   func() time.Time
}

func NewRunner(cfg config.CommandConfig) (*Runner, error) {
	shell := cfg.Shell
	if strings.TrimSpace(shell) == "" {
		shell = "sh"
	}

	args, err := shlex.Split(shell)
	if err != nil {
		return nil, fmt.Errorf("error parsing shell \"%s\": %w", shell, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no shell provided")
	}

	return &Runner{shell: args, cfg: cfg, now: time.Now}, nil
}

// Run executes commandLine and waits for it to exit. A blank command line is
// not executed.
func (r *Runner) Run(ctx context.Context, commandLine string) (outcome CommandOutcome) {
	if strings.TrimSpace(commandLine) == "" {
		return NotRequested()
	}

	defer func() {
		if p := recover(); p != nil {
			outcome = Executed(r.failure(commandLine, fmt.Errorf("%w: %v", ErrLaunch, p)))
		}
	}()

	if !r.cfg.Enabled {
		return Executed(r.failure(commandLine, ErrCommandDisabled))
	}
	return Executed(r.run(ctx, commandLine))
}

func (r *Runner) run(ctx context.Context, commandLine string) CommandResult {
	log := zerolog.Ctx(ctx)

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := append(slices.Clone(r.shell[1:]), "-c", commandLine)
	cmd := exec.CommandContext(ctx, r.shell[0], args...)
	cmd.Dir = r.cfg.Dir
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), r.cfg.Env...)
	}

	stdout := &cappedBuffer{limit: r.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{limit: r.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	err := cmd.Run()
	// the group belongs to this call alone; nothing started by the command
	// may outlive it
	killProcessGroup(cmd)
	if stdout.truncated || stderr.truncated {
		log.Warn().Str("command", commandLine).Int64("limit", r.cfg.MaxOutputBytes).Msg("command output truncated")
	}

	res := CommandResult{
		Command:    commandLine,
		ExecutedAt: r.timestamp(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay) && ctx.Err() == nil:
		// a background child kept the pipes open past the shell's exit
		res.Output = orPlaceholder(stdout.String())
		res.Kind = KindNone

	case ctx.Err() != nil:
		terr := r.timeoutError(ctx)
		res.Error = strPtr(terr.Error())
		res.Kind = KindTimeout

	case errors.As(err, &exitErr):
		res.Output = orPlaceholder(stdout.String())
		msg := stderr.String()
		if msg == "" {
			msg = exitErr.Error()
		}
		res.Error = strPtr(msg)
		res.Kind = KindNonZeroExit

	default:
		res.Error = strPtr(fmt.Errorf("%w: %w", ErrLaunch, err).Error())
		res.Kind = KindLaunch
		res.ExitCode = -1
	}

	log.Debug().
		Str("command", commandLine).
		Int("code", res.ExitCode).
		Str("kind", string(res.Kind)).
		Msg("command finished")
	return res
}

func (r *Runner) timeoutError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: command canceled", ErrTimeout)
	}
	if r.cfg.Timeout > 0 {
		return fmt.Errorf("%w: command exceeded %s", ErrTimeout, r.cfg.Timeout)
	}
	return fmt.Errorf("%w: command exceeded its deadline", ErrTimeout)
}

func (r *Runner) failure(commandLine string, err error) CommandResult {
	return CommandResult{
		Command:    commandLine,
		Error:      strPtr(err.Error()),
		ExecutedAt: r.timestamp(),
		ExitCode:   -1,
		Kind:       kindOf(err),
	}
}

func (r *Runner) timestamp() string {
	return r.now().UTC().Format(timestampLayout)
}

func orPlaceholder(s string) string {
	if s == "" {
		return NoOutput
	}
	return s
}

// cappedBuffer keeps at most limit bytes and silently drops the rest so the
// child never blocks on a full pipe. A limit <= 0 keeps everything.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	remaining := b.limit - int64(b.buf.Len())
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
