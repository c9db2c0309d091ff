package originate

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"callspool/internal/spool"
)

// DefaultTimeout bounds one attempt when none is configured.
const DefaultTimeout = 45 * time.Second

// ExecOriginator places calls by running an external dialer command:
//
//	<command> <channel> <application> <data>
//
// Exit status is the classification contract with the dialer:
//
//	0          the call was answered (success)
//	1          no answer, busy, congestion (transient)
//	any other  invalid target or the dialer refused execution (permanent)
//
// A command that cannot be started at all is a permanent failure; an
// attempt that outlives the timeout is transient.
type ExecOriginator struct {
	Command string
	Timeout time.Duration
}

// NewExecOriginator creates an exec-backed originator.
func NewExecOriginator(command string, timeout time.Duration) *ExecOriginator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecOriginator{Command: command, Timeout: timeout}
}

// Attempt implements Originator.
func (o *ExecOriginator) Attempt(ctx context.Context, job *spool.Job) Result {
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, o.Command, job.Channel, job.Application, job.Data)
	// Unblocks Wait when a killed dialer leaves children holding the
	// output pipes open.
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()

	if err == nil {
		return Result{Outcome: spool.OutcomeSuccess, Detail: "answered"}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return Result{
			Outcome: spool.OutcomeTransient,
			Detail:  fmt.Sprintf("timed out after %v", o.Timeout),
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		detail := fmt.Sprintf("exit status %d", exitErr.ExitCode())
		if msg := firstLine(output); msg != "" {
			detail += ": " + msg
		}
		if exitErr.ExitCode() == 1 {
			return Result{Outcome: spool.OutcomeTransient, Detail: detail}
		}
		return Result{Outcome: spool.OutcomePermanent, Detail: detail}
	}

	// The command never ran: missing binary, permission problem. Retrying
	// the same invocation cannot help.
	return Result{
		Outcome: spool.OutcomePermanent,
		Detail:  fmt.Sprintf("failed to start dialer: %v", err),
	}
}

func firstLine(output []byte) string {
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	if len(line) > 200 {
		line = line[:200]
	}
	return line
}
