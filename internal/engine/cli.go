package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/burrowai/burrow/internal/apierr"
	"github.com/burrowai/burrow/internal/logging"
)

// maxEventLine bounds a single JSONL event from the engine subprocess.
const maxEventLine = 4 * 1024 * 1024

// CLI invokes an external engine binary once per run. The request is
// written to the subprocess as one JSON document on stdin; the subprocess
// answers with one JSON event per stdout line and exits after the terminal
// event.
type CLI struct {
	command []string
	log     zerolog.Logger
}

// NewCLI creates an adapter for the given engine command line.
func NewCLI(command []string) (*CLI, error) {
	if len(command) == 0 {
		return nil, apierr.New(apierr.KindValidation, "engine command is not configured")
	}
	return &CLI{command: command, log: logging.Component("engine")}, nil
}

// Invoke starts the engine subprocess and streams its stdout events. A
// failure to start is retried briefly and then reported as
// BackendUnavailable; failures after startup surface as an error event on
// the stream.
func (c *CLI) Invoke(ctx context.Context, req Request) (*Stream, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "encode engine request")
	}

	cmd, stdout, err := c.start(ctx, payload)
	if err != nil {
		return nil, err
	}

	stream := newStream(16)
	go c.pump(ctx, cmd, stdout, stream)
	return stream, nil
}

// start launches the subprocess, retrying transient spawn failures.
func (c *CLI) start(ctx context.Context, payload []byte) (*exec.Cmd, *bufio.Scanner, error) {
	var cmd *exec.Cmd
	var scanner *bufio.Scanner

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
	), 2), ctx)

	err := backoff.Retry(func() error {
		cmd = exec.CommandContext(ctx, c.command[0], c.command[1:]...)
		cmd.Stdin = bytes.NewReader(payload)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			c.log.Warn().Err(err).Str("command", c.command[0]).Msg("engine spawn failed, retrying")
			return err
		}
		scanner = bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxEventLine)
		return nil
	}, policy)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "start engine %q", c.command[0])
	}
	return cmd, scanner, nil
}

// pump copies subprocess events onto the stream and closes it after the
// terminal event or process exit.
func (c *CLI) pump(ctx context.Context, cmd *exec.Cmd, scanner *bufio.Scanner, stream *Stream) {
	defer stream.close()

	sawTerminal := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			c.log.Warn().Err(err).Msg("engine emitted unparseable event line")
			continue
		}
		if event.Type == "" {
			continue
		}
		if !stream.emit(ctx, event) {
			return
		}
		if event.Terminal() {
			sawTerminal = true
			break
		}
	}

	for scanner.Scan() {
		// Drain trailing output so Wait cannot stall on a full pipe.
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()

	if sawTerminal || ctx.Err() != nil {
		return
	}

	msg := "engine exited before emitting a result"
	if scanErr != nil {
		msg = fmt.Sprintf("engine stream failed: %v", scanErr)
	} else if waitErr != nil {
		msg = fmt.Sprintf("engine exited abnormally: %v", waitErr)
	}
	c.log.Error().Str("command", c.command[0]).Msg(msg)
	stream.emit(ctx, Event{Type: EventError, Message: msg})
}
