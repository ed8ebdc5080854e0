package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/burrowai/burrow/internal/apierr"
	"github.com/burrowai/burrow/internal/command"
	"github.com/burrowai/burrow/internal/engine"
	"github.com/burrowai/burrow/internal/event"
	"github.com/burrowai/burrow/internal/logging"
	"github.com/burrowai/burrow/internal/permission"
	"github.com/burrowai/burrow/internal/session"
)

// historyLimit caps the prior turns handed to the engine per invocation.
const historyLimit = 40

// Request is one run of the agent against a session.
type Request struct {
	SessionID      string
	Message        string
	Command        string
	PermissionMode string
	AllowedTools   []string
	Model          string
	Source         string
	UserName       string
}

// Options configures a Coordinator.
type Options struct {
	Timeout       time.Duration
	DefaultModel  string
	WorkingDir    string
	SystemContext string
	AllowBypass   bool
}

// Coordinator drives one agent invocation end to end: permission check,
// command resolution, run slot, engine invocation, event relay and turn
// persistence. It is safe for concurrent use; the per-session run slot is
// the only serialization point.
type Coordinator struct {
	sessions *session.Store
	locker   *session.Locker
	resolver *command.Resolver
	eng      engine.Engine
	bus      *event.Bus
	opts     Options
	log      zerolog.Logger
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(sessions *session.Store, locker *session.Locker,
	resolver *command.Resolver, eng engine.Engine, bus *event.Bus, opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &Coordinator{
		sessions: sessions,
		locker:   locker,
		resolver: resolver,
		eng:      eng,
		bus:      bus,
		opts:     opts,
		log:      logging.Component("run"),
	}
}

// Run executes one agent invocation and relays its events to sink. It
// returns after the run settles; exactly one done or error client event is
// delivered. Cancelling ctx cancels the run: the engine is stopped, the
// slot released and nothing persisted.
func (c *Coordinator) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	if err := session.ValidateID(req.SessionID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Message) == "" && req.Command == "" {
		return nil, apierr.New(apierr.KindValidation, "message is required")
	}

	// Everything that can fail without side effects happens before the
	// run slot is taken.
	mode, err := permission.Decide(permission.Mode(req.PermissionMode), c.opts.AllowBypass)
	if err != nil {
		return nil, err
	}

	prompt := req.Message
	allowedTools := req.AllowedTools
	model := req.Model
	if req.Command != "" {
		resolved, err := c.resolver.Resolve(req.Command, req.Message)
		if err != nil {
			return nil, err
		}
		prompt = resolved.Prompt
		allowedTools = permission.MergeAllowedTools(allowedTools, resolved.AllowedTools)
		if model == "" {
			model = resolved.Model
		}
	}
	if model == "" {
		model = c.opts.DefaultModel
	}

	release, err := c.locker.Acquire(req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	runID := ulid.Make().String()
	log := c.log.With().Str("session", req.SessionID).Str("run", runID).Logger()
	log.Info().Str("model", model).Str("mode", string(mode)).
		Str("source", req.Source).Str("user", req.UserName).Msg("run started")
	c.bus.Publish(event.Event{Type: event.RunStarted, Data: event.RunData{
		SessionID: req.SessionID, RunID: runID,
	}})

	if _, err := c.sessions.Touch(ctx, req.SessionID, model, string(mode)); err != nil {
		return c.settleFailed(ctx, req, runID, sink, err)
	}

	history, err := c.sessions.History(ctx, req.SessionID, historyLimit)
	if err != nil {
		return c.settleFailed(ctx, req, runID, sink, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	engReq := engine.Request{
		Prompt:         prompt,
		History:        toEngineHistory(history),
		SystemContext:  c.opts.SystemContext,
		Model:          model,
		PermissionMode: string(mode),
		AllowedTools:   allowedTools,
		WorkingDir:     c.opts.WorkingDir,
	}

	out := c.execute(runCtx, engReq, sink, req.SessionID)
	if retryOnDefaultModel(runCtx, engReq.Model, out) {
		log.Warn().Str("model", engReq.Model).Msg("model failed before output, retrying on default model")
		engReq.Model = ""
		out = c.execute(runCtx, engReq, sink, req.SessionID)
	}

	switch {
	case out.err == nil:
		if isClearCommand(req.Message) {
			if err := c.sessions.ClearTurns(ctx, req.SessionID); err != nil {
				log.Error().Err(err).Msg("clearing transcript failed")
			}
		} else {
			turns := []session.Turn{
				session.NewTurn(session.RoleUser, req.Message),
				newAssistantTurn(out.result),
			}
			if _, err := c.sessions.Append(ctx, req.SessionID, turns...); err != nil {
				log.Error().Err(err).Msg("persisting completed run failed")
			}
		}
		log.Info().Int("tools", len(out.result.ToolsUsed)).Msg("run completed")
		c.bus.Publish(event.Event{Type: event.RunCompleted, Data: event.RunData{
			SessionID: req.SessionID, RunID: runID,
		}})
		return &Result{
			SessionID: req.SessionID,
			State:     StateCompleted,
			Response:  out.result.Text,
			ToolsUsed: out.result.ToolsUsed,
			Usage:     out.result,
		}, nil

	case apierr.KindOf(out.err) == apierr.KindCancelled:
		// Client went away. Persist nothing.
		log.Info().Msg("run cancelled")
		c.bus.Publish(event.Event{Type: event.RunCancelled, Data: event.RunData{
			SessionID: req.SessionID, RunID: runID,
		}})
		return &Result{SessionID: req.SessionID, State: StateCancelled}, out.err

	default:
		return c.settleFailed(context.WithoutCancel(ctx), req, runID, sink, out.err)
	}
}

// execute runs one engine invocation and relays its events to the sink.
func (c *Coordinator) execute(ctx context.Context, req engine.Request, sink Sink, sessionID string) outcome {
	stream, err := c.eng.Invoke(ctx, req)
	if err != nil {
		return outcome{err: err}
	}
	return c.relay(ctx, stream, sink, sessionID)
}

// retryOnDefaultModel reports whether a failed invocation should be retried
// without the model override. A bad model surfaces as a failure before the
// engine produces any output; once output reached the client, or the run
// context is spent, the failure stands.
func retryOnDefaultModel(ctx context.Context, model string, out outcome) bool {
	if out.err == nil || model == "" || out.emitted || ctx.Err() != nil {
		return false
	}
	return apierr.KindOf(out.err) != apierr.KindCancelled
}

// isClearCommand matches the transcript-reset escape. The message still goes
// to the engine; only the stored transcript is dropped afterwards.
func isClearCommand(message string) bool {
	return strings.HasPrefix(strings.TrimSpace(message), "/clear")
}

type outcome struct {
	result  *engine.Result
	err     error
	emitted bool
}

// relay forwards normalized engine events to the sink until the terminal
// event. Delta text is accumulated so a missing result payload still yields
// a response.
func (c *Coordinator) relay(ctx context.Context, stream *engine.Stream, sink Sink, sessionID string) outcome {
	var text strings.Builder
	var toolsUsed []string
	emitted := false

	deliver := func(e ClientEvent) error {
		if sink == nil {
			return nil
		}
		return sink.OnEvent(e)
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return outcome{err: apierr.New(apierr.KindEngineFailure, "engine timed out"), emitted: emitted}
			}
			return outcome{err: apierr.Wrap(apierr.KindCancelled, ctx.Err(), "run cancelled"), emitted: emitted}

		case ev, ok := <-stream.Events():
			if !ok {
				return outcome{err: apierr.New(apierr.KindEngineFailure, "engine stream ended without a result"), emitted: emitted}
			}

			switch ev.Type {
			case engine.EventTextDelta:
				emitted = true
				text.WriteString(ev.Text)
				if err := deliver(ClientEvent{Type: ClientDelta, Text: ev.Text}); err != nil {
					return outcome{err: apierr.Wrap(apierr.KindCancelled, err, "client sink failed"), emitted: emitted}
				}

			case engine.EventStatus:
				if err := deliver(ClientEvent{Type: ClientStatus, Status: ev.Status}); err != nil {
					return outcome{err: apierr.Wrap(apierr.KindCancelled, err, "client sink failed"), emitted: emitted}
				}

			case engine.EventToolStart, engine.EventToolResult:
				emitted = true
				if ev.Type == engine.EventToolStart {
					toolsUsed = append(toolsUsed, ev.Tool)
				}
				if err := deliver(ClientEvent{Type: ClientTool, Tool: ev.Tool, Status: string(ev.Type)}); err != nil {
					return outcome{err: apierr.Wrap(apierr.KindCancelled, err, "client sink failed"), emitted: emitted}
				}

			case engine.EventResult:
				result := ev.Result
				if result == nil {
					result = &engine.Result{}
				}
				if result.Text == "" {
					result.Text = text.String()
				}
				if len(result.ToolsUsed) == 0 {
					result.ToolsUsed = permission.MergeAllowedTools(toolsUsed)
				}
				_ = deliver(ClientEvent{
					Type:      ClientDone,
					SessionID: sessionID,
					Response:  result.Text,
					ToolsUsed: result.ToolsUsed,
				})
				return outcome{result: result, emitted: true}

			case engine.EventError:
				return outcome{err: apierr.New(apierr.KindEngineFailure, "%s", ev.Message), emitted: emitted}
			}
		}
	}
}

// settleFailed records a failed run: one complete system-event turn in a
// single write, an error client event, and the failure on the bus.
func (c *Coordinator) settleFailed(ctx context.Context, req Request, runID string, sink Sink, cause error) (*Result, error) {
	msg := apierr.MessageOf(cause)
	c.log.Error().Err(cause).Str("session", req.SessionID).Str("run", runID).Msg("run failed")

	turn := session.NewTurn(session.RoleSystemEvent, fmt.Sprintf("run failed: %s", msg))
	if _, err := c.sessions.Append(ctx, req.SessionID, turn); err != nil {
		c.log.Error().Err(err).Str("session", req.SessionID).Msg("persisting failed run failed")
	}

	if sink != nil {
		_ = sink.OnEvent(ClientEvent{Type: ClientError, SessionID: req.SessionID, Error: msg})
	}
	c.bus.Publish(event.Event{Type: event.RunFailed, Data: event.RunData{
		SessionID: req.SessionID, RunID: runID, Error: msg,
	}})
	return &Result{SessionID: req.SessionID, State: StateFailed}, cause
}

func toEngineHistory(turns []session.Turn) []engine.HistoryTurn {
	if len(turns) == 0 {
		return nil
	}
	history := make([]engine.HistoryTurn, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == session.RoleSystemEvent {
			continue
		}
		history = append(history, engine.HistoryTurn{Role: string(turn.Role), Content: turn.Content})
	}
	return history
}

func newAssistantTurn(result *engine.Result) session.Turn {
	turn := session.NewTurn(session.RoleAssistant, result.Text)
	turn.ToolsUsed = result.ToolsUsed
	return turn
}
