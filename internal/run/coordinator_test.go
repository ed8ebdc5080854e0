package run

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowai/burrow/internal/apierr"
	"github.com/burrowai/burrow/internal/command"
	"github.com/burrowai/burrow/internal/engine"
	"github.com/burrowai/burrow/internal/event"
	"github.com/burrowai/burrow/internal/extension"
	"github.com/burrowai/burrow/internal/session"
	"github.com/burrowai/burrow/internal/storage"
)

type fixture struct {
	coord      *Coordinator
	sessions   *session.Store
	locker     *session.Locker
	extensions *extension.Store
	eng        *engine.Scripted
	bus        *event.Bus
}

func newFixture(t *testing.T, eng *engine.Scripted, opts Options) *fixture {
	t.Helper()
	root := t.TempDir()
	sessions := session.NewStore(storage.New(filepath.Join(root, "storage")))
	locker := session.NewLocker()
	extensions := extension.NewStore(
		filepath.Join(root, "skills"),
		filepath.Join(root, "commands"),
		extension.DefaultArchiveLimits(),
	)
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	return &fixture{
		coord:      NewCoordinator(sessions, locker, command.NewResolver(extensions), eng, bus, opts),
		sessions:   sessions,
		locker:     locker,
		extensions: extensions,
		eng:        eng,
		bus:        bus,
	}
}

func TestRunAggregatesResponse(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("Hel", "lo")}, Options{})
	ctx := context.Background()

	var sink AggregateSink
	res, err := f.coord.Run(ctx, Request{SessionID: "s1", Message: "hi"}, &sink)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "Hello", res.Response)
	assert.Equal(t, "Hello", sink.Response)
	assert.Equal(t, 2, sink.Deltas)
}

func TestRunPersistsTurnPair(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("answer")}, Options{})
	ctx := context.Background()

	_, err := f.coord.Run(ctx, Request{SessionID: "s1", Message: "question"}, nil)
	require.NoError(t, err)

	sess, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, session.RoleUser, sess.Turns[0].Role)
	assert.Equal(t, "question", sess.Turns[0].Content)
	assert.Equal(t, session.RoleAssistant, sess.Turns[1].Role)
	assert.Equal(t, "answer", sess.Turns[1].Content)
}

func TestRunConflictWhileBusy(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("slow"), Hang: true}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sink := SinkFunc(func(e ClientEvent) error {
			if e.Type == ClientDelta {
				select {
				case <-started:
				default:
					close(started)
				}
			}
			return nil
		})
		_, _ = f.coord.Run(ctx, Request{SessionID: "busy", Message: "first"}, sink)
	}()

	<-started
	_, err := f.coord.Run(context.Background(), Request{SessionID: "busy", Message: "second"}, nil)
	assert.Equal(t, apierr.KindConflict, apierr.KindOf(err))

	cancel()
	wg.Wait()
	assert.False(t, f.locker.Busy("busy"))
}

func TestRunBypassRejectedWithoutFlag(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("x")}, Options{AllowBypass: false})

	_, err := f.coord.Run(context.Background(), Request{
		SessionID:      "s1",
		Message:        "hi",
		PermissionMode: "bypassPermissions",
	}, nil)
	assert.Equal(t, apierr.KindPolicyViolation, apierr.KindOf(err))

	// Rejected before any mutation.
	_, err = f.sessions.Get(context.Background(), "s1")
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}

func TestRunResolvesCommand(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("done")}, Options{})
	_, err := f.extensions.PutCommand("greet", `---
allowed-tools: Read
model: haiku
---
Hello $1, you said: $ARGUMENTS
`)
	require.NoError(t, err)

	_, err = f.coord.Run(context.Background(), Request{
		SessionID: "s1",
		Message:   `Chris "ship it"`,
		Command:   "greet",
	}, nil)
	require.NoError(t, err)

	require.NotNil(t, f.eng.LastRequest)
	assert.Equal(t, `Hello Chris, you said: Chris "ship it"`, f.eng.LastRequest.Prompt)
	assert.Equal(t, []string{"Read"}, f.eng.LastRequest.AllowedTools)
	assert.Equal(t, "haiku", f.eng.LastRequest.Model)
}

func TestRunCallerModelBeatsCommandModel(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("done")}, Options{DefaultModel: "base"})
	_, err := f.extensions.PutCommand("pick", "---\nmodel: haiku\n---\ngo\n")
	require.NoError(t, err)

	_, err = f.coord.Run(context.Background(), Request{
		SessionID: "s1", Message: "x", Command: "pick", Model: "opus",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "opus", f.eng.LastRequest.Model)

	_, err = f.coord.Run(context.Background(), Request{SessionID: "s2", Message: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "base", f.eng.LastRequest.Model)
}

func TestRunUnknownCommandFailsBeforeLock(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("x")}, Options{})

	_, err := f.coord.Run(context.Background(), Request{
		SessionID: "s1", Message: "x", Command: "ghost",
	}, nil)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
	assert.False(t, f.locker.Busy("s1"))
}

func TestRunEngineErrorPersistsOneSystemTurn(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: []engine.Event{
		{Type: engine.EventTextDelta, Text: "part"},
		{Type: engine.EventError, Message: "engine blew up"},
	}}, Options{})
	ctx := context.Background()

	var events []ClientEvent
	sink := SinkFunc(func(e ClientEvent) error {
		events = append(events, e)
		return nil
	})

	res, err := f.coord.Run(ctx, Request{SessionID: "s1", Message: "hi"}, sink)
	assert.Equal(t, apierr.KindEngineFailure, apierr.KindOf(err))
	assert.Equal(t, StateFailed, res.State)

	last := events[len(events)-1]
	assert.Equal(t, ClientError, last.Type)
	assert.Contains(t, last.Error, "engine blew up")

	sess, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, session.RoleSystemEvent, sess.Turns[0].Role)
	assert.Contains(t, sess.Turns[0].Content, "engine blew up")
	assert.False(t, f.locker.Busy("s1"))
}

func TestRunTimeoutIsEngineFailure(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("x"), Hang: true},
		Options{Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	res, err := f.coord.Run(ctx, Request{SessionID: "slow", Message: "hi"}, nil)
	assert.Equal(t, apierr.KindEngineFailure, apierr.KindOf(err))
	assert.Equal(t, StateFailed, res.State)

	sess, err := f.sessions.Get(ctx, "slow")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, session.RoleSystemEvent, sess.Turns[0].Role)
	assert.False(t, f.locker.Busy("slow"))
}

func TestRunCancelPersistsNothing(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("partial"), Hang: true}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	sink := SinkFunc(func(e ClientEvent) error {
		if e.Type == ClientDelta {
			cancel()
		}
		return nil
	})

	res, err := f.coord.Run(ctx, Request{SessionID: "gone", Message: "hi"}, sink)
	assert.Equal(t, apierr.KindCancelled, apierr.KindOf(err))
	assert.Equal(t, StateCancelled, res.State)

	// Only the Touch metadata write happened; no turns.
	sess, err := f.sessions.Get(context.Background(), "gone")
	require.NoError(t, err)
	assert.Empty(t, sess.Turns)
	assert.False(t, f.locker.Busy("gone"))
}

func TestRunSinkErrorCancelsRun(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("a", "b", "c")}, Options{})

	sink := SinkFunc(func(e ClientEvent) error {
		return assert.AnError // client write failed
	})

	res, err := f.coord.Run(context.Background(), Request{SessionID: "drop", Message: "hi"}, sink)
	assert.Equal(t, apierr.KindCancelled, apierr.KindOf(err))
	assert.Equal(t, StateCancelled, res.State)
	assert.False(t, f.locker.Busy("drop"))
}

func TestRunValidation(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("x")}, Options{})

	_, err := f.coord.Run(context.Background(), Request{Message: "hi"}, nil)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	_, err = f.coord.Run(context.Background(), Request{SessionID: "s"}, nil)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("ok")}, Options{})

	var mu sync.Mutex
	var seen []event.Type
	done := make(chan struct{})
	f.bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
		if e.Type == event.RunCompleted {
			close(done)
		}
	})

	_, err := f.coord.Run(context.Background(), Request{SessionID: "s1", Message: "hi"}, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run.completed never published")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, event.RunStarted)
	assert.Contains(t, seen, event.RunCompleted)
}

func TestRunFilteredHistoryReachesEngine(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("second")}, Options{})
	ctx := context.Background()

	_, err := f.sessions.Append(ctx, "hist",
		session.NewTurn(session.RoleUser, "earlier question"),
		session.NewTurn(session.RoleAssistant, "earlier answer"),
		session.NewTurn(session.RoleSystemEvent, "run failed: boom"),
	)
	require.NoError(t, err)

	_, err = f.coord.Run(ctx, Request{SessionID: "hist", Message: "followup"}, nil)
	require.NoError(t, err)

	history := f.eng.LastRequest.History
	require.Len(t, history, 2, "system-event turns stay out of engine history")
	assert.Equal(t, "earlier question", history[0].Content)
	assert.Equal(t, "earlier answer", history[1].Content)
}

// modelSwitchEngine fails the first invocation and succeeds afterwards,
// recording every request it sees.
type modelSwitchEngine struct {
	mu       sync.Mutex
	requests []engine.Request
	first    *engine.Scripted
	rest     *engine.Scripted
}

func (m *modelSwitchEngine) Invoke(ctx context.Context, req engine.Request) (*engine.Stream, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	n := len(m.requests)
	m.mu.Unlock()
	if n == 1 {
		return m.first.Invoke(ctx, req)
	}
	return m.rest.Invoke(ctx, req)
}

func newSwitchFixture(t *testing.T, eng engine.Engine, opts Options) (*Coordinator, *session.Store) {
	t.Helper()
	root := t.TempDir()
	sessions := session.NewStore(storage.New(filepath.Join(root, "storage")))
	extensions := extension.NewStore(
		filepath.Join(root, "skills"),
		filepath.Join(root, "commands"),
		extension.DefaultArchiveLimits(),
	)
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	return NewCoordinator(sessions, session.NewLocker(), command.NewResolver(extensions), eng, bus, opts), sessions
}

func TestRunModelOverrideFailureRetriesOnDefault(t *testing.T) {
	eng := &modelSwitchEngine{
		first: &engine.Scripted{Events: []engine.Event{
			{Type: engine.EventError, Message: "model not available"},
		}},
		rest: &engine.Scripted{Events: engine.ScriptResult("recovered")},
	}
	coord, _ := newSwitchFixture(t, eng, Options{})

	var sink AggregateSink
	res, err := coord.Run(context.Background(), Request{
		SessionID: "fb", Message: "hi", Model: "bogus-model",
	}, &sink)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "recovered", res.Response)

	require.Len(t, eng.requests, 2)
	assert.Equal(t, "bogus-model", eng.requests[0].Model)
	assert.Empty(t, eng.requests[1].Model)
}

func TestRunNoRetryWithoutModelOverride(t *testing.T) {
	eng := &modelSwitchEngine{
		first: &engine.Scripted{Events: []engine.Event{
			{Type: engine.EventError, Message: "boom"},
		}},
		rest: &engine.Scripted{Events: engine.ScriptResult("unreachable")},
	}
	coord, _ := newSwitchFixture(t, eng, Options{})

	_, err := coord.Run(context.Background(), Request{SessionID: "s1", Message: "hi"}, nil)
	assert.Equal(t, apierr.KindEngineFailure, apierr.KindOf(err))
	assert.Len(t, eng.requests, 1)
}

func TestRunNoRetryAfterOutput(t *testing.T) {
	eng := &modelSwitchEngine{
		first: &engine.Scripted{Events: []engine.Event{
			{Type: engine.EventTextDelta, Text: "partial"},
			{Type: engine.EventError, Message: "died midway"},
		}},
		rest: &engine.Scripted{Events: engine.ScriptResult("unreachable")},
	}
	coord, _ := newSwitchFixture(t, eng, Options{})

	_, err := coord.Run(context.Background(), Request{
		SessionID: "s1", Message: "hi", Model: "opus",
	}, nil)
	assert.Equal(t, apierr.KindEngineFailure, apierr.KindOf(err))
	assert.Len(t, eng.requests, 1, "output already reached the client, no retry")
}

func TestRunClearResetsTranscript(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("context cleared")}, Options{})
	ctx := context.Background()

	_, err := f.sessions.Append(ctx, "wipe",
		session.NewTurn(session.RoleUser, "old question"),
		session.NewTurn(session.RoleAssistant, "old answer"),
	)
	require.NoError(t, err)

	res, err := f.coord.Run(ctx, Request{SessionID: "wipe", Message: "/clear"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)

	sess, err := f.sessions.Get(ctx, "wipe")
	require.NoError(t, err)
	assert.Empty(t, sess.Turns, "transcript is reset, not appended to")
}

func TestRunRejectsUnsafeSessionID(t *testing.T) {
	f := newFixture(t, &engine.Scripted{Events: engine.ScriptResult("x")}, Options{})

	_, err := f.coord.Run(context.Background(), Request{
		SessionID: "../../../escaped", Message: "hi",
	}, nil)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	assert.Nil(t, f.eng.LastRequest, "rejected before reaching the engine")
}
