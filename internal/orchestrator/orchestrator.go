package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"coffre/internal/config"
	"coffre/internal/daemonctl"
	"coffre/internal/installer"
	"coffre/internal/ipc"
	"coffre/internal/journal"
	"coffre/internal/logging"
)

// Options configures an Orchestrator. Dialer and Supervisor default to the
// production implementations; Locator defaults to config.Locate.
type Options struct {
	// ConfPath is an explicit config file path, or empty.
	ConfPath string
	// DataDir is an explicit data directory, or empty.
	DataDir string

	Locator    Locator
	Dialer     Dialer
	Supervisor Supervisor
	Journal    Recorder
	Logger     *slog.Logger

	// WatchConfig enables re-resolution when the config file changes while
	// the orchestrator sits in PhaseUnrecoverable.
	WatchConfig bool
}

// Orchestrator owns the application lifecycle. All mutation happens on the
// goroutine running Run; exported methods hand requests to that goroutine.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	events  chan event
	updates chan AppState

	stateMu     sync.RWMutex
	state       AppState
	liveSession Session

	// Everything below is owned by the Run goroutine.
	gen      int
	cfg      *config.Config
	confPath string
	policy   retryPolicy
	attempt  int
	started  time.Time
	machine  *installer.Machine
	handle   Handle
	session  Session
	retry    *time.Timer
	watching bool
	loopDone chan struct{}
}

// ErrStopped reports a request made after the event loop has exited.
var ErrStopped = errors.New("orchestrator stopped")

type event interface{ isEvent() }

type evResolved struct {
	cfg  *config.Config
	path string
	err  error
}

type evAttemptResult struct {
	gen     int
	handle  Handle
	session Session
	info    *ipc.GetInfoResponse
	err     error
}

type evRetryDue struct{ gen int }

type evSessionLost struct{ gen int }

type evConfigChanged struct{}

type evRequest struct {
	apply func() error
	reply chan error
}

func (evResolved) isEvent()      {}
func (evAttemptResult) isEvent() {}
func (evRetryDue) isEvent()      {}
func (evSessionLost) isEvent()   {}
func (evConfigChanged) isEvent() {}
func (evRequest) isEvent()       {}

// New builds an Orchestrator. Run must be called before any request method.
func New(opts Options) *Orchestrator {
	if opts.Locator == nil {
		opts.Locator = config.Locate
	}
	if opts.Dialer == nil {
		opts.Dialer = SocketDialer{}
	}
	if opts.Supervisor == nil {
		opts.Supervisor = NewProcessSupervisor(daemonctl.New(opts.Logger))
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Orchestrator{
		opts:     opts,
		logger:   opts.Logger,
		events:   make(chan event, 16),
		updates:  make(chan AppState, 1),
		state:    AppState{Phase: PhaseLoading},
		loopDone: make(chan struct{}),
	}
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() AppState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

// Updates delivers state transitions. The channel is coalescing: when the
// consumer lags only the most recent state is retained.
func (o *Orchestrator) Updates() <-chan AppState {
	return o.updates
}

// Session returns the live session, or nil outside PhaseRunning.
func (o *Orchestrator) Session() Session {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	if o.state.Phase != PhaseRunning {
		return nil
	}
	return o.liveSession
}

// Run executes the event loop until ctx is canceled. It resolves
// configuration, then either starts the installer or the connection cycle.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.loopDone)
	o.setState(AppState{Phase: PhaseLoading})
	go o.resolve()
	for {
		select {
		case <-ctx.Done():
			o.teardown(ctx)
			return ctx.Err()
		case ev := <-o.events:
			o.dispatch(ctx, ev)
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case evResolved:
		o.onResolved(ctx, ev)
	case evAttemptResult:
		o.onAttemptResult(ctx, ev)
	case evRetryDue:
		o.onRetryDue(ctx, ev)
	case evSessionLost:
		o.onSessionLost(ctx, ev)
	case evConfigChanged:
		o.onConfigChanged(ctx)
	case evRequest:
		ev.reply <- ev.apply()
	}
}

// post hands an event to the loop. Events raised after the loop has exited
// are discarded so watcher goroutines cannot wedge on a full buffer.
func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.loopDone:
	}
}

func (o *Orchestrator) resolve() {
	cfg, path, err := o.opts.Locator(o.opts.ConfPath, o.opts.DataDir)
	o.post(evResolved{cfg: cfg, path: path, err: err})
}

func (o *Orchestrator) onResolved(ctx context.Context, ev evResolved) {
	o.confPath = ev.path
	if o.opts.WatchConfig && !o.watching && ev.path != "" {
		o.watching = true
		go o.watchConfig(ctx, ev.path)
	}
	switch {
	case ev.err == nil:
		o.cfg = ev.cfg
		o.startConnecting(ctx)
	case errors.Is(ev.err, config.ErrNotFound):
		o.logger.Info("no configuration found, starting installer",
			logging.String("path", ev.path))
		o.machine = installer.New()
		snap := o.machine.Snapshot()
		o.setState(AppState{Phase: PhaseInstaller, Installer: &snap})
	default:
		o.logger.Error("configuration unusable", logging.Error(ev.err))
		o.fail(ctx, Failure{Kind: FailConfigInvalid, Detail: ev.err.Error()})
	}
}

// startConnecting begins a fresh connection cycle with a full attempt
// budget. Any in-flight attempt from a previous cycle is invalidated by the
// generation bump.
func (o *Orchestrator) startConnecting(ctx context.Context) {
	o.gen++
	o.stopRetryTimer()
	o.attempt = 1
	o.started = time.Now()
	o.policy = policyFromConfig(o.cfg)
	o.setState(AppState{Phase: PhaseConnecting, Conn: ConnState{
		Phase:   ConnDialing,
		Attempt: o.attempt,
		Started: o.started,
	}})
	o.record(ctx, journal.EventConnectAttempt, fmt.Sprintf("attempt %d", o.attempt))
	go o.runAttempt(ctx, o.gen, o.cfg, o.ownedHandle())
}

// ownedHandle returns the handle of a daemon this process spawned, or nil.
// External handles are never carried forward; re-probing decides their fate.
func (o *Orchestrator) ownedHandle() Handle {
	if o.handle != nil && !o.handle.External() {
		return o.handle
	}
	return nil
}

// runAttempt performs one supervise+dial+handshake sequence off the loop
// goroutine and posts the outcome. A daemon spawned by an earlier attempt is
// reused as long as it lives: re-running the supervisor would find its socket
// and misclassify our own child as external, forfeiting the duty to stop it.
func (o *Orchestrator) runAttempt(ctx context.Context, gen int, cfg *config.Config, handle Handle) {
	if handle != nil {
		if exitErr := handle.ExitError(); exitErr != nil {
			o.post(evAttemptResult{gen: gen, handle: handle, err: exitErr})
			return
		}
	} else {
		spawned, err := o.opts.Supervisor.EnsureRunning(ctx, cfg)
		if err != nil {
			o.post(evAttemptResult{gen: gen, err: err})
			return
		}
		handle = spawned
	}
	session, err := o.opts.Dialer.Dial(ctx, cfg)
	if err != nil {
		o.post(evAttemptResult{gen: gen, handle: handle, err: o.preferExitError(handle, err)})
		return
	}
	info, err := session.GetInfo(ctx)
	if err != nil {
		session.Close()
		o.post(evAttemptResult{gen: gen, handle: handle, err: o.preferExitError(handle, err)})
		return
	}
	o.post(evAttemptResult{gen: gen, handle: handle, session: session, info: info})
}

// preferExitError substitutes the daemon's exit diagnostics for a dial or
// handshake error when an owned daemon died underneath the attempt.
func (o *Orchestrator) preferExitError(handle Handle, err error) error {
	if handle == nil || handle.External() {
		return err
	}
	if exitErr := handle.ExitError(); exitErr != nil {
		return exitErr
	}
	return err
}

func (o *Orchestrator) onAttemptResult(ctx context.Context, ev evAttemptResult) {
	if ev.gen != o.gen {
		// Stale attempt from before a cancel or restart.
		if ev.session != nil {
			ev.session.Close()
		}
		return
	}
	if ev.err == nil {
		o.handle = ev.handle
		o.session = ev.session
		external := ev.handle != nil && ev.handle.External()
		o.logger.Info("daemon session established",
			logging.Int("attempt", o.attempt),
			logging.Bool("external", external))
		o.record(ctx, journal.EventConnected, fmt.Sprintf("attempt %d", o.attempt))
		o.setState(AppState{Phase: PhaseRunning, Conn: ConnState{
			Phase:   ConnEstablished,
			Attempt: o.attempt,
			Started: o.started,
		}, Daemon: daemonInfo(ev.info, external)})
		go o.watchSession(o.gen, ev.session)
		return
	}

	if ev.handle != nil {
		o.handle = ev.handle
	}
	failure, fatal := classify(ev.err)
	if fatal {
		o.logger.Error("connection failed permanently",
			logging.String("reason", string(failure.Kind)),
			logging.Error(ev.err))
		o.fail(ctx, failure)
		return
	}
	if o.attempt >= o.budget() {
		o.logger.Error("connection attempts exhausted",
			logging.Int("attempts", o.attempt),
			logging.Error(ev.err))
		o.fail(ctx, Failure{
			Kind:   FailAttemptsExhausted,
			Detail: fmt.Sprintf("gave up after %d attempts: %v", o.attempt, ev.err),
		})
		return
	}
	delay := o.policy.delay(o.attempt)
	o.logger.Warn("connection attempt failed, retrying",
		logging.Int("attempt", o.attempt),
		logging.Duration("backoff", delay),
		logging.Error(ev.err))
	o.setState(AppState{Phase: PhaseConnecting, Conn: ConnState{
		Phase:     ConnDialing,
		Attempt:   o.attempt,
		Started:   o.started,
		NextRetry: delay,
		LastError: ev.err.Error(),
	}})
	gen := o.gen
	o.retry = time.AfterFunc(delay, func() {
		o.post(evRetryDue{gen: gen})
	})
}

func (o *Orchestrator) onRetryDue(ctx context.Context, ev evRetryDue) {
	if ev.gen != o.gen {
		return
	}
	o.attempt++
	o.setState(AppState{Phase: PhaseConnecting, Conn: ConnState{
		Phase:   ConnDialing,
		Attempt: o.attempt,
		Started: o.started,
	}})
	o.record(ctx, journal.EventConnectAttempt, fmt.Sprintf("attempt %d", o.attempt))
	go o.runAttempt(ctx, o.gen, o.cfg, o.ownedHandle())
}

// watchSession waits for the session transport to die and reports it.
func (o *Orchestrator) watchSession(gen int, session Session) {
	<-session.Done()
	o.post(evSessionLost{gen: gen})
}

func (o *Orchestrator) onSessionLost(ctx context.Context, ev evSessionLost) {
	if ev.gen != o.gen {
		return
	}
	o.logger.Warn("daemon session lost, reconnecting")
	o.record(ctx, journal.EventDisconnected, "session transport closed")
	if o.session != nil {
		o.session.Close()
		o.session = nil
	}
	// A lost session starts a fresh cycle with a full attempt budget.
	o.startConnecting(ctx)
}

func (o *Orchestrator) onConfigChanged(ctx context.Context) {
	if o.Snapshot().Phase != PhaseUnrecoverable {
		o.logger.Debug("config change ignored outside unrecoverable state")
		return
	}
	o.logger.Info("configuration changed, re-resolving")
	o.setState(AppState{Phase: PhaseLoading})
	go o.resolve()
}

func (o *Orchestrator) budget() int {
	if o.cfg == nil || o.cfg.Connect.AttemptBudget <= 0 {
		return 1
	}
	return o.cfg.Connect.AttemptBudget
}

func (o *Orchestrator) fail(ctx context.Context, failure Failure) {
	o.gen++
	o.stopRetryTimer()
	o.record(ctx, journal.EventUnrecoverable, string(failure.Kind)+": "+failure.Detail)
	o.setState(AppState{Phase: PhaseUnrecoverable, Failure: &failure})
}

func (o *Orchestrator) stopRetryTimer() {
	if o.retry != nil {
		o.retry.Stop()
		o.retry = nil
	}
}

// classify splits an attempt error into a failure description and whether it
// is fatal. Spawn failures and authorization rejections never resolve on
// their own; socket and timeout errors can.
func classify(err error) (Failure, bool) {
	if spawnErr, ok := daemonctl.AsSpawnError(err); ok {
		switch spawnErr.Kind {
		case daemonctl.KindExecutableNotFound:
			return Failure{Kind: FailExecutableNotFound, Detail: err.Error()}, true
		case daemonctl.KindLaunchFailed:
			return Failure{Kind: FailLaunchFailed, Detail: err.Error()}, true
		case daemonctl.KindExitedEarly:
			return Failure{Kind: FailDaemonExited, Detail: err.Error()}, true
		}
	}
	if ipcErr, ok := ipc.AsError(err); ok {
		if ipcErr.Kind == ipc.KindRejected {
			return Failure{Kind: FailRejected, Detail: err.Error()}, true
		}
		return Failure{}, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Failure{}, false
	}
	return Failure{Kind: FailInternal, Detail: err.Error()}, true
}

// teardown closes the session and stops an owned daemon on shutdown.
func (o *Orchestrator) teardown(ctx context.Context) {
	o.gen++
	o.stopRetryTimer()
	if o.handle != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		timeout := 10 * time.Second
		if o.cfg != nil && o.cfg.Daemon.StopTimeout > 0 {
			timeout = time.Duration(o.cfg.Daemon.StopTimeout) * time.Second
		}
		if err := o.opts.Supervisor.Stop(stopCtx, o.handle, o.session, timeout); err != nil {
			o.logger.Warn("daemon stop failed", logging.Error(err))
		}
		o.handle = nil
	}
	if o.session != nil {
		o.session.Close()
		o.session = nil
	}
}

func (o *Orchestrator) setState(s AppState) {
	o.stateMu.Lock()
	o.state = s
	if s.Phase == PhaseRunning {
		o.liveSession = o.session
	} else {
		o.liveSession = nil
	}
	o.stateMu.Unlock()
	o.record(context.Background(), journal.EventStateChange, s.Phase.String())
	// Coalesce: keep only the newest state when the consumer lags.
	for {
		select {
		case o.updates <- s:
			return
		default:
		}
		select {
		case <-o.updates:
		default:
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, kind journal.EventKind, detail string) {
	if o.opts.Journal == nil {
		return
	}
	if err := o.opts.Journal.Record(ctx, kind, detail); err != nil {
		o.logger.Debug("journal write failed", logging.Error(err))
	}
}

// request runs fn on the loop goroutine and waits for its result.
func (o *Orchestrator) request(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case o.events <- evRequest{apply: fn, reply: reply}:
	case <-o.loopDone:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-o.loopDone:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errNoInstaller = errors.New("no installer in progress")

// AdvanceInstaller submits input for the installer's current step. The input
// must be the installer type matching that step.
func (o *Orchestrator) AdvanceInstaller(ctx context.Context, input any) error {
	return o.request(ctx, func() error {
		if o.machine == nil {
			return errNoInstaller
		}
		err := o.machine.Advance(input)
		snap := o.machine.Snapshot()
		o.record(ctx, journal.EventInstallerStep, snap.Step.String())
		o.setState(AppState{Phase: PhaseInstaller, Installer: &snap})
		return err
	})
}

// BackInstaller returns the installer to the previous step, preserving the
// input already entered there.
func (o *Orchestrator) BackInstaller(ctx context.Context) error {
	return o.request(ctx, func() error {
		if o.machine == nil {
			return errNoInstaller
		}
		err := o.machine.Back()
		snap := o.machine.Snapshot()
		o.setState(AppState{Phase: PhaseInstaller, Installer: &snap})
		return err
	})
}

// CommitInstaller writes the collected configuration and, on success, starts
// the connection cycle with it.
func (o *Orchestrator) CommitInstaller(ctx context.Context) error {
	return o.request(ctx, func() error {
		if o.machine == nil {
			return errNoInstaller
		}
		cfg, err := o.machine.Commit(o.confPath)
		if err != nil {
			snap := o.machine.Snapshot()
			o.setState(AppState{Phase: PhaseInstaller, Installer: &snap})
			return err
		}
		o.record(ctx, journal.EventConfigWritten, o.confPath)
		o.machine = nil
		o.cfg = cfg
		o.startConnecting(ctx)
		return nil
	})
}

// AbortInstaller discards installer progress and re-resolves configuration.
func (o *Orchestrator) AbortInstaller(ctx context.Context) error {
	return o.request(ctx, func() error {
		if o.machine == nil {
			return errNoInstaller
		}
		o.machine = nil
		o.setState(AppState{Phase: PhaseLoading})
		go o.resolve()
		return nil
	})
}

// CancelConnect abandons the current connection cycle. Any in-flight attempt
// is discarded when it completes. A later Reconnect starts over.
func (o *Orchestrator) CancelConnect(ctx context.Context) error {
	return o.request(ctx, func() error {
		if o.Snapshot().Phase != PhaseConnecting {
			return errors.New("no connection cycle in progress")
		}
		o.gen++
		o.stopRetryTimer()
		o.setState(AppState{Phase: PhaseConnecting, Conn: ConnState{
			Phase:   ConnIdle,
			Started: o.started,
		}})
		return nil
	})
}

// Reconnect starts a fresh connection cycle. It is accepted when idle after
// a cancel and from PhaseUnrecoverable after the underlying cause has been
// addressed.
func (o *Orchestrator) Reconnect(ctx context.Context) error {
	return o.request(ctx, func() error {
		snap := o.Snapshot()
		switch snap.Phase {
		case PhaseConnecting:
			if snap.Conn.Phase != ConnIdle {
				return errors.New("connection cycle already in progress")
			}
		case PhaseUnrecoverable:
			if o.cfg == nil {
				o.setState(AppState{Phase: PhaseLoading})
				go o.resolve()
				return nil
			}
		default:
			return fmt.Errorf("cannot reconnect while %s", snap.Phase)
		}
		o.startConnecting(ctx)
		return nil
	})
}
