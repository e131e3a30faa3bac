// Package session implements the live-session control plane: the clock that
// turns schedules into admission phases, the per-session readiness registry,
// and the coordinator state machine that decides when two parties may join a
// consultation.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/advicelink/sessiond/internal/models"
	"github.com/advicelink/sessiond/internal/policy"
	"github.com/advicelink/sessiond/internal/store"
)

// Cancellation reasons recorded on the session for downstream refund and
// dispute handling.
const (
	ReasonExpertDisconnect = "expert_disconnect_timeout"
	ReasonClientDisconnect = "client_disconnect_timeout"
	ReasonScheduleEnd      = "schedule_end"
	ReasonAdminRequest     = "admin_request"
)

type response struct {
	snap Snapshot
	err  error
}

// command is one unit of work on the session's serial queue. Ticks and timer
// expirations are enqueued through the same channel as participant commands,
// so every state read-modify-write is resolved by queue order.
type command struct {
	action   string
	mutating bool
	run      func() error
	resp     chan response
}

// Coordinator owns one session's lifecycle. All state behind it (the session
// record and the readiness registry) is touched only by the run goroutine,
// which drains commands strictly in arrival order. That single-writer
// discipline is what makes the ACTIVE transition at-most-once.
type Coordinator struct {
	sess     *models.Session
	registry *Registry
	pol      policy.Policy
	store    store.SessionStore
	sinks    []Sink
	now      func() time.Time

	cmds    chan command
	stop    chan struct{}
	stopped chan struct{}

	// readinessDirty is set by the registry callback while a command is
	// being processed, so admission is re-checked on readiness changes as
	// well as on ticks.
	readinessDirty bool
}

// Config wires a coordinator's collaborators. Now is optional and defaults to
// time.Now; tests inject a fake clock through it.
type Config struct {
	Session *models.Session
	Policy  policy.Policy
	Store   store.SessionStore
	Sinks   []Sink
	Now     func() time.Time
}

// NewCoordinator builds the state machine for one session. Call Start to
// begin processing commands.
func NewCoordinator(cfg Config) *Coordinator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	c := &Coordinator{
		sess:     cfg.Session,
		registry: NewRegistry(cfg.Session.Reservation, now),
		pol:      cfg.Policy,
		store:    cfg.Store,
		sinks:    cfg.Sinks,
		now:      now,
		cmds:     make(chan command, 16),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	c.registry.OnChange(func(models.Role) { c.readinessDirty = true })
	return c
}

// Start launches the session actor. ctx bounds store writes made by the
// actor; cancelling it does not stop the actor, Stop does.
func (c *Coordinator) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop terminates the actor. Pending commands are answered with
// ErrSessionClosed. Idempotent via the manager, which calls it once.
func (c *Coordinator) Stop() {
	close(c.stop)
	<-c.stopped
}

// SessionID returns the coordinated session's id.
func (c *Coordinator) SessionID() uuid.UUID {
	return c.sess.SessionID
}

// Connect records transport-level presence for a role. The first connect
// moves a PRE_SESSION session into the waiting room; reconnects while ACTIVE
// clear any pending disconnect grace.
func (c *Coordinator) Connect(ctx context.Context, role models.Role) (Snapshot, error) {
	return c.do(ctx, "connect", true, func() error {
		if c.sess.Status == models.StatusScheduled {
			return invalidTransition(c.sess.Status, "connect")
		}
		if err := c.registry.SetOnline(role, true); err != nil {
			return err
		}
		if c.sess.Status == models.StatusPreSession {
			c.transition(ctx, models.StatusWaitingRoom, "", EventWaitingRoom)
		}
		return nil
	})
}

// Disconnect records a role going offline. In the waiting room this only
// clears readiness; while ACTIVE it arms the disconnect grace timer.
func (c *Coordinator) Disconnect(ctx context.Context, role models.Role) (Snapshot, error) {
	return c.do(ctx, "disconnect", true, func() error {
		if err := c.registry.SetOnline(role, false); err != nil {
			return err
		}
		if c.sess.Status == models.StatusActive {
			c.armGraceTimer(role)
		}
		return nil
	})
}

// SubmitDeviceStatus merges a preflight device report for a role.
func (c *Coordinator) SubmitDeviceStatus(ctx context.Context, role models.Role, report DeviceReport) (Snapshot, error) {
	return c.do(ctx, "submit device status", true, func() error {
		return c.registry.UpdateDeviceStatus(role, report)
	})
}

// SubmitNetworkQuality records a network probe result for a role.
func (c *Coordinator) SubmitNetworkQuality(ctx context.Context, role models.Role, nq models.NetworkQuality) (Snapshot, error) {
	return c.do(ctx, "submit network quality", true, func() error {
		return c.registry.UpdateNetworkQuality(role, nq)
	})
}

// SubmitReadiness records the explicit ready declaration for a role. Auto
// admission is re-evaluated immediately, not on the next tick.
func (c *Coordinator) SubmitReadiness(ctx context.Context, role models.Role, ready bool) (Snapshot, error) {
	return c.do(ctx, "submit readiness", true, func() error {
		if c.sess.Status != models.StatusPreSession && c.sess.Status != models.StatusWaitingRoom {
			return invalidTransition(c.sess.Status, "submit readiness")
		}
		return c.registry.SetReady(role, ready)
	})
}

// RequestEarlyStart is the manual start inside the early window. Both
// participants must be ready at the instant the request is processed; a stale
// ready flag on either side rejects it.
func (c *Coordinator) RequestEarlyStart(ctx context.Context, role models.Role) (Snapshot, error) {
	return c.do(ctx, "start early", true, func() error {
		if c.sess.Status != models.StatusWaitingRoom {
			return invalidTransition(c.sess.Status, "start early")
		}
		if !c.registry.BothReady() {
			return ErrNotEligible
		}
		if c.now().Before(c.sess.Reservation.ScheduledStart.Add(-c.pol.EarlyWindow)) {
			return ErrNotEligible
		}
		c.activate(ctx)
		return nil
	})
}

// End finishes the session explicitly. While ACTIVE it completes normally;
// before that it cancels with the given reason.
func (c *Coordinator) End(ctx context.Context, reason string) (Snapshot, error) {
	return c.do(ctx, "end session", true, func() error {
		switch c.sess.Status {
		case models.StatusActive:
			c.complete(ctx)
		default:
			c.cancel(ctx, reason)
		}
		return nil
	})
}

// Snapshot returns the current session view. Allowed in every state,
// including terminal ones.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	return c.do(ctx, "snapshot", false, func() error { return nil })
}

// do enqueues a command and waits for the actor's reply.
func (c *Coordinator) do(ctx context.Context, action string, mutating bool, run func() error) (Snapshot, error) {
	cmd := command{
		action:   action,
		mutating: mutating,
		run:      run,
		resp:     make(chan response, 1),
	}

	select {
	case c.cmds <- cmd:
	case <-c.stopped:
		return Snapshot{}, ErrSessionClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	select {
	case r := <-cmd.resp:
		return r.snap, r.err
	case <-c.stopped:
		return Snapshot{}, ErrSessionClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// enqueueInternal injects a timer-driven command into the same queue as
// participant commands. It never blocks the timer goroutine.
func (c *Coordinator) enqueueInternal(action string, run func() error) {
	cmd := command{action: action, mutating: true, run: run}
	select {
	case c.cmds <- cmd:
	case <-c.stop:
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.stopped)

	ticker := time.NewTicker(c.pol.TickInterval)
	defer ticker.Stop()

	// Catch up immediately: a session created (or resumed) inside the
	// preflight window must not wait a tick to advance.
	c.tick(ctx)

	for {
		select {
		case cmd := <-c.cmds:
			c.handle(ctx, cmd)
		case <-ticker.C:
			c.tick(ctx)
		case <-c.stop:
			return
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, cmd command) {
	var err error
	if cmd.mutating && c.sess.Status.IsTerminal() {
		err = ErrSessionClosed
	} else {
		c.readinessDirty = false
		err = cmd.run()
		if err == nil && c.readinessDirty {
			// Readiness changes re-check admission immediately so the
			// auto-start never waits on the next tick.
			c.evaluate(ctx)
			c.emit(ctx, EventReadinessChanged, "")
		}
	}

	if cmd.resp != nil {
		cmd.resp <- response{snap: c.snapshot(), err: err}
	} else if err != nil {
		log.Debug().
			Str("session_id", c.sess.SessionID.String()).
			Str("action", cmd.action).
			Err(err).
			Msg("internal command rejected")
	}
}

// tick is the scheduled wake-up: it re-derives the phase and drives every
// time-based transition.
func (c *Coordinator) tick(ctx context.Context) {
	if c.sess.Status.IsTerminal() {
		return
	}
	c.evaluate(ctx)
}

// evaluate drives all clock-derived transitions from the current instant.
func (c *Coordinator) evaluate(ctx context.Context) {
	now := c.now()
	ref := c.sess.Reservation

	// Past the scheduled end: a session that never went active expires,
	// an active one completes at the whistle.
	if !now.Before(ref.ScheduledEnd) {
		switch c.sess.Status {
		case models.StatusActive:
			c.complete(ctx)
		case models.StatusScheduled, models.StatusPreSession, models.StatusWaitingRoom:
			c.expire(ctx)
		}
		return
	}

	if c.sess.Status == models.StatusScheduled && !now.Before(ref.ScheduledStart.Add(-c.pol.PreflightWindow)) {
		c.transition(ctx, models.StatusPreSession, "", EventPreflightOpened)
	}

	if c.sess.Status == models.StatusWaitingRoom {
		timing := EvaluateClock(now, ref.ScheduledStart, ref.ScheduledEnd, c.pol.EarlyWindow)
		if timing.Phase == models.PhaseOpen && c.registry.BothReady() {
			c.activate(ctx)
		}
	}
}

// armGraceTimer schedules the disconnect deadline as a command on the session
// queue. A reconnect that lands first wins by queue order: the expired timer
// then sees the role online (or freshly offline) and does nothing.
func (c *Coordinator) armGraceTimer(role models.Role) {
	grace := c.pol.DisconnectGrace
	time.AfterFunc(grace, func() {
		c.enqueueInternal("grace timeout", func() error {
			c.graceExpired(role)
			return nil
		})
	})
}

func (c *Coordinator) graceExpired(role models.Role) {
	if c.sess.Status != models.StatusActive {
		return
	}
	since, offline := c.registry.OfflineSince(role)
	if !offline {
		return
	}
	if c.now().Sub(since) < c.pol.DisconnectGrace {
		// The role reconnected and dropped again; a fresh timer is running.
		return
	}

	reason := ReasonClientDisconnect
	if role == models.RoleExpert {
		reason = ReasonExpertDisconnect
	}

	log.Info().
		Str("session_id", c.sess.SessionID.String()).
		Str("role", string(role)).
		Dur("grace", c.pol.DisconnectGrace).
		Msg("disconnect grace elapsed, cancelling session")

	ctx := context.Background()
	c.cancel(ctx, reason)
}

// activate performs the single transition to ACTIVE. The status guard plus
// the single run goroutine make it at-most-once regardless of how many
// triggers (tick, readiness change, early-start) race for it.
func (c *Coordinator) activate(ctx context.Context) {
	if c.sess.Status != models.StatusWaitingRoom || c.sess.ActualStart != nil {
		return
	}
	started := c.now()
	c.sess.ActualStart = &started
	c.transition(ctx, models.StatusActive, "", EventStarted)
}

func (c *Coordinator) complete(ctx context.Context) {
	ended := c.now()
	c.sess.ActualEnd = &ended
	c.transition(ctx, models.StatusCompleted, "", EventCompleted)
}

func (c *Coordinator) cancel(ctx context.Context, reason string) {
	if c.sess.Status == models.StatusActive {
		ended := c.now()
		c.sess.ActualEnd = &ended
	}
	c.sess.CancelReason = reason
	c.transition(ctx, models.StatusCancelled, reason, EventCancelled)
}

func (c *Coordinator) expire(ctx context.Context) {
	c.transition(ctx, models.StatusExpired, "", EventExpired)
}

// transition applies a status change, persists the durable fields and emits
// the lifecycle event. Store failures are logged, not propagated: the session
// must keep serving both participants, and the store is retried on the next
// transition or replayed from events.
func (c *Coordinator) transition(ctx context.Context, to models.Status, reason string, ev EventType) {
	from := c.sess.Status
	c.sess.Status = to
	c.sess.UpdatedAt = c.now()

	log.Info().
		Str("session_id", c.sess.SessionID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("session transition")

	if err := c.store.UpdateLifecycle(ctx, c.sess.SessionID, store.LifecycleUpdate{
		Status:       to,
		ActualStart:  c.sess.ActualStart,
		ActualEnd:    c.sess.ActualEnd,
		CancelReason: c.sess.CancelReason,
	}); err != nil {
		log.Error().
			Str("session_id", c.sess.SessionID.String()).
			Err(err).
			Msg("failed to persist session transition")
	}

	c.emit(ctx, ev, reason)
}

func (c *Coordinator) emit(ctx context.Context, ev EventType, reason string) {
	event := Event{
		Type:       ev,
		SessionID:  c.sess.SessionID,
		OccurredAt: c.now(),
		Reason:     reason,
		Snapshot:   c.snapshot(),
	}
	for _, sink := range c.sinks {
		sink.Publish(ctx, event)
	}
}

// snapshot builds the broadcast view. Only called on the run goroutine.
func (c *Coordinator) snapshot() Snapshot {
	ref := c.sess.Reservation
	timing := EvaluateClock(c.now(), ref.ScheduledStart, ref.ScheduledEnd, c.pol.EarlyWindow)
	if c.sess.Status.IsTerminal() {
		timing.TimeRemaining = 0
	}

	return Snapshot{
		SessionID:            c.sess.SessionID,
		DisplayID:            c.sess.DisplayID,
		Medium:               ref.Medium,
		Status:               c.sess.Status,
		Phase:                timing.Phase,
		TimeRemainingSeconds: int64(timing.TimeRemaining / time.Second),
		ScheduledStart:       ref.ScheduledStart,
		ScheduledEnd:         ref.ScheduledEnd,
		ActualStart:          c.sess.ActualStart,
		ActualEnd:            c.sess.ActualEnd,
		CancelReason:         c.sess.CancelReason,
		Expert:               c.participantView(models.RoleExpert),
		Client:               c.participantView(models.RoleClient),
	}
}

func (c *Coordinator) participantView(role models.Role) ParticipantView {
	p := c.registry.Participant(role)
	view := ParticipantView{
		UserID:      p.UserID,
		Role:        p.Role,
		Online:      p.Online,
		Ready:       p.Ready,
		Devices:     p.Devices,
		Permissions: p.Permissions,
	}
	if p.Network != nil {
		nq := *p.Network
		view.Network = &nq
	}
	return view
}
