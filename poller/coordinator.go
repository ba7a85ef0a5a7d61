package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"github.com/denysvitali/ampeco-ha/ampeco"
)

// persistentProtocolErrors is the number of consecutive malformed responses
// after which they are logged as errors instead of warnings.
const persistentProtocolErrors = 5

var log = logrus.StandardLogger()

// Client is the subset of *ampeco.Client used by a Coordinator.
type Client interface {
	FetchState(ctx context.Context, chargepointID string) (*ampeco.ChargerState, error)
	StartCharging(ctx context.Context, chargepointID string, maxCurrent *int) (*ampeco.Session, error)
	StopCharging(ctx context.Context, chargepointID string) (*ampeco.Session, error)
}

// Update is handed to every Sink after each poll, scheduled or manual.
type Update struct {
	ChargepointID string
	// State is the latest snapshot; it is stale when Err is set and nil when
	// no poll has succeeded yet.
	State  *ampeco.ChargerState
	Poll   Diagnostics
	Err    error
	Manual bool
	// Suspended is set once the token was rejected.
	Suspended bool
}

type Sink interface {
	Publish(ctx context.Context, update Update)
}

type SinkFunc func(ctx context.Context, update Update)

func (f SinkFunc) Publish(ctx context.Context, update Update) {
	f(ctx, update)
}

// Coordinator owns the polling timeline of one charger: its Policy, its last
// snapshot and the scheduler job that fires the next poll.
type Coordinator struct {
	chargepointID string
	client        Client
	policy        *Policy
	log           *logrus.Entry

	state atomic.Pointer[ampeco.ChargerState]

	mu             sync.Mutex
	sinks          []Sink
	scheduler      gocron.Scheduler
	job            gocron.Job
	ctx            context.Context
	cancel         context.CancelFunc
	suspended      bool
	protocolErrors int
}

func New(chargepointID string, client Client, policy *Policy) *Coordinator {
	if policy == nil {
		policy = NewPolicy(Intervals{})
	}
	return &Coordinator{
		chargepointID: chargepointID,
		client:        client,
		policy:        policy,
		log:           log.WithField("chargepoint", chargepointID),
	}
}

func (c *Coordinator) ChargepointID() string {
	return c.chargepointID
}

func (c *Coordinator) AddSink(s Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, s)
}

// State returns the most recent snapshot, or nil before the first success.
func (c *Coordinator) State() *ampeco.ChargerState {
	return c.state.Load()
}

func (c *Coordinator) Diagnostics() Diagnostics {
	return c.policy.Diagnostics()
}

// Suspended reports whether scheduled polling stopped after the token was
// rejected. A successful Refresh resumes it.
func (c *Coordinator) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// NextPoll returns when the next scheduled poll fires, or the zero time.
func (c *Coordinator) NextPoll() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return time.Time{}
	}
	next, err := c.job.NextRun()
	if err != nil {
		return time.Time{}
	}
	return next
}

// Start performs the first poll synchronously and schedules the following
// ones. A rejected token is returned so it can be reported, but the
// coordinator keeps running suspended: a successful Refresh resumes
// polling. Any other error is absorbed into the backoff.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.scheduler != nil {
		c.mu.Unlock()
		return fmt.Errorf("coordinator for %s is already running", c.chargepointID)
	}
	s, err := gocron.NewScheduler(gocron.WithLogger(schedulerLogger{c.log}))
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	c.scheduler = s
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.suspended = false
	runCtx := c.ctx
	c.mu.Unlock()

	s.Start()
	c.log.Info("starting poller")

	next, err := c.Poll(runCtx)
	c.schedule(next)
	if errors.Is(err, ampeco.ErrAuth) {
		return fmt.Errorf("initial refresh failed: %w", err)
	}
	return nil
}

// Stop cancels in-flight requests and shuts the scheduler down. No poll is
// scheduled afterwards.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	s := c.scheduler
	cancel := c.cancel
	c.scheduler = nil
	c.job = nil
	c.cancel = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	c.log.Info("stopping poller")
	cancel()
	return s.Shutdown()
}

// Poll fetches the charger once, feeds the outcome to the policy and
// publishes it. It returns the delay until the next scheduled poll.
func (c *Coordinator) Poll(ctx context.Context) (time.Duration, error) {
	return c.poll(ctx, false)
}

// Refresh fetches the charger once, regardless of the current backoff. On
// success the error count is reset and the schedule re-armed with the fresh
// interval. On failure the error count is left as it was: a manual refresh
// neither adds to nor clears the scheduled backoff.
func (c *Coordinator) Refresh(ctx context.Context) error {
	next, err := c.poll(ctx, true)
	if err != nil {
		return err
	}
	c.schedule(next)
	return nil
}

// StartCharging starts a session and refreshes the state out of band.
func (c *Coordinator) StartCharging(ctx context.Context, maxCurrent *int) error {
	session, err := c.client.StartCharging(ctx, c.chargepointID, maxCurrent)
	if err != nil {
		return err
	}
	if session != nil {
		c.log.Infof("charging started, session %s", session.ID)
	} else {
		c.log.Info("charging start requested")
	}
	c.refreshAfterCommand(ctx)
	return nil
}

// StopCharging ends the active session and refreshes the state out of band.
func (c *Coordinator) StopCharging(ctx context.Context) error {
	if _, err := c.client.StopCharging(ctx, c.chargepointID); err != nil {
		return err
	}
	c.log.Info("charging stopped")
	c.refreshAfterCommand(ctx)
	return nil
}

func (c *Coordinator) refreshAfterCommand(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.log.Warnf("refresh after command failed: %v", err)
	}
}

func (c *Coordinator) poll(ctx context.Context, manual bool) (time.Duration, error) {
	state, err := c.client.FetchState(ctx, c.chargepointID)
	if err != nil {
		if ctx.Err() != nil {
			// shutting down, or the caller gave up
			return c.policy.Interval(), err
		}
		return c.failed(ctx, err, manual), err
	}

	c.state.Store(state)
	c.mu.Lock()
	c.suspended = false
	c.protocolErrors = 0
	c.mu.Unlock()

	next := c.policy.Success(state.IsCharging())
	c.log.Debugf("polled: status=%s charging=%v next=%s", state.Status, state.IsCharging(), next)
	c.publish(ctx, Update{State: state, Manual: manual})
	return next, nil
}

func (c *Coordinator) failed(ctx context.Context, err error, manual bool) time.Duration {
	next := c.policy.Interval()
	if !manual {
		next = c.policy.Failure()
	}

	c.mu.Lock()
	switch {
	case errors.Is(err, ampeco.ErrAuth):
		c.suspended = true
		c.log.Errorf("token rejected, scheduled polling suspended: %v", err)
	case errors.Is(err, ampeco.ErrNotFound):
		c.log.Errorf("charge point not found, retrying in %s: %v", next, err)
	case errors.Is(err, ampeco.ErrProtocol):
		c.protocolErrors++
		if c.protocolErrors >= persistentProtocolErrors {
			c.log.Errorf("%d consecutive malformed responses: %v", c.protocolErrors, err)
		} else {
			c.log.Warnf("malformed response, retrying in %s: %v", next, err)
		}
	default:
		c.log.Warnf("poll failed, retrying in %s: %v", next, err)
	}
	c.mu.Unlock()

	if prev := c.state.Load(); prev != nil && !prev.Stale {
		c.state.Store(prev.MarkStale())
	}
	c.publish(ctx, Update{State: c.state.Load(), Err: err, Manual: manual})
	return next
}

func (c *Coordinator) publish(ctx context.Context, u Update) {
	u.ChargepointID = c.chargepointID
	u.Poll = c.policy.Diagnostics()

	c.mu.Lock()
	u.Suspended = c.suspended
	sinks := make([]Sink, len(c.sinks))
	copy(sinks, c.sinks)
	c.mu.Unlock()

	for _, s := range sinks {
		s.Publish(ctx, u)
	}
}

func (c *Coordinator) schedule(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler == nil {
		return
	}
	if c.job != nil {
		// one-time jobs may already be gone once they ran
		_ = c.scheduler.RemoveJob(c.job.ID())
		c.job = nil
	}
	if c.suspended {
		return
	}

	job, err := c.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(d))),
		gocron.NewTask(c.tick),
		gocron.WithName("poll "+c.chargepointID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		c.log.Errorf("failed to schedule next poll: %v", err)
		return
	}
	c.job = job
	c.log.Debugf("next poll in %s", d)
}

func (c *Coordinator) tick() {
	c.mu.Lock()
	ctx := c.ctx
	running := c.scheduler != nil
	c.mu.Unlock()
	if !running || ctx.Err() != nil {
		return
	}

	next, _ := c.Poll(ctx)
	c.schedule(next)
}

// schedulerLogger routes gocron's logs through logrus.
type schedulerLogger struct {
	entry *logrus.Entry
}

func (l schedulerLogger) Debug(msg string, args ...any) {
	l.entry.WithField("args", args).Debug(msg)
}

func (l schedulerLogger) Info(msg string, args ...any) {
	l.entry.WithField("args", args).Info(msg)
}

func (l schedulerLogger) Warn(msg string, args ...any) {
	l.entry.WithField("args", args).Warn(msg)
}

func (l schedulerLogger) Error(msg string, args ...any) {
	l.entry.WithField("args", args).Error(msg)
}

var _ gocron.Logger = schedulerLogger{}
