package verify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/countdown"
	"github.com/oarkflow/anchor/pkg/models"
)

const Kind = "verification"

type ControllerConfig struct {
	ID         string
	Anchor     models.AnchorNumber
	Alias      string
	Target     models.CredentialID
	Info       models.TentativeRegistrationInfo
	Connection contracts.Connection
	Poll       Options
	Countdown  []countdown.Option
	Logger     *zap.Logger
}

// Controller runs the verification page of a tentatively added device:
// a poller waiting for the device to show up and a countdown to the
// registration deadline. Whichever outcome is committed first wins.
type Controller struct {
	id     string
	anchor models.AnchorNumber
	alias  string
	info   models.TentativeRegistrationInfo
	poller *Poller
	cdOpts []countdown.Option
	log    *zap.Logger

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	countdown *countdown.Countdown

	remMu     sync.Mutex
	remaining string

	once    sync.Once
	outcome models.Outcome
	done    chan struct{}
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Poll.Logger == nil {
		cfg.Poll.Logger = logger
	}
	poller, err := NewPoller(cfg.Connection, cfg.Anchor, cfg.Target, cfg.Poll)
	if err != nil {
		return nil, err
	}
	return &Controller{
		id:     cfg.ID,
		anchor: cfg.Anchor,
		alias:  cfg.Alias,
		info:   cfg.Info,
		poller: poller,
		cdOpts: cfg.Countdown,
		log:    logger.With(zap.String("flow", cfg.ID), zap.Uint64("anchor", cfg.Anchor)),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the poller and the countdown and returns immediately.
// The flow ends when ctx is cancelled, so ctx should outlive the request
// that started it.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	select {
	case <-c.done:
		return
	default:
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.countdown = countdown.Start(c.info.Deadline(), c.setRemaining, func() {
		c.log.Info("device registration timed out")
		c.commit(models.TimedOut())
	}, c.cdOpts...)

	go func() {
		state, err := c.poller.Run(pollCtx)
		switch state {
		case StateMatched:
			c.commit(models.Verified(c.anchor))
		case StateFatal:
			c.log.Error("device verification failed", zap.Error(err))
			c.commit(models.Failed(err.Error()))
		default:
			c.commit(models.Cancelled())
		}
	}()
}

// Run starts the flow and blocks until it reaches a terminal outcome.
func (c *Controller) Run(ctx context.Context) models.Outcome {
	c.Start(ctx)
	<-c.done
	return c.outcome
}

// Cancel aborts the flow. Nothing is persisted for a cancelled flow.
func (c *Controller) Cancel() {
	if c.commit(models.Cancelled()) {
		c.log.Info("device verification cancelled")
	}
}

func (c *Controller) commit(outcome models.Outcome) bool {
	committed := false
	c.once.Do(func() {
		committed = true
		c.outcome = outcome
		c.mu.Lock()
		if c.countdown != nil {
			c.countdown.Stop()
		}
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
		close(c.done)
	})
	return committed
}

func (c *Controller) setRemaining(remaining string) {
	c.remMu.Lock()
	c.remaining = remaining
	c.remMu.Unlock()
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) Anchor() models.AnchorNumber {
	return c.anchor
}

func (c *Controller) Alias() string {
	return c.alias
}

func (c *Controller) VerificationCode() string {
	return c.info.VerificationCode
}

func (c *Controller) Deadline() time.Time {
	return c.info.Deadline()
}

func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) Outcome() (models.Outcome, bool) {
	select {
	case <-c.done:
		return c.outcome, true
	default:
		return models.Outcome{}, false
	}
}

func (c *Controller) Status() models.FlowStatus {
	c.remMu.Lock()
	remaining := c.remaining
	c.remMu.Unlock()
	if remaining == "" {
		remaining = countdown.Format(time.Until(c.info.Deadline()))
	}
	status := models.FlowStatus{
		ID:        c.id,
		Kind:      Kind,
		Anchor:    c.anchor,
		State:     c.poller.State().String(),
		Remaining: remaining,
		Failures:  c.poller.Failures(),
	}
	if outcome, ok := c.Outcome(); ok {
		status.Done = true
		status.Outcome = &outcome
	}
	return status
}
