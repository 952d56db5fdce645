package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/models"
)

var tracer = otel.Tracer("verify")

const (
	DefaultPollDelay              = 500 * time.Millisecond
	DefaultMaxConsecutiveFailures = 5
	DefaultLookupTimeout          = 5 * time.Second
)

var (
	ErrFatal       = errors.New("device verification lookups kept failing")
	ErrEmptyTarget = errors.New("credential id to verify is empty")
)

type State int

const (
	StatePolling State = iota
	StateFailed
	StateMatched
	StateCancelled
	StateFatal
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateFailed:
		return "failed"
	case StateMatched:
		return "matched"
	case StateCancelled:
		return "cancelled"
	case StateFatal:
		return "fatal"
	}
	return "unknown"
}

type Options struct {
	// Delay is the minimum pause between two lookups.
	Delay                  time.Duration
	MaxConsecutiveFailures int
	// LookupTimeout bounds a single lookup. Zero means no bound.
	LookupTimeout time.Duration
	Logger        *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Delay <= 0 {
		o.Delay = DefaultPollDelay
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Poller repeatedly looks up the authenticators of an anchor until one of
// them carries the credential being verified.
type Poller struct {
	conn   contracts.Connection
	anchor models.AnchorNumber
	target models.CredentialID
	opts   Options

	mu       sync.Mutex
	state    State
	failures int
	lookups  int
}

func NewPoller(conn contracts.Connection, anchor models.AnchorNumber, target models.CredentialID, opts Options) (*Poller, error) {
	if len(target) == 0 {
		return nil, ErrEmptyTarget
	}
	return &Poller{
		conn:   conn,
		anchor: anchor,
		target: append(models.CredentialID(nil), target...),
		opts:   opts.withDefaults(),
	}, nil
}

// Matches reports whether any device carries exactly one credential id equal to target.
func Matches(devices []models.DeviceData, target models.CredentialID) bool {
	for _, device := range devices {
		if id, ok := device.SingleCredentialID(); ok && id.Equal(target) {
			return true
		}
	}
	return false
}

// Run polls until a match is found, ctx is cancelled or lookups fail too
// many times in a row. A lookup that returns after ctx is done is discarded.
func (p *Poller) Run(ctx context.Context) (State, error) {
	ctx, span := tracer.Start(ctx, "Verify.Poller.Run")
	defer span.End()
	span.SetAttributes(attribute.Int64("anchor", int64(p.anchor)))

	log := p.opts.Logger.With(zap.Uint64("anchor", p.anchor))
	for {
		if ctx.Err() != nil {
			return p.setState(StateCancelled), nil
		}
		devices, err := p.lookup(ctx)
		if ctx.Err() != nil {
			log.Debug("discarding lookup result after cancellation")
			return p.setState(StateCancelled), nil
		}
		if err != nil {
			failures := p.recordFailure()
			log.Warn("authenticator lookup failed", zap.Int("consecutive_failures", failures), zap.Error(err))
			if failures >= p.opts.MaxConsecutiveFailures {
				span.RecordError(err)
				return p.setState(StateFatal), fmt.Errorf("%w: %w", ErrFatal, err)
			}
		} else {
			p.recordSuccess()
			if Matches(devices, p.target) {
				log.Info("credential verified")
				return p.setState(StateMatched), nil
			}
		}
		if !WaitWithContext(ctx, p.opts.Delay) {
			return p.setState(StateCancelled), nil
		}
	}
}

func (p *Poller) lookup(ctx context.Context) ([]models.DeviceData, error) {
	p.mu.Lock()
	p.lookups++
	p.mu.Unlock()
	if p.opts.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.LookupTimeout)
		defer cancel()
	}
	return p.conn.LookupAuthenticators(ctx, p.anchor)
}

func (p *Poller) recordFailure() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	p.state = StateFailed
	return p.failures
}

func (p *Poller) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = 0
	p.state = StatePolling
}

func (p *Poller) setState(s State) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
	return s
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Failures returns the number of consecutive failed lookups.
func (p *Poller) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

func (p *Poller) Lookups() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lookups
}

// WaitWithContext waits for d unless ctx is cancelled first.
// It returns false when ctx was cancelled.
func WaitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
