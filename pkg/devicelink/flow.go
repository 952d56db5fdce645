package devicelink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/models"
)

const (
	Kind                          = "device_link"
	DefaultInterval               = 2500 * time.Millisecond
	DefaultMaxConsecutiveFailures = 5
	DefaultTimeout                = 5 * time.Minute
)

var (
	ErrAuthenticate = errors.New("failed to collect credential from security device")
	ErrFatal        = errors.New("device lookups kept failing")
)

type Config struct {
	ID      string
	Anchor  models.AnchorNumber
	BaseURL string
	// Interval between two lookups. Lookups are issued on schedule even if
	// the previous one has not returned yet.
	Interval               time.Duration
	MaxConsecutiveFailures int
	LookupTimeout          time.Duration
	// Timeout bounds the whole flow. Reaching it commits TimedOut.
	Timeout    time.Duration
	Connection contracts.Connection
	Logger     *zap.Logger
}

// Flow waits for a freshly created credential to be added to an anchor
// from another device that opened the link.
type Flow struct {
	cfg        Config
	credential models.Credential
	link       string
	qr         []byte
	log        *zap.Logger

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	generation uint64
	applied    uint64
	failures   int
	lookups    int
	state      string

	once    sync.Once
	outcome models.Outcome
	done    chan struct{}
}

// New creates the credential, the link and its QR code. A creator error is
// returned wrapped in ErrAuthenticate.
func New(ctx context.Context, cfg Config, creator contracts.CredentialCreator) (*Flow, error) {
	cred, err := creator.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticate, err)
	}
	if len(cred.PubKey) == 0 {
		return nil, fmt.Errorf("%w: empty public key", ErrAuthenticate)
	}
	link, err := BuildLink(cfg.BaseURL, cfg.Anchor, cred)
	if err != nil {
		return nil, err
	}
	qr, err := QRCode(link)
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		cfg:        cfg,
		credential: cred,
		link:       link,
		qr:         qr,
		log:        logger.With(zap.String("flow", cfg.ID), zap.Uint64("anchor", cfg.Anchor)),
		state:      "waiting",
		done:       make(chan struct{}),
	}, nil
}

// Start begins polling in the background. ctx bounds the whole flow.
func (f *Flow) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return
	}
	f.started = true
	select {
	case <-f.done:
		return
	default:
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.run(ctx)
}

func (f *Flow) run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(f.cfg.Timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			f.commit(models.Cancelled())
			return
		case <-deadline.C:
			if f.commit(models.TimedOut()) {
				f.log.Info("device link timed out", zap.Duration("timeout", f.cfg.Timeout))
			}
			return
		case <-ticker.C:
			go f.poll(ctx, f.nextGeneration())
		}
	}
}

func (f *Flow) nextGeneration() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	f.lookups++
	return f.generation
}

// apply records generation as the newest applied response. It reports false
// when a newer response has already been applied.
func (f *Flow) apply(generation uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if generation < f.applied {
		return false
	}
	f.applied = generation
	return true
}

func (f *Flow) poll(ctx context.Context, generation uint64) {
	lookupCtx := ctx
	if f.cfg.LookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, f.cfg.LookupTimeout)
		defer cancel()
	}
	devices, err := f.cfg.Connection.Lookup(lookupCtx, f.cfg.Anchor)
	if ctx.Err() != nil {
		return
	}
	if !f.apply(generation) {
		f.log.Debug("discarding stale lookup", zap.Uint64("generation", generation))
		return
	}
	if err != nil {
		f.mu.Lock()
		f.failures++
		failures := f.failures
		f.state = "failed"
		f.mu.Unlock()
		f.log.Warn("device lookup failed", zap.Int("consecutive_failures", failures), zap.Error(err))
		if failures >= f.cfg.MaxConsecutiveFailures {
			f.commit(models.Failed(fmt.Errorf("%w: %w", ErrFatal, err).Error()))
		}
		return
	}
	f.mu.Lock()
	f.failures = 0
	f.state = "waiting"
	f.mu.Unlock()
	if HasPublicKey(devices, f.credential.PubKey) {
		f.log.Info("linked device found")
		f.mu.Lock()
		f.state = "matched"
		f.mu.Unlock()
		f.commit(models.Verified(f.cfg.Anchor))
	}
}

// HasPublicKey reports whether any device carries exactly pubKey.
func HasPublicKey(devices []models.DeviceData, pubKey []byte) bool {
	for _, device := range devices {
		if bytes.Equal(device.PubKey, pubKey) {
			return true
		}
	}
	return false
}

func (f *Flow) commit(outcome models.Outcome) bool {
	committed := false
	f.once.Do(func() {
		committed = true
		f.outcome = outcome
		f.mu.Lock()
		if f.cancel != nil {
			f.cancel()
		}
		switch outcome.Kind {
		case models.OutcomeCancelled:
			f.state = "cancelled"
		case models.OutcomeTimedOut:
			f.state = "timed_out"
		}
		f.mu.Unlock()
		close(f.done)
	})
	return committed
}

func (f *Flow) Cancel() {
	if f.commit(models.Cancelled()) {
		f.log.Info("device link cancelled")
	}
}

func (f *Flow) ID() string {
	return f.cfg.ID
}

func (f *Flow) Anchor() models.AnchorNumber {
	return f.cfg.Anchor
}

func (f *Flow) Credential() models.Credential {
	return f.credential
}

func (f *Flow) Link() string {
	return f.link
}

func (f *Flow) QRCode() []byte {
	return f.qr
}

func (f *Flow) Done() <-chan struct{} {
	return f.done
}

func (f *Flow) Outcome() (models.Outcome, bool) {
	select {
	case <-f.done:
		return f.outcome, true
	default:
		return models.Outcome{}, false
	}
}

// Lookups returns how many lookups have been issued so far.
func (f *Flow) Lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *Flow) Status() models.FlowStatus {
	f.mu.Lock()
	status := models.FlowStatus{
		ID:       f.cfg.ID,
		Kind:     Kind,
		Anchor:   f.cfg.Anchor,
		State:    f.state,
		Failures: f.failures,
	}
	f.mu.Unlock()
	if outcome, ok := f.Outcome(); ok {
		status.Done = true
		status.Outcome = &outcome
	}
	return status
}
