package libs

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/oarkflow/xid/wuid"
	"go.uber.org/zap"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/countdown"
	"github.com/oarkflow/anchor/pkg/devicelink"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/utils"
	"github.com/oarkflow/anchor/pkg/verify"
)

const (
	maxLoginAttempts    = 5
	loginCooldownPeriod = 15 * time.Minute
	maxRequestsPerMin   = 30

	// flowRetention keeps a finished flow around so its page can still
	// read the outcome.
	flowRetention = 10 * time.Minute
)

type SecurityManager struct {
	RateLimiter   *models.RateLimiter
	LoginAttempts map[string][]time.Time
	mu            sync.RWMutex
}

func NewSecurityManager() *SecurityManager {
	return &SecurityManager{
		RateLimiter: &models.RateLimiter{
			Requests: make(map[string][]time.Time),
		},
		LoginAttempts: make(map[string][]time.Time),
	}
}

func countSince(times []time.Time, now time.Time, window time.Duration) int {
	count := 0
	for _, t := range times {
		if now.Sub(t) < window {
			count++
		}
	}
	return count
}

func pruneBefore(times []time.Time, now time.Time, window time.Duration) []time.Time {
	filtered := make([]time.Time, 0, len(times))
	for _, t := range times {
		if now.Sub(t) < window {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func (s *SecurityManager) IsRateLimited(identifier string) bool {
	return s.IsRateLimitedWithMax(identifier, maxRequestsPerMin)
}

func (s *SecurityManager) IsRateLimitedWithMax(identifier string, maxRequests int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	requests, exists := s.RateLimiter.Requests[identifier]
	if !exists {
		return false
	}
	return countSince(requests, time.Now(), time.Minute) >= maxRequests
}

func (s *SecurityManager) RecordRequest(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	requests := append(s.RateLimiter.Requests[identifier], now)
	s.RateLimiter.Requests[identifier] = pruneBefore(requests, now, time.Minute)
}

func (s *SecurityManager) IsLoginBlocked(identifier string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempts, exists := s.LoginAttempts[identifier]
	if !exists {
		return false
	}
	return countSince(attempts, time.Now(), loginCooldownPeriod) >= maxLoginAttempts
}

func (s *SecurityManager) RecordFailedLogin(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	attempts := append(s.LoginAttempts[identifier], now)
	s.LoginAttempts[identifier] = pruneBefore(attempts, now, loginCooldownPeriod)
}

func (s *SecurityManager) ClearLoginAttempts(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.LoginAttempts, identifier)
}

type Manager struct {
	connection contracts.Connection
	logs       contracts.LogStore
	Config     *Config
	security   contracts.SecurityManager
	sessions   contracts.SessionStore
	challenges contracts.ChallengeStore
	logout     contracts.LogoutTracker
	logger     *zap.Logger
	auditor    *AuditLogger

	ctx    context.Context
	cancel context.CancelFunc

	flowsMu sync.RWMutex
	flows   map[string]ownedFlow
}

// ownedFlow remembers which browser started a flow.
type ownedFlow struct {
	flow  contracts.Flow
	owner string
}

func NewManager(conn contracts.Connection, logs contracts.LogStore, cfg *Config, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tracker := NewAnchorLogoutTracker()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		connection: conn,
		logs:       logs,
		Config:     cfg,
		security:   NewSecurityManager(),
		sessions:   NewSessionStore(cfg, tracker),
		challenges: NewChallengeStore(challengeTTL),
		logout:     tracker,
		logger:     logger,
		auditor:    &AuditLogger{Log: logger.Named("audit")},
		ctx:        ctx,
		cancel:     cancel,
		flows:      make(map[string]ownedFlow),
	}
}

func (m *Manager) Connection() contracts.Connection {
	return m.connection
}

func (m *Manager) Logs() contracts.LogStore {
	return m.logs
}

func (m *Manager) Security() contracts.SecurityManager {
	return m.security
}

func (m *Manager) Sessions() contracts.SessionStore {
	return m.sessions
}

func (m *Manager) Challenges() contracts.ChallengeStore {
	return m.challenges
}

func (m *Manager) LogoutTracker() contracts.LogoutTracker {
	return m.logout
}

func (m *Manager) Logger() *zap.Logger {
	return m.logger
}

// StartVerification starts polling for the tentative device target and the
// countdown to its registration deadline. Only owner can look the flow up.
func (m *Manager) StartVerification(owner string, anchor models.AnchorNumber, alias string, target models.CredentialID, info models.TentativeRegistrationInfo) (contracts.VerificationFlow, error) {
	var cdOpts []countdown.Option
	if m.Config.CountdownTick > 0 {
		cdOpts = append(cdOpts, countdown.WithTick(m.Config.CountdownTick))
	}
	controller, err := verify.NewController(verify.ControllerConfig{
		ID:         uuid.NewString(),
		Anchor:     anchor,
		Alias:      alias,
		Target:     target,
		Info:       info,
		Connection: m.connection,
		Poll:       m.Config.PollOptions(),
		Countdown:  cdOpts,
		Logger:     m.logger,
	})
	if err != nil {
		return nil, err
	}
	m.track(controller, owner)
	controller.Start(m.ctx)
	return controller, nil
}

// StartDeviceLink creates a credential with creator and waits for it to be
// added to anchor from another device. Only owner can look the flow up.
func (m *Manager) StartDeviceLink(ctx context.Context, owner string, anchor models.AnchorNumber, baseURL string, creator contracts.CredentialCreator) (contracts.LinkFlow, error) {
	flow, err := devicelink.New(ctx, devicelink.Config{
		ID:                     uuid.NewString(),
		Anchor:                 anchor,
		BaseURL:                baseURL,
		Interval:               m.Config.LinkInterval,
		MaxConsecutiveFailures: m.Config.MaxConsecutiveFailure,
		LookupTimeout:          m.Config.LookupTimeout,
		Timeout:                m.Config.LinkTimeout,
		Connection:             m.connection,
		Logger:                 m.logger,
	}, creator)
	if err != nil {
		return nil, err
	}
	m.track(flow, owner)
	flow.Start(m.ctx)
	return flow, nil
}

func (m *Manager) track(flow contracts.Flow, owner string) {
	m.flowsMu.Lock()
	m.flows[flow.ID()] = ownedFlow{flow: flow, owner: owner}
	m.flowsMu.Unlock()
	go func() {
		select {
		case <-flow.Done():
		case <-m.ctx.Done():
			return
		}
		if verify.WaitWithContext(m.ctx, flowRetention) {
			m.RemoveFlow(flow.ID())
		}
	}()
}

func (m *Manager) Flow(id, owner string) (contracts.Flow, bool) {
	m.flowsMu.RLock()
	defer m.flowsMu.RUnlock()
	tracked, ok := m.flows[id]
	if !ok || owner == "" || tracked.owner != owner {
		return nil, false
	}
	return tracked.flow, true
}

// RemoveFlow cancels the flow if it is still running and forgets it.
func (m *Manager) RemoveFlow(id string) {
	m.flowsMu.Lock()
	tracked, ok := m.flows[id]
	delete(m.flows, id)
	m.flowsMu.Unlock()
	if ok {
		tracked.flow.Cancel()
	}
}

// Audit appends an activity entry for anchor and mirrors it to the audit log.
func (m *Manager) Audit(c *fiber.Ctx, anchor models.AnchorNumber, op models.Operation, detail string) {
	ip := ""
	if c != nil {
		ip = utils.GetClientIP(c)
	}
	m.auditor.LogEvent(string(op),
		zap.String("event_id", wuid.New().String()),
		zap.Uint64("anchor", anchor),
		zap.String("ip", ip),
		zap.String("detail", detail),
	)
	if m.logs == nil {
		return
	}
	_, err := m.logs.WriteEntry(models.LogEntry{
		Anchor:    anchor,
		Timestamp: models.TimestampFrom(time.Now()),
		Caller:    ip,
		Operation: op,
		Detail:    detail,
	})
	if err != nil {
		m.logger.Error("failed to write activity log entry", zap.Uint64("anchor", anchor), zap.Error(err))
	}
}

// Close cancels every running flow.
func (m *Manager) Close() error {
	m.cancel()
	m.flowsMu.Lock()
	flows := m.flows
	m.flows = make(map[string]ownedFlow)
	m.flowsMu.Unlock()
	for _, tracked := range flows {
		tracked.flow.Cancel()
	}
	return nil
}
