package ledger

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"go.uber.org/zap"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/models"
)

// FirstAnchorNumber is the number handed to the first registered anchor.
const FirstAnchorNumber models.AnchorNumber = 10000

const (
	RegistrationModeDuration = 15 * time.Minute
	TentativeDeviceDuration  = 5 * time.Minute
	MaxVerificationAttempts  = 3
	MaxDevicesPerAnchor      = 10

	caller = "ledger"
)

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		l.log = logger
	}
}

// WithLogStore makes the ledger append an activity entry for every change.
func WithLogStore(store contracts.LogStore) Option {
	return func(l *Ledger) {
		l.logs = store
	}
}

type registration struct {
	expiration models.Timestamp
	tentative  *models.DeviceData
	code       string
	codeExpiry models.Timestamp
	attempts   int
}

type anchorRecord struct {
	devices      []models.DeviceData
	registration *registration
}

// Ledger is an in-memory identity service. It serves development setups
// and tests in place of the remote service.
type Ledger struct {
	mu      sync.Mutex
	next    models.AnchorNumber
	anchors map[models.AnchorNumber]*anchorRecord
	secret  string
	counter uint64
	now     func() time.Time
	log     *zap.Logger
	logs    contracts.LogStore
}

func New(opts ...Option) (*Ledger, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate verification secret: %w", err)
	}
	l := &Ledger{
		next:    FirstAnchorNumber,
		anchors: make(map[models.AnchorNumber]*anchorRecord),
		secret:  base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw),
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Ledger) timestamp() models.Timestamp {
	return models.TimestampFrom(l.now())
}

func (l *Ledger) ServiceInfo(context.Context) (models.ServiceInfo, error) {
	return models.ServiceInfo{Name: caller, Version: "dev", RegistrationEnabled: true}, nil
}

func (l *Ledger) CreateAnchor(_ context.Context, device models.DeviceData) (models.AnchorNumber, error) {
	l.mu.Lock()
	anchor := l.next
	l.next++
	l.anchors[anchor] = &anchorRecord{devices: []models.DeviceData{cloneDevice(device)}}
	l.mu.Unlock()

	l.log.Info("anchor registered", zap.Uint64("anchor", anchor))
	l.record(anchor, models.OperationRegisterAnchor, device.Alias)
	return anchor, nil
}

// Lookup returns all devices of anchor. An unknown anchor has no devices.
func (l *Ledger) Lookup(_ context.Context, anchor models.AnchorNumber) ([]models.DeviceData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.anchors[anchor]
	if !ok {
		return []models.DeviceData{}, nil
	}
	return cloneDevices(record.devices), nil
}

func (l *Ledger) LookupAuthenticators(ctx context.Context, anchor models.AnchorNumber) ([]models.DeviceData, error) {
	devices, err := l.Lookup(ctx, anchor)
	if err != nil {
		return nil, err
	}
	authenticators := devices[:0]
	for _, device := range devices {
		if device.Purpose != models.PurposeRecovery {
			authenticators = append(authenticators, device)
		}
	}
	return authenticators, nil
}

func (l *Ledger) GetAnchorInfo(_ context.Context, anchor models.AnchorNumber) (models.AnchorInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.anchors[anchor]
	if !ok {
		return models.AnchorInfo{}, contracts.ErrUnknownAnchor
	}
	info := models.AnchorInfo{Devices: cloneDevices(record.devices)}
	if reg := l.activeRegistration(record); reg != nil {
		info.DeviceRegistration = &models.DeviceRegistrationInfo{Expiration: reg.expiration}
		if reg.tentative != nil {
			device := cloneDevice(*reg.tentative)
			info.DeviceRegistration.TentativeDevice = &device
		}
	}
	return info, nil
}

func (l *Ledger) AddDevice(_ context.Context, anchor models.AnchorNumber, device models.DeviceData) error {
	l.mu.Lock()
	record, ok := l.anchors[anchor]
	if !ok {
		l.mu.Unlock()
		return contracts.ErrUnknownAnchor
	}
	if err := addTo(record, device); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	l.log.Info("device added", zap.Uint64("anchor", anchor), zap.String("alias", device.Alias))
	l.record(anchor, models.OperationAddDevice, device.Alias)
	return nil
}

func (l *Ledger) EnterDeviceRegistrationMode(_ context.Context, anchor models.AnchorNumber) (models.Timestamp, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.anchors[anchor]
	if !ok {
		return 0, contracts.ErrUnknownAnchor
	}
	if reg := l.activeRegistration(record); reg != nil {
		return reg.expiration, nil
	}
	expiration := models.TimestampFrom(l.now().Add(RegistrationModeDuration))
	record.registration = &registration{expiration: expiration}
	return expiration, nil
}

func (l *Ledger) AddTentativeDevice(_ context.Context, anchor models.AnchorNumber, device models.DeviceData) (models.TentativeRegistrationInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.anchors[anchor]
	if !ok {
		return models.TentativeRegistrationInfo{}, contracts.ErrUnknownAnchor
	}
	reg := l.activeRegistration(record)
	if reg == nil {
		return models.TentativeRegistrationInfo{}, contracts.ErrRegistrationModeOff
	}
	if reg.tentative != nil && l.timestamp() < reg.codeExpiry {
		return models.TentativeRegistrationInfo{}, contracts.ErrTentativeDeviceExists
	}
	code, err := hotp.GenerateCodeCustom(l.secret, l.counter, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return models.TentativeRegistrationInfo{}, fmt.Errorf("failed to generate verification code: %w", err)
	}
	l.counter++
	tentative := cloneDevice(device)
	reg.tentative = &tentative
	reg.code = code
	reg.attempts = 0
	reg.codeExpiry = models.TimestampFrom(l.now().Add(TentativeDeviceDuration))
	l.log.Info("device added tentatively", zap.Uint64("anchor", anchor), zap.String("alias", device.Alias))
	return models.TentativeRegistrationInfo{
		VerificationCode:          code,
		DeviceRegistrationTimeout: reg.codeExpiry,
	}, nil
}

func (l *Ledger) VerifyTentativeDevice(_ context.Context, anchor models.AnchorNumber, code string) error {
	l.mu.Lock()
	record, ok := l.anchors[anchor]
	if !ok {
		l.mu.Unlock()
		return contracts.ErrUnknownAnchor
	}
	reg := l.activeRegistration(record)
	if reg == nil || reg.tentative == nil || l.timestamp() >= reg.codeExpiry {
		l.mu.Unlock()
		return contracts.ErrNoDeviceToVerify
	}
	if code != reg.code {
		reg.attempts++
		left := MaxVerificationAttempts - reg.attempts
		if left <= 0 {
			record.registration = nil
			l.mu.Unlock()
			return contracts.ErrVerificationExhausted
		}
		l.mu.Unlock()
		return fmt.Errorf("%w: %d attempts left", contracts.ErrWrongCode, left)
	}
	device := *reg.tentative
	if err := addTo(record, device); err != nil {
		l.mu.Unlock()
		return err
	}
	record.registration = nil
	l.mu.Unlock()

	l.log.Info("tentative device verified", zap.Uint64("anchor", anchor), zap.String("alias", device.Alias))
	l.record(anchor, models.OperationVerifyDevice, device.Alias)
	return nil
}

// activeRegistration drops an expired registration window. Callers hold l.mu.
func (l *Ledger) activeRegistration(record *anchorRecord) *registration {
	if record.registration == nil {
		return nil
	}
	if l.timestamp() >= record.registration.expiration {
		record.registration = nil
		return nil
	}
	return record.registration
}

func (l *Ledger) record(anchor models.AnchorNumber, op models.Operation, detail string) {
	if l.logs == nil {
		return
	}
	_, err := l.logs.WriteEntry(models.LogEntry{
		Anchor:    anchor,
		Timestamp: l.timestamp(),
		Caller:    caller,
		Operation: op,
		Detail:    detail,
	})
	if err != nil {
		l.log.Error("failed to write activity log entry", zap.Uint64("anchor", anchor), zap.Error(err))
	}
}

func addTo(record *anchorRecord, device models.DeviceData) error {
	for _, existing := range record.devices {
		if bytes.Equal(existing.PubKey, device.PubKey) {
			return contracts.ErrDeviceExists
		}
	}
	if len(record.devices) >= MaxDevicesPerAnchor {
		return contracts.ErrTooManyDevices
	}
	record.devices = append(record.devices, cloneDevice(device))
	return nil
}

func cloneDevice(device models.DeviceData) models.DeviceData {
	device.PubKey = append([]byte(nil), device.PubKey...)
	if device.CredentialID != nil {
		ids := make([]models.CredentialID, len(device.CredentialID))
		for i, id := range device.CredentialID {
			ids[i] = append(models.CredentialID(nil), id...)
		}
		device.CredentialID = ids
	}
	return device
}

func cloneDevices(devices []models.DeviceData) []models.DeviceData {
	out := make([]models.DeviceData, len(devices))
	for i, device := range devices {
		out[i] = cloneDevice(device)
	}
	return out
}
