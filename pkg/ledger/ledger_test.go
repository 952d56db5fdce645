package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/models"
)

type memoryLogs struct {
	mu      sync.Mutex
	entries []models.LogEntry
}

func (m *memoryLogs) WriteEntry(entry models.LogEntry) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.Index = uint64(len(m.entries))
	m.entries = append(m.entries, entry)
	return entry.Index, nil
}

func (m *memoryLogs) GetLogs(*uint64, *uint16) (models.Logs, error) {
	return models.Logs{Entries: m.entries}, nil
}

func (m *memoryLogs) GetAnchorLogs(models.AnchorNumber, *models.Cursor, *uint16) (models.AnchorLogs, error) {
	return models.AnchorLogs{}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func laptop() models.DeviceData {
	return models.DeviceData{
		Alias:        "laptop",
		PubKey:       []byte{0x30, 0x01},
		CredentialID: []models.CredentialID{{1, 1}},
		Purpose:      models.PurposeAuthentication,
		KeyType:      models.KeyTypePlatform,
		Protection:   models.Unprotected,
	}
}

func phone() models.DeviceData {
	return models.DeviceData{
		Alias:        "phone",
		PubKey:       []byte{0x30, 0x02},
		CredentialID: []models.CredentialID{{2, 2}},
		Purpose:      models.PurposeAuthentication,
		KeyType:      models.KeyTypeCrossPlatform,
		Protection:   models.Unprotected,
	}
}

func newLedger(t *testing.T) (*Ledger, *fakeClock, *memoryLogs) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	logs := &memoryLogs{}
	l, err := New(WithClock(clock.Now), WithLogStore(logs))
	if err != nil {
		t.Fatal(err)
	}
	return l, clock, logs
}

func TestCreateAnchorAndLookup(t *testing.T) {
	ctx := context.Background()
	l, _, logs := newLedger(t)
	anchor, err := l.CreateAnchor(ctx, laptop())
	if err != nil {
		t.Fatal(err)
	}
	if anchor != FirstAnchorNumber {
		t.Fatalf("anchor = %d, want %d", anchor, FirstAnchorNumber)
	}
	second, _ := l.CreateAnchor(ctx, phone())
	if second != FirstAnchorNumber+1 {
		t.Fatalf("second anchor = %d", second)
	}
	devices, err := l.Lookup(ctx, anchor)
	if err != nil || len(devices) != 1 || devices[0].Alias != "laptop" {
		t.Fatalf("Lookup() = %+v, %v", devices, err)
	}
	devices[0].PubKey[0] = 0xff
	again, _ := l.Lookup(ctx, anchor)
	if again[0].PubKey[0] != 0x30 {
		t.Fatal("Lookup() leaked internal state")
	}
	if len(logs.entries) != 2 || logs.entries[0].Operation != models.OperationRegisterAnchor {
		t.Fatalf("activity log = %+v", logs.entries)
	}
}

func TestLookupUnknownAnchorIsEmpty(t *testing.T) {
	l, _, _ := newLedger(t)
	devices, err := l.Lookup(context.Background(), 42)
	if err != nil || len(devices) != 0 {
		t.Fatalf("Lookup() = %+v, %v", devices, err)
	}
	if _, err := l.GetAnchorInfo(context.Background(), 42); !errors.Is(err, contracts.ErrUnknownAnchor) {
		t.Fatalf("GetAnchorInfo() error = %v", err)
	}
}

func TestLookupAuthenticatorsSkipsRecoveryDevices(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger(t)
	anchor, _ := l.CreateAnchor(ctx, laptop())
	recovery := phone()
	recovery.Purpose = models.PurposeRecovery
	if err := l.AddDevice(ctx, anchor, recovery); err != nil {
		t.Fatal(err)
	}
	authenticators, _ := l.LookupAuthenticators(ctx, anchor)
	if len(authenticators) != 1 || authenticators[0].Alias != "laptop" {
		t.Fatalf("LookupAuthenticators() = %+v", authenticators)
	}
}

func TestAddDeviceRejectsDuplicatePublicKey(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger(t)
	anchor, _ := l.CreateAnchor(ctx, laptop())
	if err := l.AddDevice(ctx, anchor, laptop()); !errors.Is(err, contracts.ErrDeviceExists) {
		t.Fatalf("AddDevice() error = %v, want contracts.ErrDeviceExists", err)
	}
}

func TestTentativeDeviceVerification(t *testing.T) {
	ctx := context.Background()
	l, _, logs := newLedger(t)
	anchor, _ := l.CreateAnchor(ctx, laptop())

	if _, err := l.AddTentativeDevice(ctx, anchor, phone()); !errors.Is(err, contracts.ErrRegistrationModeOff) {
		t.Fatalf("AddTentativeDevice() without registration mode error = %v", err)
	}
	if _, err := l.EnterDeviceRegistrationMode(ctx, anchor); err != nil {
		t.Fatal(err)
	}
	info, err := l.AddTentativeDevice(ctx, anchor, phone())
	if err != nil {
		t.Fatal(err)
	}
	if len(info.VerificationCode) != 6 {
		t.Fatalf("verification code %q is not 6 digits", info.VerificationCode)
	}
	anchorInfo, _ := l.GetAnchorInfo(ctx, anchor)
	if anchorInfo.DeviceRegistration == nil || anchorInfo.DeviceRegistration.TentativeDevice == nil {
		t.Fatalf("GetAnchorInfo() = %+v, want tentative device", anchorInfo)
	}

	if err := l.VerifyTentativeDevice(ctx, anchor, "not-it"); !errors.Is(err, contracts.ErrWrongCode) {
		t.Fatalf("VerifyTentativeDevice() with wrong code error = %v", err)
	}
	if err := l.VerifyTentativeDevice(ctx, anchor, info.VerificationCode); err != nil {
		t.Fatalf("VerifyTentativeDevice() error = %v", err)
	}
	authenticators, _ := l.LookupAuthenticators(ctx, anchor)
	if len(authenticators) != 2 {
		t.Fatalf("authenticators = %+v, want 2", authenticators)
	}
	last := logs.entries[len(logs.entries)-1]
	if last.Operation != models.OperationVerifyDevice || last.Anchor != anchor {
		t.Fatalf("last log entry = %+v", last)
	}
}

func TestVerificationAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger(t)
	anchor, _ := l.CreateAnchor(ctx, laptop())
	l.EnterDeviceRegistrationMode(ctx, anchor)
	l.AddTentativeDevice(ctx, anchor, phone())

	var err error
	for i := 0; i < MaxVerificationAttempts; i++ {
		err = l.VerifyTentativeDevice(ctx, anchor, "000000x")
	}
	if !errors.Is(err, contracts.ErrVerificationExhausted) {
		t.Fatalf("last error = %v, want contracts.ErrVerificationExhausted", err)
	}
	if err := l.VerifyTentativeDevice(ctx, anchor, "000000x"); !errors.Is(err, contracts.ErrNoDeviceToVerify) {
		t.Fatalf("error after exhaustion = %v, want contracts.ErrNoDeviceToVerify", err)
	}
}

func TestTentativeDeviceExpires(t *testing.T) {
	ctx := context.Background()
	l, clock, _ := newLedger(t)
	anchor, _ := l.CreateAnchor(ctx, laptop())
	l.EnterDeviceRegistrationMode(ctx, anchor)
	info, _ := l.AddTentativeDevice(ctx, anchor, phone())
	if !info.Deadline().Equal(clock.Now().Add(TentativeDeviceDuration)) {
		t.Fatalf("deadline = %v", info.Deadline())
	}
	clock.Advance(TentativeDeviceDuration)
	if err := l.VerifyTentativeDevice(ctx, anchor, info.VerificationCode); !errors.Is(err, contracts.ErrNoDeviceToVerify) {
		t.Fatalf("VerifyTentativeDevice() after expiry error = %v", err)
	}
}

func TestRegistrationModeExpires(t *testing.T) {
	ctx := context.Background()
	l, clock, _ := newLedger(t)
	anchor, _ := l.CreateAnchor(ctx, laptop())
	l.EnterDeviceRegistrationMode(ctx, anchor)
	clock.Advance(RegistrationModeDuration + time.Second)
	if _, err := l.AddTentativeDevice(ctx, anchor, phone()); !errors.Is(err, contracts.ErrRegistrationModeOff) {
		t.Fatalf("AddTentativeDevice() error = %v, want contracts.ErrRegistrationModeOff", err)
	}
}
