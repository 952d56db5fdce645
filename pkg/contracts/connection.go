package contracts

import (
	"context"

	"github.com/oarkflow/anchor/pkg/models"
)

// Connection is the authenticated channel to the identity service.
// Every call is a remote round trip and honors ctx where the transport does.
type Connection interface {
	// LookupAuthenticators returns the authentication devices of an anchor.
	LookupAuthenticators(ctx context.Context, anchor models.AnchorNumber) ([]models.DeviceData, error)
	// Lookup returns every device registered on an anchor.
	Lookup(ctx context.Context, anchor models.AnchorNumber) ([]models.DeviceData, error)
	GetAnchorInfo(ctx context.Context, anchor models.AnchorNumber) (models.AnchorInfo, error)
	CreateAnchor(ctx context.Context, device models.DeviceData) (models.AnchorNumber, error)
	AddDevice(ctx context.Context, anchor models.AnchorNumber, device models.DeviceData) error
	EnterDeviceRegistrationMode(ctx context.Context, anchor models.AnchorNumber) (models.Timestamp, error)
	AddTentativeDevice(ctx context.Context, anchor models.AnchorNumber, device models.DeviceData) (models.TentativeRegistrationInfo, error)
	VerifyTentativeDevice(ctx context.Context, anchor models.AnchorNumber, code string) error
}

// CredentialCreator produces a new authenticator credential.
type CredentialCreator interface {
	Create(ctx context.Context) (models.Credential, error)
}

type LogStore interface {
	WriteEntry(entry models.LogEntry) (uint64, error)
	GetLogs(index *uint64, limit *uint16) (models.Logs, error)
	GetAnchorLogs(anchor models.AnchorNumber, cursor *models.Cursor, limit *uint16) (models.AnchorLogs, error)
}

// ServiceInfoProvider is implemented by connections that can describe the
// service behind them.
type ServiceInfoProvider interface {
	ServiceInfo(ctx context.Context) (models.ServiceInfo, error)
}
