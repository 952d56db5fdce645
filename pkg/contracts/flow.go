package contracts

import "github.com/oarkflow/anchor/pkg/models"

// Flow is a long-running browser flow driven on the server.
type Flow interface {
	ID() string
	Status() models.FlowStatus
	Cancel()
	Done() <-chan struct{}
	// Outcome returns the terminal outcome once the flow is done.
	Outcome() (models.Outcome, bool)
}
