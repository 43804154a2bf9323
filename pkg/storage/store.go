package storage

import (
	"github.com/junctionhq/junction/pkg/types"
)

// Store persists hub state across restarts.
type Store interface {
	// Integrations
	PutIntegration(integration *types.Integration) error
	GetIntegration(id string) (*types.Integration, error)
	ListIntegrations() ([]*types.Integration, error)
	DeleteIntegration(id string) error

	// Deintegration history
	PutDeintegration(record *types.Deintegration) error
	GetDeintegration(id string) (*types.Deintegration, error)
	ListDeintegrations() ([]*types.Deintegration, error)

	Close() error
}
