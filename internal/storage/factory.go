package storage

import (
	"fmt"

	"github.com/lgulliver/ballast/pkg/config"
)

// Factory creates object store instances based on configuration
type Factory struct {
	config *config.StorageConfig
}

// NewFactory creates a new object store factory
func NewFactory(config *config.StorageConfig) *Factory {
	return &Factory{config: config}
}

// CreateStore creates an object store for the configured type
func (f *Factory) CreateStore() (ObjectStore, error) {
	switch f.config.Type {
	case "local":
		return NewLocalStore(f.config.LocalPath)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", f.config.Type)
	}
}
