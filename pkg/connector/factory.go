// pkg/connector/factory.go
package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/config"
)

// ConnectorFactory creates database connectors
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new connector factory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateWarehouseConnector creates a new warehouse connector
func (f *ConnectorFactory) CreateWarehouseConnector(ctx context.Context) (*WarehouseConnector, error) {
	f.logger.Info("Creating warehouse connector")

	connector, err := NewWarehouseConnector(ctx, f.cfg.Warehouse)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse connector: %w", err)
	}

	return connector, nil
}

// CreateAuditStoreConnector creates a new audit store connector
func (f *ConnectorFactory) CreateAuditStoreConnector(ctx context.Context) (*AuditStoreConnector, error) {
	f.logger.Info("Creating audit store connector")

	connector, err := NewAuditStoreConnector(ctx, f.cfg.AuditStore)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit store connector: %w", err)
	}

	return connector, nil
}

// CreateAllConnectors creates both the warehouse and audit store connectors
func (f *ConnectorFactory) CreateAllConnectors(ctx context.Context) (*WarehouseConnector, *AuditStoreConnector, error) {
	whConn, err := f.CreateWarehouseConnector(ctx)
	if err != nil {
		return nil, nil, err
	}

	auditConn, err := f.CreateAuditStoreConnector(ctx)
	if err != nil {
		whConn.Close() // Clean up the warehouse connection if the audit store fails
		return nil, nil, err
	}

	return whConn, auditConn, nil
}
