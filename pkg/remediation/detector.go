// pkg/remediation/detector.go
package remediation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/config"
	"github.com/dataforgetx/ds-portfolio/pkg/connector"
	"github.com/dataforgetx/ds-portfolio/pkg/model"
	"github.com/dataforgetx/ds-portfolio/pkg/validation"
)

// PurgeChecker scans every registered purge pair for destination rows
// whose key still appears in the pair's purge definition table. A row
// left behind after its key was marked for purge is a retention
// violation; each violating table produces (or refreshes) one queue
// entry.
type PurgeChecker struct {
	warehouse    connector.DatabaseConnector
	queue        *QueueStore
	registry     *config.Registry
	logger       *zap.Logger
	queryTimeout time.Duration
}

// NewPurgeChecker creates a checker over the warehouse connection.
func NewPurgeChecker(
	warehouse connector.DatabaseConnector,
	queue *QueueStore,
	registry *config.Registry,
	logger *zap.Logger,
) *PurgeChecker {
	return &PurgeChecker{
		warehouse:    warehouse,
		queue:        queue,
		registry:     registry,
		logger:       logger,
		queryTimeout: 10 * time.Minute,
	}
}

// WithQueryTimeout sets the per-scan query timeout.
func (p *PurgeChecker) WithQueryTimeout(timeout time.Duration) *PurgeChecker {
	p.queryTimeout = timeout
	return p
}

// ScanResult summarizes one full registry scan.
type ScanResult struct {
	TablesScanned int
	Violations    int
	NewEntries    int
	Errors        []error
}

// ScanAll checks every registered pair. A pair that cannot be scanned
// is recorded and skipped; the scan always covers the full registry.
func (p *PurgeChecker) ScanAll(ctx context.Context, owner string) (*ScanResult, error) {
	result := &ScanResult{}

	for i := range p.registry.PurgePairs {
		pair := &p.registry.PurgePairs[i]
		result.TablesScanned++

		count, err := p.violationCount(ctx, owner, pair)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("scan of %s failed: %w", pair.Destination, err))
			p.logger.Error("Purge scan failed for table, continuing",
				zap.String("table", pair.Destination),
				zap.Error(err))
			continue
		}

		if count == 0 {
			continue
		}
		result.Violations++

		_, created, err := p.queue.Insert(ctx, &model.RemediationQueueEntry{
			TableName:      pair.Destination,
			ViolationCount: count,
			Category:       pair.Category,
			SourceTable:    pair.Definition,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to queue %s: %w", pair.Destination, err))
			p.logger.Error("Failed to queue purge violation",
				zap.String("table", pair.Destination),
				zap.Error(err))
			continue
		}
		if created {
			result.NewEntries++
		}
	}

	p.logger.Info("Purge scan completed",
		zap.Int("tablesScanned", result.TablesScanned),
		zap.Int("violatingTables", result.Violations),
		zap.Int("newEntries", result.NewEntries),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// CheckTable re-verifies one destination table and returns the current
// violation count. Used by the remediator to confirm a fix actually
// cleared the violations.
func (p *PurgeChecker) CheckTable(ctx context.Context, owner, destination string) (int64, error) {
	pair := p.registry.PairFor(destination)
	if pair == nil {
		return 0, fmt.Errorf("table %s is not a registered purge destination", destination)
	}
	return p.violationCount(ctx, owner, pair)
}

// violationCount counts destination rows whose key is marked in the
// purge definition table.
func (p *PurgeChecker) violationCount(ctx context.Context, owner string, pair *config.PurgePair) (int64, error) {
	keyColumn, err := pair.Category.KeyColumn()
	if err != nil {
		return 0, err
	}

	// Registry names are spliced into SQL; the same identifier allow-list
	// the check executors apply guards them here.
	for _, name := range []string{owner, pair.Destination, pair.Definition, keyColumn} {
		if err := validation.ValidIdentifier(name); err != nil {
			return 0, err
		}
	}

	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s.%s d
		WHERE EXISTS (
			SELECT 1 FROM %s.%s s WHERE s.%s = d.%s
		)`,
		owner, pair.Destination, owner, pair.Definition, keyColumn, keyColumn)

	rows, err := p.warehouse.QueryWithTimeout(ctx, query, p.queryTimeout)
	if err != nil {
		return 0, fmt.Errorf("violation count query failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("error reading violation count: %w", err)
		}
		return 0, fmt.Errorf("violation count query returned no rows")
	}

	var count int64
	if err := rows.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to scan violation count: %w", err)
	}

	if count > 0 {
		p.logger.Warn("Purge violations detected",
			zap.String("table", pair.Destination),
			zap.String("definitionTable", pair.Definition),
			zap.Int64("violationCount", count))
	}
	return count, nil
}
