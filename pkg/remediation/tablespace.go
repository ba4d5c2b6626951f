// pkg/remediation/tablespace.go
package remediation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/connector"
)

// EpisodeStatus is the approval state of a tablespace access episode.
type EpisodeStatus string

const (
	EpisodePendingApproval EpisodeStatus = "PENDING_APPROVAL"
	EpisodeOpen            EpisodeStatus = "OPEN"
	EpisodeClosed          EpisodeStatus = "CLOSED"
	EpisodeDenied          EpisodeStatus = "DENIED"
)

// Episode is one approved window of write access to a protected
// tablespace. Episodes are created by the DBA approval automation in
// response to a request row; this side only reads them.
type Episode struct {
	ID          string        `db:"EPISODE_ID"`
	TableName   string        `db:"TABLE_NAME"`
	Status      EpisodeStatus `db:"STATUS"`
	RequestedAt time.Time     `db:"REQUESTED_AT"`
	UpdatedAt   time.Time     `db:"UPDATED_AT"`
}

// ErrNoEpisode indicates no episode matched the request criteria.
var ErrNoEpisode = errors.New("no tablespace episode found")

// TablespaceService requests and observes tablespace access episodes.
// Opening is asynchronous: a request row goes in, the approval
// automation creates an episode, and the caller polls its status.
type TablespaceService interface {
	// RequestOpen files an open request for the table's tablespace.
	RequestOpen(ctx context.Context, table, reason string) error

	// RequestClose files a close request for an episode.
	RequestClose(ctx context.Context, episodeID string) error

	// Status returns the current status of an episode.
	Status(ctx context.Context, episodeID string) (EpisodeStatus, error)

	// LatestEpisode returns the newest not-yet-closed episode for a
	// table requested at or after since.
	LatestEpisode(ctx context.Context, table string, since time.Time) (*Episode, error)
}

// SQLTablespaceService talks to the request and episode tables in the
// warehouse's MDC schema.
type SQLTablespaceService struct {
	warehouse    connector.DatabaseConnector
	logger       *zap.Logger
	queryTimeout time.Duration
	requestedBy  string
}

// NewTablespaceService creates the warehouse-backed service.
func NewTablespaceService(warehouse connector.DatabaseConnector, requestedBy string, logger *zap.Logger) *SQLTablespaceService {
	return &SQLTablespaceService{
		warehouse:    warehouse,
		logger:       logger,
		queryTimeout: 30 * time.Second,
		requestedBy:  requestedBy,
	}
}

func (s *SQLTablespaceService) RequestOpen(ctx context.Context, table, reason string) error {
	_, err := s.warehouse.ExecWithTimeout(ctx, `
		INSERT INTO MDC_TABLESPACE_REQUEST (TABLE_NAME, ACTION, REASON, REQUESTED_BY, REQUESTED_AT)
		VALUES (?, 'OPEN', ?, ?, CURRENT_TIMESTAMP())`,
		s.queryTimeout, table, reason, s.requestedBy)
	if err != nil {
		return fmt.Errorf("failed to file tablespace open request for %s: %w", table, err)
	}

	s.logger.Info("Filed tablespace open request",
		zap.String("table", table),
		zap.String("reason", reason))
	return nil
}

func (s *SQLTablespaceService) RequestClose(ctx context.Context, episodeID string) error {
	_, err := s.warehouse.ExecWithTimeout(ctx, `
		INSERT INTO MDC_TABLESPACE_REQUEST (EPISODE_ID, ACTION, REQUESTED_BY, REQUESTED_AT)
		VALUES (?, 'CLOSE', ?, CURRENT_TIMESTAMP())`,
		s.queryTimeout, episodeID, s.requestedBy)
	if err != nil {
		return fmt.Errorf("failed to file tablespace close request for episode %s: %w", episodeID, err)
	}

	s.logger.Info("Filed tablespace close request", zap.String("episodeId", episodeID))
	return nil
}

func (s *SQLTablespaceService) Status(ctx context.Context, episodeID string) (EpisodeStatus, error) {
	rows, err := s.warehouse.QueryWithTimeout(ctx, `
		SELECT STATUS FROM MDC_TABLESPACE_EPISODE WHERE EPISODE_ID = ?`,
		s.queryTimeout, episodeID)
	if err != nil {
		return "", fmt.Errorf("failed to query episode %s: %w", episodeID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", fmt.Errorf("error reading episode %s: %w", episodeID, err)
		}
		return "", fmt.Errorf("%w: id %s", ErrNoEpisode, episodeID)
	}

	var status EpisodeStatus
	if err := rows.Scan(&status); err != nil {
		return "", fmt.Errorf("failed to scan episode status: %w", err)
	}
	return status, nil
}

func (s *SQLTablespaceService) LatestEpisode(ctx context.Context, table string, since time.Time) (*Episode, error) {
	// A closed episode is spent; discovery must never pick one up in
	// place of the episode the open request just created.
	rows, err := s.warehouse.QueryWithTimeout(ctx, `
		SELECT EPISODE_ID, TABLE_NAME, STATUS, REQUESTED_AT, UPDATED_AT
		FROM MDC_TABLESPACE_EPISODE
		WHERE UPPER(TABLE_NAME) = UPPER(?) AND REQUESTED_AT >= ?
		  AND STATUS <> 'CLOSED'
		ORDER BY REQUESTED_AT DESC
		LIMIT 1`,
		s.queryTimeout, table, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes for %s: %w", table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error reading episodes for %s: %w", table, err)
		}
		return nil, fmt.Errorf("%w: table %s since %s", ErrNoEpisode, table, since.Format(time.RFC3339))
	}

	var ep Episode
	var updatedAt sql.NullTime
	if err := rows.Scan(&ep.ID, &ep.TableName, &ep.Status, &ep.RequestedAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan episode: %w", err)
	}
	if updatedAt.Valid {
		ep.UpdatedAt = updatedAt.Time
	}
	return &ep, nil
}
