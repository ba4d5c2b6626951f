// pkg/remediation/recovery.go
package remediation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

// StuckEntryRecovery resets Processing entries abandoned by a crashed
// or killed run. Only Processing entries qualify, and they may only be
// moved somewhere retryable or reviewable, never straight to a success
// state.
type StuckEntryRecovery struct {
	queue      *QueueStore
	tablespace TablespaceService
	logger     *zap.Logger
}

// NewRecovery creates the recovery sweep.
func NewRecovery(queue *QueueStore, tablespace TablespaceService, logger *zap.Logger) *StuckEntryRecovery {
	return &StuckEntryRecovery{
		queue:      queue,
		tablespace: tablespace,
		logger:     logger,
	}
}

// Reset moves every Processing entry stuck longer than stuckAfter to
// resetTo, returning the count and the entries moved. Each reset entry
// gets a note recording how stale it was, the error it was carrying,
// and, when it had an episode, the episode's current status, so an
// operator can tell whether a tablespace was left open. Running the
// sweep twice is safe: the first pass leaves nothing in Processing to
// reset.
func (s *StuckEntryRecovery) Reset(ctx context.Context, stuckAfter time.Duration, resetTo model.QueueStatus) (int, []model.RemediationQueueEntry, error) {
	if !resetTo.ResettableTo() {
		return 0, nil, fmt.Errorf("cannot reset stuck entries to %s", resetTo)
	}

	stuck, err := s.queue.StuckProcessing(ctx, stuckAfter)
	if err != nil {
		return 0, nil, err
	}
	if len(stuck) == 0 {
		s.logger.Debug("No stuck queue entries")
		return 0, nil, nil
	}

	reset := make([]model.RemediationQueueEntry, 0, len(stuck))
	for i := range stuck {
		entry := &stuck[i]
		staleness := time.Since(entry.UpdatedAt).Round(time.Minute)

		note := fmt.Sprintf("reset from PROCESSING to %s after %s without progress", resetTo, staleness)
		if entry.ErrorMessage != nil && *entry.ErrorMessage != "" {
			note += fmt.Sprintf("; prior error: %s", *entry.ErrorMessage)
		}
		if entry.EpisodeID != nil {
			status, err := s.tablespace.Status(ctx, *entry.EpisodeID)
			if err != nil {
				note += fmt.Sprintf("; episode %s status unknown (%v)", *entry.EpisodeID, err)
			} else {
				note += fmt.Sprintf("; episode %s is %s", *entry.EpisodeID, status)
				if status == EpisodeOpen {
					s.logger.Warn("Stuck entry left its tablespace episode open",
						zap.Int64("entryId", entry.ID),
						zap.String("episodeId", *entry.EpisodeID))
				}
			}
		}

		message := fmt.Sprintf("stuck in PROCESSING for %s", staleness)
		if err := s.queue.UpdateStatus(ctx, entry.ID, resetTo, &message); err != nil {
			s.logger.Error("Failed to reset stuck queue entry",
				zap.Int64("entryId", entry.ID),
				zap.Error(err))
			continue
		}
		if err := s.queue.AppendNote(ctx, entry.ID, note); err != nil {
			s.logger.Warn("Failed to append recovery note",
				zap.Int64("entryId", entry.ID),
				zap.Error(err))
		}

		reset = append(reset, *entry)
		s.logger.Info("Reset stuck queue entry",
			zap.Int64("entryId", entry.ID),
			zap.String("table", entry.TableName),
			zap.String("resetTo", string(resetTo)),
			zap.Duration("staleness", staleness))
	}

	return len(reset), reset, nil
}
