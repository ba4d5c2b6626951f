// pkg/remediation/remediator.go
package remediation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/config"
	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

// episodeDiscoveryWait bounds how long the remediator waits for the
// approval automation to materialize an episode after an open request.
const episodeDiscoveryWait = time.Minute

// SingleTableRemediator runs the fix workflow for one claimed queue
// entry: marker script, tablespace open, purge (prerequisite first),
// re-verify, tablespace close. The entry ends Completed, Failed, or
// Manual; the caller has already moved it to Processing.
//
// Two failure modes treat the tablespace differently. A failed purge
// closes the tablespace before marking the entry Failed. A purge that
// ran but left violations behind keeps the tablespace open, because the
// operator who picks up the Failed entry will need it open to
// investigate and rerun.
type SingleTableRemediator struct {
	queue          *QueueStore
	checker        *PurgeChecker
	tablespace     TablespaceService
	purger         Purger
	poller         *ApprovalPoller
	registry       *config.Registry
	owner          string
	scriptDir      string
	autoTablespace bool
	logger         *zap.Logger
	now            func() time.Time
}

// NewRemediator wires the fix workflow.
func NewRemediator(
	queue *QueueStore,
	checker *PurgeChecker,
	tablespace TablespaceService,
	purger Purger,
	poller *ApprovalPoller,
	registry *config.Registry,
	owner string,
	scriptDir string,
	logger *zap.Logger,
) *SingleTableRemediator {
	return &SingleTableRemediator{
		queue:      queue,
		checker:    checker,
		tablespace: tablespace,
		purger:     purger,
		poller:     poller,
		registry:   registry,
		owner:      owner,
		scriptDir:  scriptDir,
		logger:     logger,
		now:        time.Now,
	}
}

// WithAutoTablespace marks the deployment's tablespace approval as
// automatic: open requests are granted without a human, so the long
// approval poll is skipped in favor of the discovery wait alone.
func (r *SingleTableRemediator) WithAutoTablespace(auto bool) *SingleTableRemediator {
	r.autoTablespace = auto
	return r
}

// Fix runs the full workflow for one Processing entry. Every failure
// path records the failing step in the entry before the error is
// returned, so the queue row alone tells the story.
func (r *SingleTableRemediator) Fix(ctx context.Context, entry *model.RemediationQueueEntry) error {
	log := r.logger.With(
		zap.Int64("entryId", entry.ID),
		zap.String("table", entry.TableName))
	log.Info("Starting remediation", zap.Int64("violationCount", entry.ViolationCount))

	pair := r.registry.PairFor(entry.TableName)
	if pair == nil {
		return r.fail(ctx, entry, "registry lookup",
			fmt.Errorf("table %s is not a registered purge destination", entry.TableName))
	}

	// Marker script first: if the run dies later, the script directory
	// still shows which fix was in flight.
	scriptName, err := r.writeMarkerScript(entry)
	if err != nil {
		return r.fail(ctx, entry, "marker script", err)
	}
	if scriptName != "" {
		if err := r.queue.SetScript(ctx, entry.ID, scriptName); err != nil {
			return r.fail(ctx, entry, "marker script", err)
		}
	}

	episode, err := r.openTablespace(ctx, entry, log)
	if err != nil {
		return r.fail(ctx, entry, "tablespace open", err)
	}
	if err := r.queue.SetEpisode(ctx, entry.ID, episode.ID); err != nil {
		return r.fail(ctx, entry, "tablespace open", err)
	}

	if !r.autoTablespace {
		outcome, err := r.poller.Wait(ctx, episode.ID, EpisodeOpen)
		if err != nil {
			return r.fail(ctx, entry, "tablespace approval", err)
		}
		switch outcome {
		case PollDenied:
			return r.manual(ctx, entry, fmt.Sprintf(
				"tablespace approval: episode %s denied, needs operator review", episode.ID))
		case PollTimeout:
			// Timeout is retryable: the entry fails and a later pass tries
			// again, unlike a denial which needs a human.
			return r.fail(ctx, entry, "tablespace approval", fmt.Errorf(
				"episode %s not approved within wait budget", episode.ID))
		}
	}

	if pair.Prerequisite != "" {
		if _, err := r.purger.Purge(ctx, r.owner, pair.Prerequisite, episode.ID); err != nil {
			r.closeBestEffort(ctx, episode.ID, log)
			return r.fail(ctx, entry, "prerequisite purge", err)
		}
		log.Info("Prerequisite purge completed", zap.String("prerequisite", pair.Prerequisite))
	}

	purged, err := r.purger.Purge(ctx, r.owner, entry.TableName, episode.ID)
	if err != nil {
		r.closeBestEffort(ctx, episode.ID, log)
		return r.fail(ctx, entry, "purge", err)
	}

	// Verification failures leave the tablespace open on purpose: the
	// operator needs it open to investigate the leftover rows.
	remaining, err := r.checker.CheckTable(ctx, r.owner, entry.TableName)
	if err != nil {
		return r.fail(ctx, entry, "verification", err)
	}
	if remaining > 0 {
		return r.fail(ctx, entry, "verification", fmt.Errorf(
			"%d violations remain after purge, tablespace left open for investigation", remaining))
	}

	r.closeTablespace(ctx, entry, episode.ID, log)

	note := fmt.Sprintf("purged %d rows, verified clean, episode %s", purged, episode.ID)
	if err := r.queue.AppendNote(ctx, entry.ID, note); err != nil {
		log.Warn("Failed to append completion note", zap.Error(err))
	}
	if err := r.queue.UpdateStatus(ctx, entry.ID, model.QueueCompleted, nil); err != nil {
		return err
	}

	log.Info("Remediation completed", zap.Int64("rowsPurged", purged))
	return nil
}

// openTablespace files the open request and waits for the approval
// automation to create the episode.
func (r *SingleTableRemediator) openTablespace(ctx context.Context, entry *model.RemediationQueueEntry, log *zap.Logger) (*Episode, error) {
	requestedAt := r.now()
	reason := fmt.Sprintf("purge remediation entry %d, %d violations", entry.ID, entry.ViolationCount)
	if err := r.tablespace.RequestOpen(ctx, entry.TableName, reason); err != nil {
		return nil, err
	}

	deadline := requestedAt.Add(episodeDiscoveryWait)
	for {
		episode, err := r.tablespace.LatestEpisode(ctx, entry.TableName, requestedAt)
		if err == nil {
			log.Info("Tablespace episode created",
				zap.String("episodeId", episode.ID),
				zap.String("episodeStatus", string(episode.Status)))
			return episode, nil
		}
		if r.now().After(deadline) {
			return nil, fmt.Errorf("no episode appeared within %s of open request: %w",
				episodeDiscoveryWait, err)
		}
		if sleepErr := sleepCtx(ctx, 5*time.Second); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

// closeTablespace requests the close and waits for it. A close that
// never confirms is only a warning: the fix itself succeeded, and the
// approval automation reaps stale open episodes on its own schedule.
func (r *SingleTableRemediator) closeTablespace(ctx context.Context, entry *model.RemediationQueueEntry, episodeID string, log *zap.Logger) {
	if err := r.tablespace.RequestClose(ctx, episodeID); err != nil {
		log.Warn("Failed to file tablespace close request",
			zap.String("episodeId", episodeID),
			zap.Error(err))
		return
	}

	outcome, err := r.poller.Wait(ctx, episodeID, EpisodeClosed)
	if err != nil || outcome != PollReady {
		log.Warn("Tablespace close not confirmed",
			zap.String("episodeId", episodeID),
			zap.Error(err))
		if noteErr := r.queue.AppendNote(ctx, entry.ID,
			fmt.Sprintf("close of episode %s not confirmed", episodeID)); noteErr != nil {
			log.Warn("Failed to append close-timeout note", zap.Error(noteErr))
		}
	}
}

// closeBestEffort files a close request without waiting. Used on purge
// failure, where holding the tablespace open serves nothing.
func (r *SingleTableRemediator) closeBestEffort(ctx context.Context, episodeID string, log *zap.Logger) {
	if err := r.tablespace.RequestClose(ctx, episodeID); err != nil {
		log.Warn("Cleanup close request failed",
			zap.String("episodeId", episodeID),
			zap.Error(err))
	}
}

// fail moves the entry to Failed with the step baked into the message,
// then returns the original error for the orchestrator's tally.
func (r *SingleTableRemediator) fail(ctx context.Context, entry *model.RemediationQueueEntry, step string, cause error) error {
	message := fmt.Sprintf("%s: %v", step, cause)
	if err := r.queue.UpdateStatus(ctx, entry.ID, model.QueueFailed, &message); err != nil {
		r.logger.Error("Failed to mark queue entry failed",
			zap.Int64("entryId", entry.ID),
			zap.Error(err))
	}
	if err := r.queue.IncrementRetry(ctx, entry.ID); err != nil {
		r.logger.Warn("Failed to increment retry count",
			zap.Int64("entryId", entry.ID),
			zap.Error(err))
	}
	return fmt.Errorf("remediation of %s failed at %s: %w", entry.TableName, step, cause)
}

// manual parks the entry for operator review without counting a retry.
func (r *SingleTableRemediator) manual(ctx context.Context, entry *model.RemediationQueueEntry, message string) error {
	if err := r.queue.UpdateStatus(ctx, entry.ID, model.QueueManual, &message); err != nil {
		r.logger.Error("Failed to mark queue entry manual",
			zap.Int64("entryId", entry.ID),
			zap.Error(err))
	}
	return fmt.Errorf("remediation of %s needs manual intervention: %s", entry.TableName, message)
}

// writeMarkerScript drops a dated script stub into the script directory
// recording what this fix is about to do, matching the convention the
// DBA team uses for hand-run fixes.
func (r *SingleTableRemediator) writeMarkerScript(entry *model.RemediationQueueEntry) (string, error) {
	if r.scriptDir == "" {
		return "", nil
	}

	// Deterministic name: reruns within the same month overwrite the
	// same marker instead of littering the directory.
	name := fmt.Sprintf("purge_fix_%s_%s.sql",
		strings.ToLower(entry.TableName), r.now().Format("Jan2006"))
	path := filepath.Join(r.scriptDir, name)

	content := fmt.Sprintf(
		"-- purge remediation entry %d\n-- table: %s.%s\n-- definition: %s\n-- category: %s\n-- violations at detection: %d\n-- generated: %s\nCALL MDC_FORCED_PURGE('%s', '%s', :episode_id);\n",
		entry.ID, r.owner, entry.TableName, entry.SourceTable, entry.Category,
		entry.ViolationCount, r.now().Format(time.RFC3339), r.owner, entry.TableName)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write marker script %s: %w", path, err)
	}
	return name, nil
}
