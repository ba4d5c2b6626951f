// pkg/remediation/poller.go
package remediation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PollOutcome is the result of waiting for an episode status.
type PollOutcome int

const (
	// PollReady means the episode reached the target status.
	PollReady PollOutcome = iota
	// PollTimeout means the deadline passed without reaching it.
	PollTimeout
	// PollDenied means the episode was denied and will never reach it.
	PollDenied
)

// ApprovalPoller waits for a tablespace episode to reach a target
// status. Approvals are human-paced, so polling uses wall-clock sleeps
// rather than holding a database connection open.
type ApprovalPoller struct {
	service  TablespaceService
	interval time.Duration
	maxWait  time.Duration
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewApprovalPoller creates a poller with the given cadence and budget.
func NewApprovalPoller(service TablespaceService, interval, maxWait time.Duration, logger *zap.Logger) *ApprovalPoller {
	return &ApprovalPoller{
		service:  service,
		interval: interval,
		maxWait:  maxWait,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// WithClock overrides the time source and sleeper. Used by tests.
func (p *ApprovalPoller) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *ApprovalPoller {
	p.now = now
	p.sleep = sleep
	return p
}

// Wait polls the episode until it reaches target, is denied, or the
// wait budget runs out. The deadline is fixed at entry so a slow status
// query cannot extend the budget. Transient status errors are logged
// and retried inside the same budget.
func (p *ApprovalPoller) Wait(ctx context.Context, episodeID string, target EpisodeStatus) (PollOutcome, error) {
	deadline := p.now().Add(p.maxWait)
	polls := 0

	for {
		status, err := p.service.Status(ctx, episodeID)
		if err != nil {
			p.logger.Warn("Episode status check failed, will retry",
				zap.String("episodeId", episodeID),
				zap.Error(err))
		} else {
			if status == target {
				p.logger.Info("Episode reached target status",
					zap.String("episodeId", episodeID),
					zap.String("status", string(status)),
					zap.Int("polls", polls))
				return PollReady, nil
			}
			if status == EpisodeDenied {
				p.logger.Warn("Episode denied by approver",
					zap.String("episodeId", episodeID))
				return PollDenied, nil
			}
		}

		polls++
		if polls%5 == 0 {
			p.logger.Info("Still waiting for episode status",
				zap.String("episodeId", episodeID),
				zap.String("target", string(target)),
				zap.Int("polls", polls),
				zap.Duration("remaining", deadline.Sub(p.now())))
		}

		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			return PollTimeout, nil
		}

		wait := p.interval
		if remaining < wait {
			wait = remaining
		}
		if err := p.sleep(ctx, wait); err != nil {
			return PollTimeout, err
		}
	}
}

// sleepCtx sleeps for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
