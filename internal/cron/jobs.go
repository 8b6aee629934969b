package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/rewardledger/internal/notifications"
	"github.com/angelmondragon/rewardledger/internal/pledges"
	"github.com/angelmondragon/rewardledger/internal/subscriptions"
	"github.com/angelmondragon/rewardledger/pkg/logger"
)

const (
	JobSubscriptionCharge      = "subscription-charge"
	JobPledgeSync              = "pledge-sync"
	JobPledgeRewards           = "pledge-rewards"
	JobRewardNotificationRelay = "reward-notification-relay"
	JobRewardNotificationPurge = "reward-notification-retention"
)

type subscriptionProcessor interface {
	ProcessSubscriptions(ctx context.Context) (subscriptions.ProcessReport, error)
}

type pledgeSyncer interface {
	Sync(ctx context.Context) (pledges.SyncReport, error)
}

type pledgeRewarder interface {
	ProcessRewards(ctx context.Context) (pledges.RewardReport, error)
}

type notificationRelay interface {
	Run(ctx context.Context) (notifications.RelayReport, error)
}

// funcJob adapts a report-returning run function to Job and logs the report.
type funcJob struct {
	name string
	logg *logger.Logger
	run  func(ctx context.Context) (map[string]any, error)
}

func (j *funcJob) Name() string { return j.name }

func (j *funcJob) Run(ctx context.Context) error {
	fields, err := j.run(ctx)
	if len(fields) > 0 {
		j.logg.Info(j.logg.WithFields(ctx, fields), "job report")
	}
	return err
}

// NewSubscriptionChargeJob charges due subscriptions.
func NewSubscriptionChargeJob(logg *logger.Logger, svc subscriptionProcessor) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if svc == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	return &funcJob{name: JobSubscriptionCharge, logg: logg, run: func(ctx context.Context) (map[string]any, error) {
		report, err := svc.ProcessSubscriptions(ctx)
		return map[string]any{
			"considered":  report.Considered,
			"charged":     report.Charged,
			"refused":     report.Refused,
			"cooling_off": report.CoolingOff,
			"expired":     report.Expired,
			"in_flight":   report.InFlight,
		}, err
	}}, nil
}

// NewPledgeSyncJob pulls campaign members from the pledge platform.
func NewPledgeSyncJob(logg *logger.Logger, svc pledgeSyncer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if svc == nil {
		return nil, fmt.Errorf("pledge service required")
	}
	return &funcJob{name: JobPledgeSync, logg: logg, run: func(ctx context.Context) (map[string]any, error) {
		report, err := svc.Sync(ctx)
		return map[string]any{
			"pages":           report.Pages,
			"users_written":   report.UsersWritten,
			"members_written": report.MembersWritten,
		}, err
	}}, nil
}

// NewPledgeRewardsJob grants outstanding pledge support.
func NewPledgeRewardsJob(logg *logger.Logger, svc pledgeRewarder) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if svc == nil {
		return nil, fmt.Errorf("pledge service required")
	}
	return &funcJob{name: JobPledgeRewards, logg: logg, run: func(ctx context.Context) (map[string]any, error) {
		report, err := svc.ProcessRewards(ctx)
		return map[string]any{
			"eligible":       report.Eligible,
			"rewarded":       report.Rewarded,
			"unlinked":       report.Unlinked,
			"rewarded_cents": report.RewardedCents,
		}, err
	}}, nil
}

// NewNotificationRelayJob delivers queued reward notifications.
func NewNotificationRelayJob(logg *logger.Logger, relay notificationRelay) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if relay == nil {
		return nil, fmt.Errorf("notification relay required")
	}
	return &funcJob{name: JobRewardNotificationRelay, logg: logg, run: func(ctx context.Context) (map[string]any, error) {
		report, err := relay.Run(ctx)
		return map[string]any{
			"published": report.Published,
			"failed":    report.Failed,
		}, err
	}}, nil
}
