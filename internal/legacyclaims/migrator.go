package legacyclaims

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/rewardledger/internal/pledges"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/logger"
)

type rewarder interface {
	Load(ctx context.Context) (*pledges.Snapshot, error)
	Reward(ctx context.Context, snap *pledges.Snapshot, key pledges.MemberKey, dueCents int64) (*models.PaymentTransaction, error)
}

// Report summarizes one migration run.
type Report struct {
	Claims       int
	Granted      int
	Settled      int
	Unknown      int
	Unlinked     int
	GrantedCents int64
}

// Migrator tops members up to what they claimed under the old system.
type Migrator struct {
	claims  Repository
	rewards rewarder
	logg    *logger.Logger
	dryRun  bool
}

// NewMigrator builds a migrator. A dry run computes and logs due deltas
// without granting anything.
func NewMigrator(claims Repository, rewards rewarder, logg *logger.Logger, dryRun bool) (*Migrator, error) {
	if claims == nil {
		return nil, fmt.Errorf("legacy claim repository required")
	}
	if rewards == nil {
		return nil, fmt.Errorf("pledge rewarder required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Migrator{claims: claims, rewards: rewards, logg: logg, dryRun: dryRun}, nil
}

// Run grants claimed minus already rewarded for every claim. Running it again
// after success grants nothing.
func (m *Migrator) Run(ctx context.Context) (Report, error) {
	var report Report
	claims, err := m.claims.List(ctx)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list legacy claims")
	}
	snap, err := m.rewards.Load(ctx)
	if err != nil {
		return report, err
	}

	var errs error
	for _, claim := range claims {
		report.Claims++
		key := pledges.MemberKey{CampaignID: claim.CampaignID, PatronID: claim.PatronID}
		claimCtx := m.logg.WithPatron(ctx, claim.PatronID, claim.CampaignID)

		if _, ok := snap.Members[key]; !ok {
			report.Unknown++
			m.logg.Warn(claimCtx, "legacy claim has no synced membership")
			continue
		}
		due := claim.ClaimedCents - snap.Rewarded(key)
		if due <= 0 {
			report.Settled++
			continue
		}

		dueCtx := m.logg.WithField(claimCtx, "due_cents", due)
		if m.dryRun {
			m.logg.Info(dueCtx, "legacy claim due (dry run)")
			report.GrantedCents += due
			continue
		}

		txn, err := m.rewards.Reward(dueCtx, snap, key, due)
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("claim %s/%s: %w", claim.CampaignID, claim.PatronID, err))
		case txn == nil:
			report.Unlinked++
		default:
			report.Granted++
			report.GrantedCents += due
		}
	}

	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"claims":        report.Claims,
		"granted":       report.Granted,
		"settled":       report.Settled,
		"unknown":       report.Unknown,
		"unlinked":      report.Unlinked,
		"granted_cents": report.GrantedCents,
		"dry_run":       m.dryRun,
	}), "legacy claims migration finished")
	return report, errs
}
