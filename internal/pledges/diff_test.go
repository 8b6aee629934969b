package pledges

import (
	"testing"
	"time"

	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/patreon"
)

var diffNow = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func platformMember(patronID string, lifetime int64) patreon.Member {
	return patreon.Member{
		PatronID:             patronID,
		CampaignID:           "camp",
		Email:                patronID + "@example.com",
		FullName:             "Patron " + patronID,
		PatronStatus:         "active_patron",
		LifetimeSupportCents: lifetime,
	}
}

func TestDiffNewRowsAreWritten(t *testing.T) {
	snap := NewSnapshot(nil, nil, nil)
	ws := Diff(snap, []patreon.Member{platformMember("p1", 500), platformMember("p2", 0)}, diffNow)

	if len(ws.Users) != 2 || len(ws.Members) != 2 {
		t.Fatalf("expected 2 users and 2 members, got %d/%d", len(ws.Users), len(ws.Members))
	}
	if !ws.Members[0].UpdatedAt.Equal(diffNow) {
		t.Fatalf("expected updated_at to be stamped, got %v", ws.Members[0].UpdatedAt)
	}
	if len(snap.Members) != 0 {
		t.Fatal("diff must not modify the snapshot")
	}
}

func TestDiffSkipsUnchangedAndKeepsRewarded(t *testing.T) {
	snap := NewSnapshot(nil, nil, nil)
	page := []patreon.Member{platformMember("p1", 500)}
	snap.Apply(Diff(snap, page, diffNow))

	m := snap.Members[MemberKey{CampaignID: "camp", PatronID: "p1"}]
	m.RewardedCents = 400
	snap.Members[MemberKey{CampaignID: "camp", PatronID: "p1"}] = m

	if ws := Diff(snap, page, diffNow.Add(time.Hour)); !ws.Empty() {
		t.Fatalf("expected empty write set, got %+v", ws)
	}

	changed := platformMember("p1", 900)
	ws := Diff(snap, []patreon.Member{changed}, diffNow.Add(time.Hour))
	if len(ws.Users) != 0 {
		t.Fatalf("user did not change, got %d user writes", len(ws.Users))
	}
	if len(ws.Members) != 1 {
		t.Fatalf("expected one member write, got %d", len(ws.Members))
	}
	if ws.Members[0].RewardedCents != 400 {
		t.Fatalf("diff must carry stored rewarded cents, got %d", ws.Members[0].RewardedCents)
	}
}

func TestDiffDetectsUserAndDateChanges(t *testing.T) {
	charged := diffNow.Add(-24 * time.Hour)
	base := platformMember("p1", 100)
	base.LastChargeDate = &charged

	snap := NewSnapshot(nil, nil, nil)
	snap.Apply(Diff(snap, []patreon.Member{base}, diffNow))

	sameInstant := charged.In(time.FixedZone("x", 3600))
	again := base
	again.LastChargeDate = &sameInstant
	if ws := Diff(snap, []patreon.Member{again}, diffNow); !ws.Empty() {
		t.Fatal("equal instants in different zones must not produce writes")
	}

	renamed := base
	renamed.Email = "new@example.com"
	ws := Diff(snap, []patreon.Member{renamed}, diffNow)
	if len(ws.Users) != 1 || ws.Users[0].Email != "new@example.com" {
		t.Fatalf("expected user email change, got %+v", ws.Users)
	}
}

func TestSnapshotRewardedReconcilesWithTransactions(t *testing.T) {
	key := MemberKey{CampaignID: "camp", PatronID: "p1"}
	members := []models.PatreonMember{{PatronID: "p1", CampaignID: "camp", LifetimeSupportCents: 500, RewardedCents: 100}}

	snap := NewSnapshot(nil, members, map[MemberKey]int64{key: 300})
	if got := snap.Rewarded(key); got != 300 {
		t.Fatalf("expected reconciled 300, got %d", got)
	}
	if got := snap.Due(key); got != 200 {
		t.Fatalf("expected due 200, got %d", got)
	}

	snap = NewSnapshot(nil, members, map[MemberKey]int64{key: 50})
	if got := snap.Rewarded(key); got != 100 {
		t.Fatalf("stored value must win when larger, got %d", got)
	}

	over := NewSnapshot(nil, members, map[MemberKey]int64{key: 800})
	if got := over.Due(key); got != 0 {
		t.Fatalf("due must never be negative, got %d", got)
	}
	if got := over.Due(MemberKey{CampaignID: "camp", PatronID: "missing"}); got != 0 {
		t.Fatalf("unknown member has nothing due, got %d", got)
	}
}
