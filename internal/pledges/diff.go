package pledges

import (
	"sort"
	"time"

	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/patreon"
)

// MemberKey identifies one campaign membership.
type MemberKey struct {
	CampaignID string
	PatronID   string
}

func keyOf(m models.PatreonMember) MemberKey {
	return MemberKey{CampaignID: m.CampaignID, PatronID: m.PatronID}
}

// Snapshot is the in-memory view of the mirror. Members keep the stored
// rewarded_cents; Rewarded reconciles it with the transaction history.
type Snapshot struct {
	Users   map[string]models.PatreonUser
	Members map[MemberKey]models.PatreonMember
	granted map[MemberKey]int64
}

// NewSnapshot indexes stored rows. granted holds the cents already paid out
// through fulfilled pledge transactions, per membership.
func NewSnapshot(users []models.PatreonUser, members []models.PatreonMember, granted map[MemberKey]int64) *Snapshot {
	s := &Snapshot{
		Users:   make(map[string]models.PatreonUser, len(users)),
		Members: make(map[MemberKey]models.PatreonMember, len(members)),
		granted: make(map[MemberKey]int64, len(granted)),
	}
	for _, u := range users {
		s.Users[u.PatronID] = u
	}
	for _, m := range members {
		s.Members[keyOf(m)] = m
	}
	for k, v := range granted {
		s.granted[k] = v
	}
	return s
}

// Rewarded is max(stored rewarded_cents, cents granted by transactions).
func (s *Snapshot) Rewarded(key MemberKey) int64 {
	stored := s.Members[key].RewardedCents
	if g := s.granted[key]; g > stored {
		return g
	}
	return stored
}

// Due is what the member has pledged but not yet been rewarded for.
func (s *Snapshot) Due(key MemberKey) int64 {
	m, ok := s.Members[key]
	if !ok {
		return 0
	}
	due := m.LifetimeSupportCents - s.Rewarded(key)
	if due < 0 {
		return 0
	}
	return due
}

func (s *Snapshot) recordReward(key MemberKey, storedNext, cents int64) {
	m := s.Members[key]
	m.RewardedCents = storedNext
	s.Members[key] = m
	s.granted[key] += cents
}

// WriteSet holds the rows of one page that differ from the snapshot.
type WriteSet struct {
	Users   []models.PatreonUser
	Members []models.PatreonMember
}

// Empty reports whether nothing needs writing.
func (w WriteSet) Empty() bool {
	return len(w.Users) == 0 && len(w.Members) == 0
}

// Diff compares one page of platform members against the snapshot and returns
// the rows that changed. It does not modify the snapshot.
func Diff(snap *Snapshot, page []patreon.Member, now time.Time) WriteSet {
	var ws WriteSet
	seenUsers := map[string]bool{}
	for _, pm := range page {
		if pm.PatronID == "" || pm.CampaignID == "" {
			continue
		}

		if !seenUsers[pm.PatronID] {
			seenUsers[pm.PatronID] = true
			user := models.PatreonUser{
				PatronID: pm.PatronID,
				Email:    pm.Email,
				FullName: pm.FullName,
				Vanity:   pm.Vanity,
				URL:      pm.URL,
			}
			if existing, ok := snap.Users[pm.PatronID]; !ok || !sameUser(existing, user) {
				user.UpdatedAt = now
				ws.Users = append(ws.Users, user)
			}
		}

		key := MemberKey{CampaignID: pm.CampaignID, PatronID: pm.PatronID}
		member := models.PatreonMember{
			PatronID:                     pm.PatronID,
			CampaignID:                   pm.CampaignID,
			LifetimeSupportCents:         pm.LifetimeSupportCents,
			PatronStatus:                 pm.PatronStatus,
			LastChargeStatus:             pm.LastChargeStatus,
			LastChargeDate:               pm.LastChargeDate,
			PledgeRelationshipStart:      pm.PledgeRelationshipStart,
			CurrentlyEntitledAmountCents: pm.CurrentlyEntitledAmountCents,
			IsFollower:                   pm.IsFollower,
		}
		existing, ok := snap.Members[key]
		if ok {
			member.RewardedCents = existing.RewardedCents
			if sameMember(existing, member) {
				continue
			}
		}
		member.UpdatedAt = now
		ws.Members = append(ws.Members, member)
	}
	return ws
}

// Apply folds a persisted write set into the snapshot.
func (s *Snapshot) Apply(ws WriteSet) {
	for _, u := range ws.Users {
		s.Users[u.PatronID] = u
	}
	for _, m := range ws.Members {
		s.Members[keyOf(m)] = m
	}
}

func sameUser(a, b models.PatreonUser) bool {
	return a.Email == b.Email &&
		a.FullName == b.FullName &&
		a.Vanity == b.Vanity &&
		a.URL == b.URL
}

func sameMember(a, b models.PatreonMember) bool {
	return a.LifetimeSupportCents == b.LifetimeSupportCents &&
		a.PatronStatus == b.PatronStatus &&
		a.LastChargeStatus == b.LastChargeStatus &&
		sameTime(a.LastChargeDate, b.LastChargeDate) &&
		sameTime(a.PledgeRelationshipStart, b.PledgeRelationshipStart) &&
		a.CurrentlyEntitledAmountCents == b.CurrentlyEntitledAmountCents &&
		a.IsFollower == b.IsFollower
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sortedKeys(s *Snapshot) []MemberKey {
	keys := make([]MemberKey, 0, len(s.Members))
	for k := range s.Members {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CampaignID != keys[j].CampaignID {
			return keys[i].CampaignID < keys[j].CampaignID
		}
		return keys[i].PatronID < keys[j].PatronID
	})
	return keys
}
