package access

import (
	"testing"

	"github.com/ckoons/katra-sub000/internal/katra"
)

type fakeTeams struct {
	members map[string]map[string]bool
}

func (f *fakeTeams) IsMember(team, ciID string) (bool, error) {
	return f.members[team][ciID], nil
}

func mustRecord(t *testing.T, iso katra.Isolation, team string, shared []string) *katra.MemoryRecord {
	t.Helper()
	r, err := katra.Create(katra.CreateOptions{
		CIID:       "owner-1",
		Type:       katra.TypeExperience,
		Content:    "hello world",
		Importance: 0.5,
		Isolation:  iso,
		TeamName:   team,
		SharedWith: shared,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func TestAllowOwner(t *testing.T) {
	c := NewChecker(nil)
	r := mustRecord(t, katra.IsolationPrivate, "", nil)
	if !c.Allow(r, "owner-1") {
		t.Error("owner must always be allowed")
	}
}

func TestAllowNilRequestorIsOwnerContext(t *testing.T) {
	c := NewChecker(nil)
	r := mustRecord(t, katra.IsolationPrivate, "", nil)
	if !c.Allow(r, "") {
		t.Error("empty requesting_ci_id means owner context, no filtering")
	}
}

func TestDenyPrivateToStranger(t *testing.T) {
	c := NewChecker(nil)
	r := mustRecord(t, katra.IsolationPrivate, "", nil)
	if c.Allow(r, "stranger") {
		t.Error("private record must not be visible to a non-owner")
	}
}

func TestAllowPublic(t *testing.T) {
	c := NewChecker(nil)
	r := mustRecord(t, katra.IsolationPublic, "", nil)
	if !c.Allow(r, "stranger") {
		t.Error("public record must be visible to anyone")
	}
}

func TestTeamMembership(t *testing.T) {
	teams := &fakeTeams{members: map[string]map[string]bool{
		"squad-a": {"member-1": true},
	}}
	c := NewChecker(teams)
	r := mustRecord(t, katra.IsolationTeam, "squad-a", nil)

	if !c.Allow(r, "member-1") {
		t.Error("team member must be allowed")
	}
	if c.Allow(r, "member-2") {
		t.Error("non-member must be denied")
	}
}

func TestExplicitShare(t *testing.T) {
	c := NewChecker(nil)
	r := mustRecord(t, katra.IsolationPrivate, "", []string{"friend-1"})
	if !c.Allow(r, "friend-1") {
		t.Error("explicitly shared ci_id must be allowed, bypassing isolation")
	}
	if c.Allow(r, "friend-2") {
		t.Error("unrelated ci_id must still be denied")
	}
}

func TestFilterPreservesOrderAndDropsSilently(t *testing.T) {
	c := NewChecker(nil)
	visible := mustRecord(t, katra.IsolationPublic, "", nil)
	hidden := mustRecord(t, katra.IsolationPrivate, "", nil)

	out := c.Filter([]*katra.MemoryRecord{visible, hidden}, "stranger")
	if len(out) != 1 || out[0].RecordID != visible.RecordID {
		t.Fatalf("expected only the public record to survive filtering, got %d results", len(out))
	}
}
