package collaboration

import (
	"reflect"
	"testing"

	"collabd/internal/models"
)

type recordingPublisher struct {
	msgs []models.ServerMessage
}

func (p *recordingPublisher) Publish(msg models.ServerMessage) int {
	p.msgs = append(p.msgs, msg)
	return 1
}

func TestPresenceRegisterAssignsIncreasingIDs(t *testing.T) {
	reg := NewPresenceRegistry(nil)

	alice, _ := reg.Register("alice", "r", "d")
	bob, members := reg.Register("bob", "r", "d")
	carol, _ := reg.Register("carol", "other", "d")

	if alice.ID != 1 || bob.ID != 2 || carol.ID != 3 {
		t.Fatalf("ids = %d, %d, %d; want 1, 2, 3", alice.ID, bob.ID, carol.ID)
	}
	want := []models.UserInfo{{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"}}
	if !reflect.DeepEqual(members, want) {
		t.Fatalf("members = %v, want %v", members, want)
	}
	if reg.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", reg.Len())
	}
}

func TestPresenceIDsAreNotReused(t *testing.T) {
	reg := NewPresenceRegistry(nil)

	first, _ := reg.Register("alice", "r", "d")
	reg.Remove(first.ID)
	second, _ := reg.Register("alice", "r", "d")

	if second.ID == first.ID {
		t.Fatalf("id %d was reused", first.ID)
	}
}

func TestPresenceAnnouncesChanges(t *testing.T) {
	pub := &recordingPublisher{}
	reg := NewPresenceRegistry(pub)

	alice, _ := reg.Register("alice", "r", "d")
	reg.Register("bob", "r", "d")
	if _, ok := reg.Remove(alice.ID); !ok {
		t.Fatal("Remove(alice) = false")
	}
	if _, ok := reg.Remove(alice.ID); ok {
		t.Fatal("second Remove(alice) = true")
	}

	if len(pub.msgs) != 3 {
		t.Fatalf("published %d events, want 3", len(pub.msgs))
	}
	last := pub.msgs[2]
	if last.Type != models.ServerPresence || !last.Matches("r", "d") {
		t.Fatalf("last event = %+v", last)
	}
	want := []models.UserInfo{{ID: 2, Name: "bob"}}
	if !reflect.DeepEqual(last.Users, want) {
		t.Fatalf("users after leave = %v, want %v", last.Users, want)
	}
}

func TestPresenceMembersOf(t *testing.T) {
	reg := NewPresenceRegistry(nil)
	for _, name := range []string{"c", "a", "b"} {
		reg.Register(name, "r", "d")
	}
	reg.Register("x", "r", "other")

	members := reg.MembersOf("r", "d")
	if len(members) != 3 {
		t.Fatalf("MembersOf = %v", members)
	}
	for i := 1; i < len(members); i++ {
		if members[i-1].ID >= members[i].ID {
			t.Fatalf("members not ordered by id: %v", members)
		}
	}
	if got := reg.MembersOf("nobody", "here"); len(got) != 0 {
		t.Fatalf("MembersOf(empty session) = %v", got)
	}

	if u, ok := reg.Get(4); !ok || u.Doc != "other" {
		t.Fatalf("Get(4) = %+v, %v", u, ok)
	}
}
