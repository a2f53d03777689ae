package app

import (
	"testing"
)

func TestRoomManager_GetOrCreateReturnsSameRoom(t *testing.T) {
	m := NewRoomManager()
	r1 := m.GetOrCreate("lobby")
	r2 := m.GetOrCreate("lobby")
	if r1 != r2 {
		t.Fatalf("expected the same room instance for the same name")
	}
	if r1.Name() != "lobby" {
		t.Fatalf("expected room name lobby, got %s", r1.Name())
	}
}

func TestRoom_MembersKeepJoinOrder(t *testing.T) {
	m := NewRoomManager()
	room := m.GetOrCreate("lobby")

	a := NewSession("sid-a", mustUser(t, "alice"), "lobby", nil)
	b := NewSession("sid-b", mustUser(t, "bob"), "lobby", nil)
	c := NewSession("sid-c", mustUser(t, "carol"), "lobby", nil)
	room.Add(a)
	room.Add(b)
	room.Add(c)

	members := room.Members()
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
	for i, want := range []*Session{a, b, c} {
		if members[i] != want {
			t.Fatalf("member %d out of join order", i)
		}
	}

	if !room.Remove("sid-b") {
		t.Fatalf("expected removal of a present member to report true")
	}
	if room.Remove("sid-b") {
		t.Fatalf("expected removal of an absent member to report false")
	}
	members = room.Members()
	if len(members) != 2 || members[0] != a || members[1] != c {
		t.Fatalf("expected remaining members [alice carol] in order")
	}
}

func TestRoomManager_EmptyRoomDeleted(t *testing.T) {
	m := NewRoomManager()
	room := m.GetOrCreate("lobby")
	a := NewSession("sid-a", mustUser(t, "alice"), "lobby", nil)
	room.Add(a)

	m.RemoveMember("lobby", "sid-a")
	if _, ok := m.Get("lobby"); ok {
		t.Fatalf("expected empty room to be deleted")
	}

	// Safe on unknown rooms and on the empty name.
	m.RemoveMember("lobby", "sid-a")
	m.RemoveMember("", "sid-a")
}
