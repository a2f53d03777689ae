package domain

import (
	"strings"
	"testing"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser("alice")
	if err != nil {
		t.Fatalf("expected valid user, got %v", err)
	}
	if u.Name != "alice" {
		t.Fatalf("expected name kept, got %s", u.Name)
	}

	if _, err := NewUser(""); err != ErrUsernameEmpty {
		t.Fatalf("expected ErrUsernameEmpty, got %v", err)
	}
	if _, err := NewUser(strings.Repeat("x", MaxUsernameLen+1)); err != ErrUsernameTooLong {
		t.Fatalf("expected ErrUsernameTooLong, got %v", err)
	}
	if _, err := NewUser(strings.Repeat("x", MaxUsernameLen)); err != nil {
		t.Fatalf("expected max-length name accepted, got %v", err)
	}
}
