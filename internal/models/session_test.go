package models

import "testing"

func TestSessionKeyDistinct(t *testing.T) {
	a := SessionKey("a/b", "c")
	b := SessionKey("a", "b/c")
	if a == b {
		t.Fatalf("SessionKey(%q, %q) == SessionKey(%q, %q)", "a/b", "c", "a", "b/c")
	}
	if a.String() != "a/b/c" {
		t.Fatalf("String() = %q", a.String())
	}
	if SessionKey("r", "d") != (DocKey{Room: "r", Doc: "d"}) {
		t.Fatal("equal names produced different keys")
	}
}

func TestConnStateString(t *testing.T) {
	for state, want := range map[ConnState]string{
		StateUnjoined: "unjoined",
		StateJoined:   "joined",
		StateClosed:   "closed",
		ConnState(9):  "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
