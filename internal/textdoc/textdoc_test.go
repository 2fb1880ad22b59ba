package textdoc

import "testing"

func TestInsertAndDelete(t *testing.T) {
	d := New("room/doc", "server")
	d.Insert(0, "Hello")
	d.Insert(5, " world")
	d.Insert(0, "¡")

	if got := d.Text(); got != "¡Hello world" {
		t.Fatalf("Text() = %q", got)
	}
	if d.Len() != 12 {
		t.Fatalf("Len() = %d, want 12", d.Len())
	}

	d.Delete(0, 1)
	d.Delete(5, 100)
	if got := d.Text(); got != "Hello" {
		t.Fatalf("after delete Text() = %q, want %q", got, "Hello")
	}
}

func TestInsertMiddle(t *testing.T) {
	d := FromText("d", "r", "日本")
	d.Insert(1, "x")
	if got := d.Text(); got != "日x本" {
		t.Fatalf("Text() = %q", got)
	}
}

func TestClamping(t *testing.T) {
	d := FromText("d", "r", "abc")
	d.Insert(99, "d")
	d.Insert(-4, "_")
	d.Delete(-1, 1)
	d.Delete(2, 0)
	if got := d.Text(); got != "abcd" {
		t.Fatalf("Text() = %q, want %q", got, "abcd")
	}
}
