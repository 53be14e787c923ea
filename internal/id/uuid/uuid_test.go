package uuid

import "testing"

func TestNewIDUnique(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	a, err := g.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	b, err := g.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if a == b {
		t.Fatalf("expected unique ids, got %s twice", a)
	}
	if len(a) != 36 {
		t.Fatalf("expected canonical uuid form, got %q", a)
	}
}
