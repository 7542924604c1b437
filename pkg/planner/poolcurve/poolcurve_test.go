package poolcurve

import "testing"

func TestNextFollowsPublishedCurve(t *testing.T) {
	tr := New()
	tr.Seed("pool-1", []string{"1000", "1100", "1200", "1300"})

	want := []string{"1000", "1100", "1200"}
	for i, w := range want {
		got, err := tr.Next("pool-1")
		if err != nil {
			t.Fatalf("fill %d: unexpected error: %v", i, err)
		}
		if got != w {
			t.Fatalf("fill %d: got %q, want %q", i, got, w)
		}
	}
	if c := tr.Consumed("pool-1"); c != 3 {
		t.Fatalf("consumed = %d, want 3", c)
	}
}

func TestNextClampsPastEndOfList(t *testing.T) {
	tr := New()
	tr.Seed("pool-1", []string{"1000", "1100"})

	for i := 0; i < 4; i++ {
		if _, err := tr.Next("pool-1"); err != nil {
			t.Fatalf("fill %d: unexpected error: %v", i, err)
		}
	}
	got, err := tr.Next("pool-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "1100" {
		t.Fatalf("got %q, want clamp to last price 1100", got)
	}
}

func TestSeedIsIdempotentPerRequest(t *testing.T) {
	tr := New()
	tr.Seed("pool-1", []string{"1000", "1100"})
	if _, err := tr.Next("pool-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Re-seeding must not reset the cursor.
	tr.Seed("pool-1", []string{"9000"})
	if c := tr.Consumed("pool-1"); c != 1 {
		t.Fatalf("consumed = %d, want 1 (re-seed must be a no-op)", c)
	}
}

func TestNextUnseededPoolErrors(t *testing.T) {
	tr := New()
	if _, err := tr.Next("unknown"); err == nil {
		t.Fatal("expected error for unseeded pool")
	}
}
