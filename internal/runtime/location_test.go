package runtime

import (
	"os"
	"testing"
)

func TestStableVsEphemeral(t *testing.T) {
	s := Stable("n1")
	e := Ephemeral("n1")
	if !IsStable(s) {
		t.Fatalf("expected Stable(%q) to report stable", "n1")
	}
	if IsStable(e) {
		t.Fatalf("expected Ephemeral(%q) to not report stable", "n1")
	}
	if s.String() != "n1" {
		t.Fatalf("expected stable location to stringify to its id, got %q", s.String())
	}
}

func TestLocalHostStorageDirIsPerComponentAndSelf(t *testing.T) {
	root := t.TempDir()
	h := NewLocalHost(root, Stable("n1"))

	dir, err := h.StorageDir("storage")
	if err != nil {
		t.Fatalf("StorageDir: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected storage dir to exist: %v", err)
	}

	other, err := h.StorageDir("router")
	if err != nil {
		t.Fatalf("StorageDir: %v", err)
	}
	if other == dir {
		t.Fatalf("expected distinct components to get distinct directories")
	}
}

func TestLocalHostDiscoverExcludesSelf(t *testing.T) {
	h := NewLocalHost(t.TempDir(), Stable("n1"))
	h.RegisterPeers("storage", []Location{Stable("n1"), Stable("n2"), Stable("n3")})

	peers := h.Discover("storage")
	if len(peers) != 2 {
		t.Fatalf("expected self excluded, got %d peers: %v", len(peers), peers)
	}
	for _, p := range peers {
		if p == Stable("n1") {
			t.Fatalf("expected self not present among discovered peers")
		}
	}
}

func TestLocalHostMyself(t *testing.T) {
	h := NewLocalHost(t.TempDir(), Stable("n1"))
	if h.Myself("anything") != Stable("n1") {
		t.Fatalf("expected Myself to return the configured self location")
	}
}
