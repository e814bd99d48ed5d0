package datagen

import (
	"path/filepath"
	"testing"

	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/ingest"
)

func TestGenerateDeterministic(t *testing.T) {
	a := New(7).Generate(20, 5)
	b := New(7).Generate(20, 5)

	if a.Len() != b.Len() {
		t.Fatalf("lengths differ: %d vs %d", a.Len(), b.Len())
	}
	for i := range a.Events {
		if a.Events[i] != b.Events[i] {
			t.Fatalf("event %d differs with the same seed", i)
		}
	}
}

func TestGenerateLabels(t *testing.T) {
	tbl := New(1).Generate(30, 10)

	labels := tbl.Labels()
	if labels == nil {
		t.Fatal("no labels on synthetic data")
	}
	malicious := 0
	for _, m := range labels {
		if m {
			malicious++
		}
	}
	if malicious == 0 {
		t.Fatal("no malicious events generated")
	}
	if malicious == tbl.Len() {
		t.Fatal("every event labeled malicious")
	}

	for i, e := range tbl.Events {
		if e.IsMalicious && e.AttackType == "" {
			t.Fatalf("event %d: malicious without attack type", i)
		}
	}
}

func TestGenerateSortedAndComplete(t *testing.T) {
	tbl := New(3).Generate(10, 3)

	for i := 1; i < tbl.Len(); i++ {
		if tbl.Events[i].Timestamp.Before(tbl.Events[i-1].Timestamp) {
			t.Fatalf("events out of order at %d", i)
		}
	}
	for _, field := range domain.AllFields() {
		if !tbl.Has(field) {
			t.Errorf("missing field %s", field)
		}
	}
}

func TestAttackShapes(t *testing.T) {
	tbl := New(5).Generate(0, 50)

	seen := map[string]bool{}
	for _, e := range tbl.Events {
		if !e.IsMalicious {
			continue
		}
		seen[e.AttackType] = true
		switch e.AttackType {
		case AttackBruteForce:
			if e.Action != "login" || (e.StatusCode != 401 && e.StatusCode != 403) {
				t.Fatalf("brute force shape: %+v", e)
			}
		case AttackDataExfiltration:
			if e.BytesTransferred < 10_000_000 {
				t.Fatalf("exfiltration bytes too small: %v", e.BytesTransferred)
			}
		case AttackPrivilegeEscalation:
			if e.StatusCode != 401 && e.StatusCode != 403 {
				t.Fatalf("escalation status: %d", e.StatusCode)
			}
		}
	}
	for _, attack := range []string{AttackBruteForce, AttackDataExfiltration, AttackPrivilegeEscalation} {
		if !seen[attack] {
			t.Errorf("attack type %s never generated", attack)
		}
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	tbl := New(9).Generate(5, 2)
	path := filepath.Join(t.TempDir(), "events.json")
	if err := WriteJSON(path, tbl); err != nil {
		t.Fatal(err)
	}

	loaded, err := ingest.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != tbl.Len() {
		t.Fatalf("rows: got %d, want %d", loaded.Len(), tbl.Len())
	}
	if loaded.Labels() == nil {
		t.Fatal("labels lost in round trip")
	}
}
