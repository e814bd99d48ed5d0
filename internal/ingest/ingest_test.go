package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-security/shrike/internal/domain"
)

const jsonEvents = `[
  {"timestamp": "2025-06-02T10:05:00Z", "session_id": "s1", "user_id": "u1", "action": "login", "status_code": 200},
  {"timestamp": "2025-06-02T10:00:00Z", "session_id": "s1", "user_id": "u1", "action": "read_file", "status_code": 200, "bytes_transferred": 512}
]`

func TestReadJSONSortsByTimestamp(t *testing.T) {
	tbl, err := ReadJSON(strings.NewReader(jsonEvents))
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("rows: got %d, want 2", tbl.Len())
	}
	if !tbl.Events[0].Timestamp.Before(tbl.Events[1].Timestamp) {
		t.Error("events not sorted by timestamp")
	}
	if tbl.Events[0].Action != "read_file" {
		t.Errorf("first action: got %s, want read_file", tbl.Events[0].Action)
	}
}

func TestReadJSONFieldPresence(t *testing.T) {
	tbl, err := ReadJSON(strings.NewReader(jsonEvents))
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{domain.FieldTimestamp, domain.FieldSessionID, domain.FieldAction, domain.FieldBytesTransferred} {
		if !tbl.Has(field) {
			t.Errorf("missing field %s", field)
		}
	}
	if tbl.Has(domain.FieldDestinationIP) {
		t.Error("destination_ip should be absent")
	}
}

func TestReadNDJSON(t *testing.T) {
	input := `{"timestamp": "2025-06-02 10:00:00", "session_id": "s1", "action": "login"}

{"timestamp": "2025-06-02 10:01:00", "session_id": "s1", "action": "logout"}
`
	tbl, err := ReadNDJSON(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("rows: got %d, want 2", tbl.Len())
	}
}

func TestReadCSV(t *testing.T) {
	input := "timestamp,session_id,action,status_code,bytes_transferred,is_malicious\n" +
		"2025-06-02T10:00:00Z,s1,login,200,1024,false\n" +
		"2025-06-02T10:01:00Z,s1,delete_file,403,0,true\n"
	tbl, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("rows: got %d, want 2", tbl.Len())
	}
	if tbl.Events[0].StatusCode != 200 {
		t.Errorf("status: got %d, want 200", tbl.Events[0].StatusCode)
	}
	if tbl.Events[0].BytesTransferred != 1024 {
		t.Errorf("bytes: got %v, want 1024", tbl.Events[0].BytesTransferred)
	}
	labels := tbl.Labels()
	if labels == nil || labels[0] || !labels[1] {
		t.Errorf("labels: got %v", labels)
	}
}

func TestMalformedEventsDropped(t *testing.T) {
	input := `[
  {"timestamp": "2025-06-02T10:00:00Z", "action": "login"},
  {"timestamp": "not a time", "action": "login"}
]`
	tbl, err := ReadJSON(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("rows: got %d, want 1", tbl.Len())
	}
}

func TestAllEventsMalformed(t *testing.T) {
	input := `[{"timestamp": "bad"}]`
	if _, err := ReadJSON(strings.NewReader(input)); err == nil {
		t.Fatal("expected error when every event is malformed")
	}
}

func TestLoadFileDispatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.json")
	if err := os.WriteFile(path, []byte(jsonEvents), 0o644); err != nil {
		t.Fatal(err)
	}

	tbl, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("rows: got %d, want 2", tbl.Len())
	}

	if _, err := LoadFile(filepath.Join(dir, "events.parquet")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
