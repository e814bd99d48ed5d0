// Package ingest loads security event logs from JSON, NDJSON and CSV
// files into event tables ready for feature extraction.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-security/shrike/internal/domain"
)

// timestampFormats are tried in order when parsing event timestamps.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// LoadFile reads events from a file, dispatching on the extension:
// .json for a JSON array, .ndjson/.jsonl for newline-delimited JSON,
// .csv for CSV with a header row.
func LoadFile(path string) (*domain.EventTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return ReadJSON(f)
	case ".ndjson", ".jsonl":
		return ReadNDJSON(f)
	case ".csv":
		return ReadCSV(f)
	default:
		return nil, fmt.Errorf("unsupported event format: %s", ext)
	}
}

// ReadJSON reads a JSON array of event objects.
func ReadJSON(r io.Reader) (*domain.EventTable, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}
	return buildTable(raw)
}

// ReadNDJSON reads newline-delimited JSON, one event object per line.
func ReadNDJSON(r io.Reader) (*domain.EventTable, error) {
	var raw []map[string]any
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(text, &obj); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", line, err)
		}
		raw = append(raw, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return buildTable(raw)
}

// ReadCSV reads CSV with a header row naming the event fields.
func ReadCSV(r io.Reader) (*domain.EventTable, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var raw []map[string]any
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		obj := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(record) && record[i] != "" {
				obj[name] = record[i]
			}
		}
		raw = append(raw, obj)
	}
	return buildTable(raw)
}

// buildTable converts raw objects into a sorted event table, recording
// which fields the source actually provided.
func buildTable(raw []map[string]any) (*domain.EventTable, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no events in input")
	}

	present := make(map[string]bool)
	events := make([]domain.Event, 0, len(raw))
	dropped := 0
	for i, obj := range raw {
		e, err := parseEvent(obj)
		if err != nil {
			if dropped == 0 {
				slog.Warn("dropping malformed event", "row", i, "error", err)
			}
			dropped++
			continue
		}
		for key := range obj {
			present[key] = true
		}
		events = append(events, e)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no valid events in input, %d dropped", dropped)
	}
	if dropped > 0 {
		slog.Warn("malformed events dropped", "count", dropped, "kept", len(events))
	}

	if present[domain.FieldTimestamp] {
		sort.SliceStable(events, func(a, b int) bool {
			return events[a].Timestamp.Before(events[b].Timestamp)
		})
	}

	fields := make([]string, 0, len(present))
	for key := range present {
		fields = append(fields, key)
	}
	return domain.NewEventTable(events, fields...), nil
}

func parseEvent(obj map[string]any) (domain.Event, error) {
	var e domain.Event
	var err error

	if v, ok := obj[domain.FieldTimestamp]; ok {
		e.Timestamp, err = parseTimestamp(v)
		if err != nil {
			return e, err
		}
	}
	e.SessionID = stringField(obj, domain.FieldSessionID)
	e.UserID = stringField(obj, domain.FieldUserID)
	e.SourceIP = stringField(obj, domain.FieldSourceIP)
	e.DestinationIP = stringField(obj, domain.FieldDestinationIP)
	e.Action = stringField(obj, domain.FieldAction)
	e.Resource = stringField(obj, domain.FieldResource)
	e.AttackType = stringField(obj, "attack_type")

	if v, ok := obj[domain.FieldStatusCode]; ok {
		n, err := numberField(v)
		if err != nil {
			return e, fmt.Errorf("status_code: %w", err)
		}
		e.StatusCode = int(n)
	}
	if v, ok := obj[domain.FieldBytesTransferred]; ok {
		e.BytesTransferred, err = numberField(v)
		if err != nil {
			return e, fmt.Errorf("bytes_transferred: %w", err)
		}
	}
	if v, ok := obj[domain.FieldIsMalicious]; ok {
		e.IsMalicious, err = boolField(v)
		if err != nil {
			return e, fmt.Errorf("is_malicious: %w", err)
		}
	}
	return e, nil
}

func parseTimestamp(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		// Numeric timestamps are Unix seconds.
		if n, err := numberField(v); err == nil {
			return time.Unix(int64(n), 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("timestamp: unsupported type %T", v)
	}
	for _, layout := range timestampFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp: unparseable value %q", s)
}

func stringField(obj map[string]any, key string) string {
	if v, ok := obj[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func numberField(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func boolField(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	case float64:
		return b != 0, nil
	default:
		return false, fmt.Errorf("unsupported boolean type %T", v)
	}
}
