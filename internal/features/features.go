// Package features converts cleaned event tables into normalized
// numeric feature matrices. Three independent extractors (behavioral,
// network, temporal) each produce named columns aligned to the input
// row index; the Engineer orchestrates them, appends grouped
// aggregations and normalizes every column into [0,1].
package features

import (
	"strings"

	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/frame"
)

// Extractor is the contract every feature extractor satisfies. Extract
// never fails: features whose input fields are absent degrade to
// zero-filled columns.
type Extractor interface {
	Name() string
	Extract(tbl *domain.EventTable) *frame.Frame
}

// escalationKeywords flag privilege escalation attempts in action names.
var escalationKeywords = []string{"sudo", "admin", "root", "privilege", "escalate", "elevate"}

// lateralEscalationKeywords is the narrower set used by the lateral
// movement indicator.
var lateralEscalationKeywords = []string{"sudo", "admin", "root", "privilege"}

// suspiciousKeywords flag destructive or injection-style actions.
var suspiciousKeywords = []string{
	"delete", "drop", "truncate", "exec", "script",
	"inject", "exploit", "payload", "shell",
}

// sessionGroups maps each session id to the row indices belonging to
// it, preserving the input row order within each group.
func sessionGroups(events []domain.Event) map[string][]int {
	groups := make(map[string][]int)
	for i, e := range events {
		groups[e.SessionID] = append(groups[e.SessionID], i)
	}
	return groups
}

// userGroups maps each user id to its row indices.
func userGroups(events []domain.Event) map[string][]int {
	groups := make(map[string][]int)
	for i, e := range events {
		groups[e.UserID] = append(groups[e.UserID], i)
	}
	return groups
}

// broadcast assigns each row the value computed for its group.
func broadcast(n int, groups map[string][]int, values map[string]float64) []float64 {
	out := make([]float64, n)
	for key, idx := range groups {
		v := values[key]
		for _, i := range idx {
			out[i] = v
		}
	}
	return out
}

// zeros returns an all-zero column.
func zeros(n int) []float64 {
	return make([]float64, n)
}

// ones returns an all-one column.
func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// containsAny reports whether s contains any of the keywords,
// case-insensitively.
func containsAny(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// sessionDurations returns each session's duration in seconds
// (max timestamp minus min timestamp).
func sessionDurations(events []domain.Event, groups map[string][]int) map[string]float64 {
	durations := make(map[string]float64, len(groups))
	for key, idx := range groups {
		minT := events[idx[0]].Timestamp
		maxT := minT
		for _, i := range idx[1:] {
			t := events[i].Timestamp
			if t.Before(minT) {
				minT = t
			}
			if t.After(maxT) {
				maxT = t
			}
		}
		durations[key] = maxT.Sub(minT).Seconds()
	}
	return durations
}
