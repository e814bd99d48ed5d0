package features

import (
	"fmt"
	"log/slog"

	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/frame"
)

// behavioralFeatures are the toggles the behavioral extractor accepts.
var behavioralFeatures = map[string]bool{
	"failed_login_count":            true,
	"privilege_escalation_attempts": true,
	"unique_resources_accessed":     true,
	"session_duration":              true,
	"action_frequency":              true,
	"suspicious_action_ratio":       true,
	"error_rate":                    true,
}

// Behavioral extracts user and session behavior patterns that may
// indicate malicious activity.
type Behavioral struct {
	features []string
}

// NewBehavioral creates the behavioral extractor, failing fast on
// unknown feature toggles.
func NewBehavioral(cfg domain.ExtractorConfig) (*Behavioral, error) {
	for _, f := range cfg.Features {
		if !behavioralFeatures[f] {
			return nil, fmt.Errorf("unknown behavioral feature: %s", f)
		}
	}
	return &Behavioral{features: cfg.Features}, nil
}

// Name returns the extractor name.
func (b *Behavioral) Name() string { return "behavioral" }

// Extract computes the configured behavioral features, one column per
// feature, row-aligned to the input events.
func (b *Behavioral) Extract(tbl *domain.EventTable) *frame.Frame {
	f := frame.New(tbl.Len())
	for _, name := range b.features {
		switch name {
		case "failed_login_count":
			f.Set(name, b.failedLoginCount(tbl))
		case "privilege_escalation_attempts":
			f.Set(name, b.escalationAttempts(tbl))
		case "unique_resources_accessed":
			f.Set(name, b.uniqueResources(tbl))
		case "session_duration":
			f.Set(name, b.sessionDuration(tbl))
		case "action_frequency":
			f.Set(name, b.actionFrequency(tbl))
		case "suspicious_action_ratio":
			f.Set(name, b.suspiciousRatio(tbl))
		case "error_rate":
			f.Set(name, b.errorRate(tbl))
		}
	}
	return f
}

// failedLoginCount counts login actions with 401/403 statuses per
// session.
func (b *Behavioral) failedLoginCount(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldAction) || !tbl.Has(domain.FieldStatusCode) {
		slog.Warn("behavioral feature degraded to zeros", "feature", "failed_login_count")
		return zeros(tbl.Len())
	}

	isFailed := func(e domain.Event) bool {
		return containsAny(e.Action, []string{"login"}) &&
			(e.StatusCode == 401 || e.StatusCode == 403)
	}

	if !tbl.Has(domain.FieldSessionID) {
		out := make([]float64, tbl.Len())
		for i, e := range tbl.Events {
			if isFailed(e) {
				out[i] = 1
			}
		}
		return out
	}

	groups := sessionGroups(tbl.Events)
	counts := make(map[string]float64, len(groups))
	for key, idx := range groups {
		for _, i := range idx {
			if isFailed(tbl.Events[i]) {
				counts[key]++
			}
		}
	}
	return broadcast(tbl.Len(), groups, counts)
}

// escalationAttempts counts actions matching the escalation keyword set
// per session.
func (b *Behavioral) escalationAttempts(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldAction) {
		slog.Warn("behavioral feature degraded to zeros", "feature", "privilege_escalation_attempts")
		return zeros(tbl.Len())
	}

	if !tbl.Has(domain.FieldSessionID) {
		out := make([]float64, tbl.Len())
		for i, e := range tbl.Events {
			if containsAny(e.Action, escalationKeywords) {
				out[i] = 1
			}
		}
		return out
	}

	groups := sessionGroups(tbl.Events)
	counts := make(map[string]float64, len(groups))
	for key, idx := range groups {
		for _, i := range idx {
			if containsAny(tbl.Events[i].Action, escalationKeywords) {
				counts[key]++
			}
		}
	}
	return broadcast(tbl.Len(), groups, counts)
}

// uniqueResources counts distinct resources accessed per session.
func (b *Behavioral) uniqueResources(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldResource) || !tbl.Has(domain.FieldSessionID) {
		slog.Warn("behavioral feature degraded to zeros", "feature", "unique_resources_accessed")
		return zeros(tbl.Len())
	}

	groups := sessionGroups(tbl.Events)
	counts := make(map[string]float64, len(groups))
	for key, idx := range groups {
		seen := make(map[string]bool)
		for _, i := range idx {
			seen[tbl.Events[i].Resource] = true
		}
		counts[key] = float64(len(seen))
	}
	return broadcast(tbl.Len(), groups, counts)
}

// sessionDuration is the session's time span in seconds.
func (b *Behavioral) sessionDuration(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldTimestamp) || !tbl.Has(domain.FieldSessionID) {
		slog.Warn("behavioral feature degraded to zeros", "feature", "session_duration")
		return zeros(tbl.Len())
	}

	groups := sessionGroups(tbl.Events)
	return broadcast(tbl.Len(), groups, sessionDurations(tbl.Events, groups))
}

// actionFrequency is actions per minute within a session. Zero-length
// sessions count as one minute to avoid division by zero.
func (b *Behavioral) actionFrequency(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldSessionID) {
		slog.Warn("behavioral feature degraded to zeros", "feature", "action_frequency")
		return zeros(tbl.Len())
	}

	groups := sessionGroups(tbl.Events)
	durations := sessionDurations(tbl.Events, groups)

	freq := make(map[string]float64, len(groups))
	for key, idx := range groups {
		minutes := durations[key] / 60.0
		if minutes == 0 {
			minutes = 1
		}
		freq[key] = float64(len(idx)) / minutes
	}
	return broadcast(tbl.Len(), groups, freq)
}

// suspiciousRatio is the fraction of destructive or injection-style
// actions within each session.
func (b *Behavioral) suspiciousRatio(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldAction) || !tbl.Has(domain.FieldSessionID) {
		slog.Warn("behavioral feature degraded to zeros", "feature", "suspicious_action_ratio")
		return zeros(tbl.Len())
	}

	groups := sessionGroups(tbl.Events)
	ratios := make(map[string]float64, len(groups))
	for key, idx := range groups {
		suspicious := 0.0
		for _, i := range idx {
			if containsAny(tbl.Events[i].Action, suspiciousKeywords) {
				suspicious++
			}
		}
		ratios[key] = suspicious / float64(len(idx))
	}
	return broadcast(tbl.Len(), groups, ratios)
}

// errorRate is the fraction of >=400 statuses within each session.
func (b *Behavioral) errorRate(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldStatusCode) || !tbl.Has(domain.FieldSessionID) {
		slog.Warn("behavioral feature degraded to zeros", "feature", "error_rate")
		return zeros(tbl.Len())
	}

	groups := sessionGroups(tbl.Events)
	rates := make(map[string]float64, len(groups))
	for key, idx := range groups {
		errs := 0.0
		for _, i := range idx {
			if tbl.Events[i].StatusCode >= 400 {
				errs++
			}
		}
		rates[key] = errs / float64(len(idx))
	}
	return broadcast(tbl.Len(), groups, rates)
}
