package features

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/frame"
)

// networkFeatures are the toggles the network extractor accepts.
var networkFeatures = map[string]bool{
	"bytes_transferred":       true,
	"connection_count":        true,
	"unique_destinations":     true,
	"port_scan_indicators":    true,
	"lateral_movement_score":  true,
	"data_exfiltration_score": true,
}

// failedConnectionStatuses indicate probing or refused connections for
// the port-scan indicator.
var failedConnectionStatuses = map[int]bool{403: true, 404: true, 500: true, 503: true}

// Network extracts connection-level features that may indicate port
// scanning, lateral movement or data exfiltration.
type Network struct {
	features []string
}

// NewNetwork creates the network extractor, failing fast on unknown
// feature toggles.
func NewNetwork(cfg domain.ExtractorConfig) (*Network, error) {
	for _, f := range cfg.Features {
		if !networkFeatures[f] {
			return nil, fmt.Errorf("unknown network feature: %s", f)
		}
	}
	return &Network{features: cfg.Features}, nil
}

// Name returns the extractor name.
func (n *Network) Name() string { return "network" }

// Extract computes the configured network features. The
// bytes_transferred toggle emits both the raw value and its log1p
// transform; port_scan_indicators emits the port_scan_score column.
func (n *Network) Extract(tbl *domain.EventTable) *frame.Frame {
	f := frame.New(tbl.Len())
	for _, name := range n.features {
		switch name {
		case "bytes_transferred":
			raw := n.bytesTransferred(tbl)
			f.Set("bytes_transferred", raw)
			logCol := make([]float64, len(raw))
			for i, v := range raw {
				logCol[i] = math.Log1p(v)
			}
			f.Set("bytes_transferred_log", logCol)
		case "connection_count":
			f.Set(name, n.connectionCount(tbl))
		case "unique_destinations":
			f.Set(name, n.uniqueDestinations(tbl))
		case "port_scan_indicators":
			f.Set("port_scan_score", n.portScanScore(tbl))
		case "lateral_movement_score":
			f.Set(name, n.lateralMovementScore(tbl))
		case "data_exfiltration_score":
			f.Set(name, n.exfiltrationScore(tbl))
		}
	}
	return f
}

func (n *Network) bytesTransferred(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldBytesTransferred) {
		slog.Warn("network feature degraded to zeros", "feature", "bytes_transferred")
		return zeros(tbl.Len())
	}
	out := make([]float64, tbl.Len())
	for i, e := range tbl.Events {
		out[i] = e.BytesTransferred
	}
	return out
}

// connectionCount is the number of events in the session. Without a
// session id every row counts as its own connection.
func (n *Network) connectionCount(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldSessionID) {
		return ones(tbl.Len())
	}
	groups := sessionGroups(tbl.Events)
	counts := make(map[string]float64, len(groups))
	for key, idx := range groups {
		counts[key] = float64(len(idx))
	}
	return broadcast(tbl.Len(), groups, counts)
}

// uniqueDestinations prefers destination IPs, falling back to resources
// when the source has no destination column.
func (n *Network) uniqueDestinations(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldSessionID) {
		return ones(tbl.Len())
	}

	var keyOf func(domain.Event) string
	switch {
	case tbl.Has(domain.FieldDestinationIP):
		keyOf = func(e domain.Event) string { return e.DestinationIP }
	case tbl.Has(domain.FieldResource):
		keyOf = func(e domain.Event) string { return e.Resource }
	default:
		return ones(tbl.Len())
	}

	groups := sessionGroups(tbl.Events)
	counts := make(map[string]float64, len(groups))
	for key, idx := range groups {
		seen := make(map[string]bool)
		for _, i := range idx {
			seen[keyOf(tbl.Events[i])] = true
		}
		counts[key] = float64(len(seen))
	}
	return broadcast(tbl.Len(), groups, counts)
}

// portScanScore is a weighted sum of three binary indicators: many
// unique destinations (+0.3), a high connection rate (+0.3) and many
// failed connections (+0.4).
func (n *Network) portScanScore(tbl *domain.EventTable) []float64 {
	score := zeros(tbl.Len())
	if !tbl.Has(domain.FieldSessionID) {
		return score
	}

	groups := sessionGroups(tbl.Events)

	if tbl.Has(domain.FieldDestinationIP) {
		dests := n.uniqueDestinations(tbl)
		for i, v := range dests {
			if v > 10 {
				score[i] += 0.3
			}
		}
	}

	if tbl.Has(domain.FieldTimestamp) {
		durations := sessionDurations(tbl.Events, groups)
		for key, idx := range groups {
			// Connections per minute, with a one-minute floor.
			rate := float64(len(idx)) / (durations[key]/60.0 + 1)
			if rate > 20 {
				for _, i := range idx {
					score[i] += 0.3
				}
			}
		}
	}

	if tbl.Has(domain.FieldStatusCode) {
		for _, idx := range groups {
			failed := 0
			for _, i := range idx {
				if failedConnectionStatuses[tbl.Events[i].StatusCode] {
					failed++
				}
			}
			if failed > 5 {
				for _, i := range idx {
					score[i] += 0.4
				}
			}
		}
	}

	return score
}

// lateralMovementScore is a weighted sum of three binary indicators:
// many distinct resources (+0.3), any escalation attempt (+0.4) and a
// user active from more than two source IPs (+0.3).
func (n *Network) lateralMovementScore(tbl *domain.EventTable) []float64 {
	score := zeros(tbl.Len())
	if !tbl.Has(domain.FieldSessionID) {
		return score
	}

	groups := sessionGroups(tbl.Events)

	if tbl.Has(domain.FieldResource) {
		for _, idx := range groups {
			seen := make(map[string]bool)
			for _, i := range idx {
				seen[tbl.Events[i].Resource] = true
			}
			if len(seen) > 5 {
				for _, i := range idx {
					score[i] += 0.3
				}
			}
		}
	}

	if tbl.Has(domain.FieldAction) {
		for _, idx := range groups {
			escalated := false
			for _, i := range idx {
				if containsAny(tbl.Events[i].Action, lateralEscalationKeywords) {
					escalated = true
					break
				}
			}
			if escalated {
				for _, i := range idx {
					score[i] += 0.4
				}
			}
		}
	}

	if tbl.Has(domain.FieldSourceIP) && tbl.Has(domain.FieldUserID) {
		byUser := userGroups(tbl.Events)
		for _, idx := range byUser {
			ips := make(map[string]bool)
			for _, i := range idx {
				ips[tbl.Events[i].SourceIP] = true
			}
			if len(ips) > 2 {
				for _, i := range idx {
					score[i] += 0.3
				}
			}
		}
	}

	return score
}

// exfiltrationScore flags sessions with a large total transfer volume
// (+0.5), highly variable transfer sizes (+0.3) or off-hours rows
// (+0.2).
func (n *Network) exfiltrationScore(tbl *domain.EventTable) []float64 {
	score := zeros(tbl.Len())
	if !tbl.Has(domain.FieldBytesTransferred) || !tbl.Has(domain.FieldSessionID) {
		return score
	}

	groups := sessionGroups(tbl.Events)
	for _, idx := range groups {
		var total, sumSq float64
		for _, i := range idx {
			total += tbl.Events[i].BytesTransferred
		}
		mean := total / float64(len(idx))
		for _, i := range idx {
			d := tbl.Events[i].BytesTransferred - mean
			sumSq += d * d
		}
		std := math.Sqrt(sumSq / float64(len(idx)))

		if total > 10_000_000 {
			for _, i := range idx {
				score[i] += 0.5
			}
		}
		// Coefficient of variation; +1 guards the zero-mean case.
		if std/(mean+1) > 2 {
			for _, i := range idx {
				score[i] += 0.3
			}
		}
	}

	if tbl.Has(domain.FieldTimestamp) {
		for i, e := range tbl.Events {
			h := e.Timestamp.Hour()
			if h < 6 || h > 22 {
				score[i] += 0.2
			}
		}
	}

	return score
}
