package features

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/frame"
)

// temporalFeatures are the toggles the temporal extractor accepts.
var temporalFeatures = map[string]bool{
	"hour_of_day":            true,
	"day_of_week":            true,
	"is_business_hours":      true,
	"time_since_last_action": true,
	"action_velocity":        true,
	"burst_count":            true,
}

// burstWindow is the trailing window for burst detection.
const burstWindow = 60 * time.Second

// Temporal extracts time-based features. Cyclic quantities (hour of
// day, day of week) are additionally encoded as sine/cosine pairs so
// that 23:00 and 00:00 stay adjacent in feature space.
type Temporal struct {
	features []string
}

// NewTemporal creates the temporal extractor, failing fast on unknown
// feature toggles.
func NewTemporal(cfg domain.ExtractorConfig) (*Temporal, error) {
	for _, f := range cfg.Features {
		if !temporalFeatures[f] {
			return nil, fmt.Errorf("unknown temporal feature: %s", f)
		}
	}
	return &Temporal{features: cfg.Features}, nil
}

// Name returns the extractor name.
func (t *Temporal) Name() string { return "temporal" }

// Extract computes the configured temporal features. A missing
// timestamp field degrades every temporal feature at once.
func (t *Temporal) Extract(tbl *domain.EventTable) *frame.Frame {
	f := frame.New(tbl.Len())

	if !tbl.Has(domain.FieldTimestamp) {
		slog.Warn("no timestamp field, temporal features degraded to zeros")
		for _, name := range t.features {
			switch name {
			case "hour_of_day":
				f.Set("hour_of_day", zeros(tbl.Len()))
				f.Set("hour_sin", zeros(tbl.Len()))
				f.Set("hour_cos", zeros(tbl.Len()))
			case "day_of_week":
				f.Set("day_of_week", zeros(tbl.Len()))
				f.Set("day_sin", zeros(tbl.Len()))
				f.Set("day_cos", zeros(tbl.Len()))
			default:
				f.Set(name, zeros(tbl.Len()))
			}
		}
		return f
	}

	for _, name := range t.features {
		switch name {
		case "hour_of_day":
			hours := make([]float64, tbl.Len())
			sins := make([]float64, tbl.Len())
			coss := make([]float64, tbl.Len())
			for i, e := range tbl.Events {
				h := float64(e.Timestamp.Hour())
				hours[i] = h
				sins[i] = math.Sin(2 * math.Pi * h / 24)
				coss[i] = math.Cos(2 * math.Pi * h / 24)
			}
			f.Set("hour_of_day", hours)
			f.Set("hour_sin", sins)
			f.Set("hour_cos", coss)
		case "day_of_week":
			days := make([]float64, tbl.Len())
			sins := make([]float64, tbl.Len())
			coss := make([]float64, tbl.Len())
			for i, e := range tbl.Events {
				d := float64(mondayIndexed(e.Timestamp))
				days[i] = d
				sins[i] = math.Sin(2 * math.Pi * d / 7)
				coss[i] = math.Cos(2 * math.Pi * d / 7)
			}
			f.Set("day_of_week", days)
			f.Set("day_sin", sins)
			f.Set("day_cos", coss)
		case "is_business_hours":
			f.Set(name, t.businessHours(tbl))
		case "time_since_last_action":
			f.Set(name, t.timeSinceLast(tbl))
		case "action_velocity":
			f.Set(name, t.actionVelocity(tbl))
		case "burst_count":
			f.Set(name, t.burstCount(tbl))
		}
	}
	return f
}

// mondayIndexed maps a timestamp's weekday onto Monday=0 .. Sunday=6.
func mondayIndexed(ts time.Time) int {
	return (int(ts.Weekday()) + 6) % 7
}

// businessHours flags Monday-Friday 09:00-17:00.
func (t *Temporal) businessHours(tbl *domain.EventTable) []float64 {
	out := make([]float64, tbl.Len())
	for i, e := range tbl.Events {
		h := e.Timestamp.Hour()
		if mondayIndexed(e.Timestamp) < 5 && h >= 9 && h < 17 {
			out[i] = 1
		}
	}
	return out
}

// timeSinceLast is the gap in seconds to the previous event in the same
// group (session, then user, then globally). The first event of each
// group gets 0.
func (t *Temporal) timeSinceLast(tbl *domain.EventTable) []float64 {
	var groups map[string][]int
	switch {
	case tbl.Has(domain.FieldSessionID):
		groups = sessionGroups(tbl.Events)
	case tbl.Has(domain.FieldUserID):
		groups = userGroups(tbl.Events)
	default:
		groups = map[string][]int{"": allIndices(tbl.Len())}
	}

	out := make([]float64, tbl.Len())
	for _, idx := range groups {
		for j := 1; j < len(idx); j++ {
			prev := tbl.Events[idx[j-1]].Timestamp
			cur := tbl.Events[idx[j]].Timestamp
			out[idx[j]] = cur.Sub(prev).Seconds()
		}
	}
	return out
}

// actionVelocity is actions per minute per session, with a one-minute
// floor on the session duration.
func (t *Temporal) actionVelocity(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldSessionID) {
		return zeros(tbl.Len())
	}

	groups := sessionGroups(tbl.Events)
	durations := sessionDurations(tbl.Events, groups)

	velocity := make(map[string]float64, len(groups))
	for key, idx := range groups {
		minutes := durations[key] / 60.0
		if minutes == 0 {
			minutes = 1
		}
		velocity[key] = float64(len(idx)) / minutes
	}
	return broadcast(tbl.Len(), groups, velocity)
}

// burstCount is the number of same-session events inside the trailing
// 60s window, including the event itself. A sorted two-pointer scan
// keeps this linear per session.
func (t *Temporal) burstCount(tbl *domain.EventTable) []float64 {
	if !tbl.Has(domain.FieldSessionID) {
		return zeros(tbl.Len())
	}

	out := make([]float64, tbl.Len())
	for _, idx := range sessionGroups(tbl.Events) {
		orderInGroup := make([]int, len(idx))
		copy(orderInGroup, idx)
		sort.Slice(orderInGroup, func(a, b int) bool {
			return tbl.Events[orderInGroup[a]].Timestamp.Before(tbl.Events[orderInGroup[b]].Timestamp)
		})

		lo := 0
		for hi, i := range orderInGroup {
			cutoff := tbl.Events[i].Timestamp.Add(-burstWindow)
			for tbl.Events[orderInGroup[lo]].Timestamp.Before(cutoff) {
				lo++
			}
			out[i] = float64(hi - lo + 1)
		}
	}
	return out
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
