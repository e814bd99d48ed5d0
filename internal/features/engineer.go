package features

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/frame"
)

// aggregators maps aggregation names onto reducers over a group's
// values.
var aggregators = map[string]func([]float64) float64{
	"mean": func(v []float64) float64 { return stat.Mean(v, nil) },
	"std": func(v []float64) float64 {
		if len(v) < 2 {
			return 0
		}
		return stat.StdDev(v, nil)
	},
	"min": floats.Min,
	"max": floats.Max,
	"median": func(v []float64) float64 {
		s := make([]float64, len(v))
		copy(s, v)
		sort.Float64s(s)
		return stat.Quantile(0.5, stat.Empirical, s, nil)
	},
}

// Engineer runs the configured extractors over a batch of events and
// assembles one model-ready feature matrix. The same configuration and
// input always produce the same columns in the same order.
type Engineer struct {
	extractors   []Extractor
	aggregations []string
	store        domain.FeatureStore
}

// NewEngineer builds the engineer from configuration, constructing only
// the enabled extractors. The store may be nil when persistence is not
// needed.
func NewEngineer(cfg domain.FeaturesConfig, store domain.FeatureStore) (*Engineer, error) {
	eng := &Engineer{store: store}

	if cfg.Behavioral.Enabled {
		ex, err := NewBehavioral(cfg.Behavioral)
		if err != nil {
			return nil, fmt.Errorf("behavioral extractor: %w", err)
		}
		eng.extractors = append(eng.extractors, ex)
	}
	if cfg.Network.Enabled {
		ex, err := NewNetwork(cfg.Network)
		if err != nil {
			return nil, fmt.Errorf("network extractor: %w", err)
		}
		eng.extractors = append(eng.extractors, ex)
	}
	if cfg.Temporal.Enabled {
		ex, err := NewTemporal(cfg.Temporal)
		if err != nil {
			return nil, fmt.Errorf("temporal extractor: %w", err)
		}
		eng.extractors = append(eng.extractors, ex)
	}

	for _, agg := range cfg.Aggregations {
		if _, ok := aggregators[agg]; !ok {
			return nil, fmt.Errorf("unknown aggregation: %s", agg)
		}
	}
	eng.aggregations = cfg.Aggregations
	return eng, nil
}

// Transform extracts every configured feature, appends per-session
// aggregates, scrubs non-finite values and min-max scales each column
// into [0, 1].
func (e *Engineer) Transform(tbl *domain.EventTable) (*frame.Frame, error) {
	out := frame.New(tbl.Len())
	for _, ex := range e.extractors {
		part := ex.Extract(tbl)
		if err := out.Append(part); err != nil {
			return nil, fmt.Errorf("merge %s features: %w", ex.Name(), err)
		}
	}

	if err := e.aggregate(tbl, out); err != nil {
		return nil, err
	}

	out.Sanitize()
	out.Normalize()

	slog.Info("features engineered",
		"rows", out.Rows(),
		"columns", len(out.Names()),
		"extractors", len(e.extractors))
	return out, nil
}

// aggregate appends {col}_session_{agg} columns, reducing each base
// column per session and broadcasting the result back to rows. Skipped
// entirely when there is no session field.
func (e *Engineer) aggregate(tbl *domain.EventTable, f *frame.Frame) error {
	if len(e.aggregations) == 0 {
		return nil
	}
	if !tbl.Has(domain.FieldSessionID) {
		slog.Warn("no session field, skipping session aggregations")
		return nil
	}

	groups := sessionGroups(tbl.Events)
	base := f.Names()
	for _, col := range base {
		vals := f.Column(col)
		for _, agg := range e.aggregations {
			reduce := aggregators[agg]
			perGroup := make(map[string]float64, len(groups))
			for key, idx := range groups {
				group := make([]float64, len(idx))
				for j, i := range idx {
					group[j] = vals[i]
				}
				perGroup[key] = reduce(group)
			}
			name := fmt.Sprintf("%s_session_%s", col, agg)
			f.Set(name, broadcast(tbl.Len(), groups, perGroup))
		}
	}
	return nil
}

// Save persists a named feature set through the configured store.
func (e *Engineer) Save(ctx context.Context, name string, f *frame.Frame) error {
	if e.store == nil {
		return fmt.Errorf("no feature store configured")
	}
	return e.store.SaveFeatures(ctx, name, f)
}

// Load retrieves a previously saved feature set.
func (e *Engineer) Load(ctx context.Context, name string) (*frame.Frame, error) {
	if e.store == nil {
		return nil, fmt.Errorf("no feature store configured")
	}
	return e.store.LoadFeatures(ctx, name)
}
