package dispatch

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	KeyOperation = tag.MustNewKey("operation")
	KeyOutcome   = tag.MustNewKey("outcome")
)

var (
	OperationDuration = stats.Float64("dispatch/operation_ms", "Duration of dispatched operations", stats.UnitMilliseconds)
	WorkerCrashes     = stats.Int64("dispatch/worker_crash", "Counter for workers that crashed running an operation", stats.UnitDimensionless)
)

var (
	OperationDurationView = &view.View{
		Measure:     OperationDuration,
		Aggregation: view.Distribution(0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000),
		TagKeys:     []tag.Key{KeyOperation, KeyOutcome},
	}
	WorkerCrashesView = &view.View{
		Measure:     WorkerCrashes,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{KeyOperation},
	}
)

// DefaultViews are the views of the dispatcher's measures. Register them with
// view.Register to collect them.
var DefaultViews = []*view.View{
	OperationDurationView,
	WorkerCrashesView,
}

func timer(ctx context.Context, m *stats.Float64Measure) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		ctx, _ := tag.New(ctx, tag.Upsert(KeyOutcome, outcome))
		stats.Record(ctx, m.M(float64(time.Since(start))/float64(time.Millisecond)))
	}
}
