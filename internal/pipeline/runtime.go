package pipeline

import (
	"context"

	"github.com/ajitpratap0/nebula-extract/pkg/checkpoint"
	"github.com/ajitpratap0/nebula-extract/pkg/connector/core"
	"github.com/ajitpratap0/nebula-extract/pkg/coordinator"
	"github.com/ajitpratap0/nebula-extract/pkg/metrics"
)

// LocalRuntime hosts every partition of a job in one process.
type LocalRuntime struct {
	job        string
	store      checkpoint.Store
	broadcast  *coordinator.Broadcast
	collector  *metrics.Collector
	sink       Sink
	throughput *metrics.ThroughputTracker
}

// NewLocalRuntime creates a runtime delivering rows to sink.
func NewLocalRuntime(job string, store checkpoint.Store, collector *metrics.Collector, sink Sink) *LocalRuntime {
	return &LocalRuntime{
		job:        job,
		store:      store,
		broadcast:  coordinator.NewBroadcast(),
		collector:  collector,
		sink:       sink,
		throughput: collector.NewThroughputTracker(),
	}
}

func (r *LocalRuntime) Checkpoint(p core.Partition) core.CheckpointSlot {
	return r.store.Slot(r.job, p.Ordinal)
}

func (r *LocalRuntime) Broadcaster() core.Broadcaster { return r.broadcast }

func (r *LocalRuntime) Locations(p core.Partition) (start, end core.LocationRegister) {
	pm := r.collector.Partition(p.Ordinal)
	return pm.Start(), pm.End()
}

func (r *LocalRuntime) Emitter(core.Partition) core.Emitter {
	return core.EmitterFunc(func(ctx context.Context, row core.Row) error {
		if err := r.sink.Emit(ctx, row); err != nil {
			return err
		}
		r.throughput.Increment(1)
		return nil
	})
}

// Throughput returns the tracker counting emitted rows.
func (r *LocalRuntime) Throughput() *metrics.ThroughputTracker { return r.throughput }

// Finish discards the job's announcements once no partition can await them.
func (r *LocalRuntime) Finish() {
	r.broadcast.Forget(coordinator.Key(r.job))
}
