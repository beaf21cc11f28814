// Package job defines the job entity, typed definitions, registry, and
// store interface for the dispatch worker tier.
//
// # Job Entity
//
// A [Job] represents a unit of work. It embeds [cadence.Entity] for
// timestamps, carries a JSON payload, and progresses through a small
// state machine:
//
//	pending → running → completed
//	pending → running → failed
//
// There is no retry loop at this level: a failed dispatch job leaves
// the schedule instance due, and the occurrence fires again once its
// lease expires.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var ProcessInstance = job.NewDefinition("cadence.process_instance",
//	    func(ctx context.Context, occ instance.DueOccurrence) error {
//	        return proc.Process(ctx, occ)
//	    },
//	)
//
// # Registry
//
// [Registry] maps job names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]. The engine
// package provides higher-level engine.Register and engine.Enqueue
// wrappers.
package job
