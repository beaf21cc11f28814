// Package cadence is a recurring-schedule and messaging dispatch engine
// for multi-tenant platforms. It models a Schedule as ordered Events with
// Content, tracks per-recipient progress through a schedule with a
// ScheduleInstance state machine, and turns due instances into delivery
// actions exactly once across a fleet of worker processes.
//
// Cadence is designed as a library, not a service. Import it, configure a
// store, plug in a recipient directory and a content sender, and start the
// engine:
//
//	eng, err := engine.New(store,
//	    engine.WithDirectory(dir),
//	    engine.WithSender(sender),
//	    engine.WithConcurrency(20),
//	)
//
// # Architecture
//
// Cadence follows a composable store pattern: each subsystem (schedule,
// instance, job, lock) defines its own store interface and a single backend
// implements all of them. Instance storage is horizontally sharded; the
// postgres backend routes writes by a deterministic shard key and merges
// cross-shard scans.
//
// Every worker host runs a dispatch poller that scans for due, active
// instances and acquires a short-lived distributed lock per occurrence
// before enqueuing an asynchronous processing job. The processor reloads
// the instance fresh, re-verifies it is still due and active, delivers the
// current event's content to each expanded recipient, and advances the
// state machine.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package cadence
