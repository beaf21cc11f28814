// Package ext defines the extension system for Cadence.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnMessageSent(ctx context.Context, si *instance.ScheduleInstance, contact recipient.Contact) error {
//	    log.Printf("message sent to %s for instance %s", contact.ID, si.ID)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued] — job was accepted into the queue
//   - [JobStarted] — worker began executing the job
//   - [JobCompleted] — job finished successfully
//   - [JobFailed] — job failed
//
// # Dispatch Lifecycle Hooks
//
//   - [InstanceEnqueued] — the poller won a due occurrence and enqueued it
//   - [MessageSent] — content was delivered to a contact
//   - [MessageFailed] — a delivery attempt failed
//   - [StaleEventSkipped] — a stale alert event advanced without delivering
//   - [InstanceDeactivated] — an instance transitioned to inactive
//
// # Other Hooks
//
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
