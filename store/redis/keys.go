package redis

// Redis key naming conventions for cadence data.
// All keys are prefixed with "cadence:" to avoid collisions.

const keyPrefix = "cadence:"

// ── Schedule keys ──

// scheduleKey returns the key for a schedule entity: cadence:schedule:{id}
func scheduleKey(id string) string { return keyPrefix + "schedule:" + id }

// domainSchedulesKey is the Set tracking schedule IDs per domain.
func domainSchedulesKey(domain string) string { return keyPrefix + "schedules:" + domain }

// ── Instance keys ──

// instanceKey returns the key for an instance entity: cadence:instance:{id}
func instanceKey(id string) string { return keyPrefix + "instance:" + id }

// dueKey is the Sorted Set of active instances scored by next_event_due
// (Unix milliseconds). Members are "{domain}|{instance_id}".
const dueKey = keyPrefix + "due"

// scheduleInstancesKey is the Set tracking instance IDs per schedule.
func scheduleInstancesKey(scheduleID string) string {
	return keyPrefix + "instances:sched:" + scheduleID
}

// recipientInstancesKey is the Set tracking instance IDs per recipient.
func recipientInstancesKey(domain, refType, refID string) string {
	return keyPrefix + "instances:rcpt:" + domain + ":" + refType + ":" + refID
}

// ── Job keys ──

// jobKey returns the key for a job entity: cadence:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// queueKey returns the Sorted Set key for a queue: cadence:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Lease keys ──

// leaseKey returns the key for a dispatch lease: cadence:lease:{key}
// The lease key itself already encodes class, instance, and due timestamp.
func leaseKey(key string) string { return keyPrefix + "lease:" + key }
