package queue

import (
	"fmt"

	"golang.org/x/time/rate"
)

// DomainConfig defines rate limits and concurrency for a specific
// project space on a specific queue, identified by the job's Domain.
// A busy domain mass-sending to thousands of recipients should not
// starve delivery for every other domain on the deployment.
type DomainConfig struct {
	// QueueName is the queue this config applies to.
	QueueName string

	// Domain is the project space identifier (typically job.Domain).
	Domain string

	// RateLimit is the sustained jobs per second for this domain.
	RateLimit float64

	// RateBurst is the burst size for the domain's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this domain on this
	// queue. Zero means no domain-specific concurrency limit.
	MaxConcurrency int
}

// domainState tracks runtime state for a single queue+domain pair.
type domainState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// domainKey builds the map key for a queue+domain pair.
func domainKey(queue, domain string) string {
	return fmt.Sprintf("%s:%s", queue, domain)
}

// SetDomainConfig configures rate limits and concurrency for a specific
// domain on a specific queue. Calling this multiple times for the same
// queue+domain replaces the previous configuration.
func (m *Manager) SetDomainConfig(cfg DomainConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := domainKey(cfg.QueueName, cfg.Domain)
	existing := m.domains[key]

	ds := &domainState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ds.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ds.active = existing.active
	}
	m.domains[key] = ds
}

// DomainActiveCount returns the current number of active jobs for a
// queue+domain pair.
func (m *Manager) DomainActiveCount(queue, domain string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds := m.domains[domainKey(queue, domain)]; ds != nil {
		return ds.active
	}
	return 0
}
