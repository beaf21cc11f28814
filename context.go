package cadence

import "context"

// domainKey is the context key carrying the tenant domain.
type domainKey struct{}

// WithDomain attaches the tenant domain to the context. Handlers running
// inside the worker pool receive the owning instance's domain this way.
func WithDomain(ctx context.Context, domain string) context.Context {
	if domain == "" {
		return ctx
	}
	return context.WithValue(ctx, domainKey{}, domain)
}

// DomainFrom extracts the tenant domain from the context.
// Returns false if no domain is present.
func DomainFrom(ctx context.Context) (string, bool) {
	d, ok := ctx.Value(domainKey{}).(string)
	return d, ok
}
