package domain

// QuotaKind enumerates the limited per-tenant resources.
type QuotaKind string

const (
	// QuotaMaxWorkers limits the number of tracked workers per tenant.
	// Checked before a new start is attempted.
	QuotaMaxWorkers QuotaKind = "maxWorkers"
	// QuotaMaxToolsPerWorker limits discovered tools per worker. Checked
	// only after discovery has populated the catalog, so it reports an
	// already-committed overflow rather than preventing it.
	QuotaMaxToolsPerWorker QuotaKind = "maxToolsPerWorker"
	// QuotaMaxConcurrentRequests is declared but not enforced by the core.
	QuotaMaxConcurrentRequests QuotaKind = "maxConcurrentRequests"
)

const (
	DefaultMaxWorkers            = 10
	DefaultMaxToolsPerWorker     = 100
	DefaultMaxConcurrentRequests = 50
)

// QuotaSet holds per-tenant overrides; absent kinds fall back to the
// global defaults.
type QuotaSet map[QuotaKind]int

// DefaultQuotas returns the global fallback limits.
func DefaultQuotas() QuotaSet {
	return QuotaSet{
		QuotaMaxWorkers:            DefaultMaxWorkers,
		QuotaMaxToolsPerWorker:     DefaultMaxToolsPerWorker,
		QuotaMaxConcurrentRequests: DefaultMaxConcurrentRequests,
	}
}
