package quote

// Merge reconciles a backend-sourced record with a cache-sourced record for
// the same quote type. The backend is authoritative for every field it
// returns; the cache may only supply what the backend omits.
//
// The payment sub-record is the asymmetric case: a payment-provider
// redirect outcome can be confirmed locally before the backend reflects
// it, so a backend record without payment data adopts the cache's, and a
// backend payment with an unset status borrows the cache's status. A
// payment field the backend does return is never overwritten.
//
// Inputs are never mutated; the result is always a fresh copy.
func Merge(backend, cached *QuoteRecord) *QuoteRecord {
	switch {
	case backend == nil && cached == nil:
		return nil
	case backend == nil:
		// An empty backend response must not wipe a record that was
		// already confirmed locally.
		return cached.Clone()
	case cached == nil:
		return backend.Clone()
	}

	out := backend.Clone()
	if cached.Payment == nil {
		return out
	}
	if out.Payment == nil {
		p := *cached.Payment
		out.Payment = &p
		return out
	}
	if out.Payment.Status == "" {
		out.Payment.Status = cached.Payment.Status
	}
	return out
}

// MergeStates runs Merge per quote type over a base state and the original
// cache snapshot, backfilling locally-known payment confirmations the
// backend has not caught up on. Non-quote fields come from base.
func MergeStates(base, cacheSnapshot *State) *State {
	out := base.Clone()
	if cacheSnapshot == nil {
		return out
	}
	for _, t := range AllTypes() {
		out.Quotes[t] = Merge(base.Quotes[t], cacheSnapshot.Quotes[t])
	}
	return out
}
