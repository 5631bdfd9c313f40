package video

// Decision is the outcome of admitting one video payload.
type Decision int

const (
	// DecisionAdmitted placed the payload in the handoff slot.
	DecisionAdmitted Decision = iota
	// DecisionCoalesced appended the payload to a pending IDR bundle.
	DecisionCoalesced
	// DecisionCached stored parameter sets without handing anything off.
	DecisionCached
	// DecisionDropAwaitingIDR discarded a non-IDR payload before the first IDR.
	DecisionDropAwaitingIDR
	// DecisionDropStale discarded a non-IDR payload older than the budget.
	DecisionDropStale
	// DecisionDropMalformed discarded a payload that is not valid Annex-B.
	DecisionDropMalformed
	// DecisionDropNoSlice discarded a payload without any picture slice.
	DecisionDropNoSlice
	// DecisionDropResetting discarded a payload that arrived during a reset.
	DecisionDropResetting
	// DecisionDropOverflow discarded a payload that could not be coalesced
	// into a pending IDR bundle without exceeding the maximum payload size.
	DecisionDropOverflow
)

func (d Decision) String() string {
	switch d {
	case DecisionAdmitted:
		return "admitted"
	case DecisionCoalesced:
		return "coalesced"
	case DecisionCached:
		return "cached"
	case DecisionDropAwaitingIDR:
		return "awaiting_idr"
	case DecisionDropStale:
		return "stale"
	case DecisionDropMalformed:
		return "malformed"
	case DecisionDropNoSlice:
		return "no_slice"
	case DecisionDropResetting:
		return "resetting"
	case DecisionDropOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Dropped reports whether the payload was discarded.
func (d Decision) Dropped() bool {
	return d >= DecisionDropAwaitingIDR
}
