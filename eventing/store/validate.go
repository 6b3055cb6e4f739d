package store

// ValidateChain checks the chain-integrity and genesis-nullity
// invariants (spec §3, §8 properties 1-2) over an already-loaded,
// ascending-sequence slice of events. Shared by every EventStore
// implementation so the invariant lives in one substrate-independent
// place (spec §10, "substrate independence").
func ValidateChain(events []StoredEvent) bool {
	if len(events) == 0 {
		return true
	}
	if events[0].ParentCID != nil {
		return false
	}
	for i := 1; i < len(events); i++ {
		prevCID := events[i-1].CID
		parentCID := events[i].ParentCID
		if prevCID == nil || parentCID == nil || *prevCID != *parentCID {
			return false
		}
	}
	return true
}
