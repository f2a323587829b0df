package orders

// transition is a (kind, from, to) triple legal under the §4.3 diagram.
type transition struct {
	kind Kind
	from Status
	to   Status
}

// legalTransitions is the exhaustive table driving dispatch: a triple
// not in this set is rejected with ErrIllegalTransition rather than
// falling through silently. Only BridgeIn orders traverse the normal
// path; Transfer and BridgeOut are never transitioned into Settled,
// they are created there directly by the batch builder (see
// Store.CreateSettledSynthetic) and so carry no entries here.
var legalTransitions = map[transition]bool{
	{KindBridgeIn, StatusPending, StatusDiscovery}: true,
	{KindBridgeIn, StatusDiscovery, StatusLocked}:   true,
	{KindBridgeIn, StatusLocked, StatusDiscovery}:   true, // lock timeout reclaim (§4.5)
	{KindBridgeIn, StatusLocked, StatusMarkPaid}:    true,
	{KindBridgeIn, StatusMarkPaid, StatusSettled}:   true,
}

// canTransition reports whether (kind, from, to) is legal. Any non-terminal
// status may transition to Failed regardless of kind ("fatal error" edge
// in the diagram), but Settled and Failed themselves are terminal.
func canTransition(kind Kind, from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return legalTransitions[transition{kind, from, to}]
}
