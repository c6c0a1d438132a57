package livedb

// IsTerminal reports whether no change set can follow one in this state.
func (v State) IsTerminal() bool {
	return v == StateError
}

// CanTransition reports whether a result set that last delivered a change
// set in state v may deliver one in state to.
//
//	initial -> initial   partial query still waiting for remote data
//	initial -> loaded    remote data arrived, or the query needs none
//	initial -> error     query rejected or failed
//	loaded  -> loaded    ordinary incremental change
//	loaded  -> error     subscription rejected after data was served
func (v State) CanTransition(to State) bool {
	switch v {
	case StateInitial:
		return to == StateInitial || to == StateLoaded || to == StateError
	case StateLoaded:
		return to == StateLoaded || to == StateError
	default:
		return false
	}
}

// Progress is what a result set has delivered so far. The zero value means
// nothing was delivered yet.
type Progress struct {
	Delivered        bool
	State            State
	RemoteDataLoaded bool
}

// Advance returns the progress after delivering cs.
func (p Progress) Advance(cs ChangeSet) Progress {
	if p.Delivered && !p.State.CanTransition(cs.State()) {
		panic(fmtTransitionErr(p.State, cs.State()))
	}
	return Progress{
		Delivered:        true,
		State:            cs.State(),
		RemoteDataLoaded: cs.RemoteDataLoaded(),
	}
}
