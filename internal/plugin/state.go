package plugin

import "strconv"

// State is where a Handle is in its life: loaded, bound into the hook
// chains by ResolveDependencies, then unloaded or failed on the way out.
type State int

const (
	StateLoaded State = iota
	StateBound
	StateUnloaded
	StateFailed
)

var stateNames = [...]string{
	StateLoaded:   "loaded",
	StateBound:    "bound",
	StateUnloaded: "unloaded",
	StateFailed:   "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// Live reports whether the plugin has not been closed yet.
func (s State) Live() bool {
	return s == StateLoaded || s == StateBound
}
