// Package connection owns the single source of truth for which backend is
// active: the cloud, or the LAN fallback server.
package connection

type Mode string

const (
	ModeCloud     Mode = "cloud"
	ModeLAN       Mode = "lan"
	ModeForcedLAN Mode = "forced-lan"
)

// DeriveMode maps the override flag and reachability to exactly one mode.
func DeriveMode(forcedLAN, reachable bool) Mode {
	switch {
	case forcedLAN:
		return ModeForcedLAN
	case reachable:
		return ModeCloud
	default:
		return ModeLAN
	}
}

// IsCloud reports whether writes go straight to the cloud without queuing.
func (m Mode) IsCloud() bool {
	return m == ModeCloud
}

// Transition is a change of mode, delivered to OnTransition listeners.
type Transition struct {
	From Mode
	To   Mode
}

// State is the read-only view the rest of the system depends on.
type State interface {
	Mode() Mode
	LANEndpoint() string
}
