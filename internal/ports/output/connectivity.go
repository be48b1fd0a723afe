package output

// Connectivity defines the secondary port for network reachability.
// Online is cheap to call (cached probe); Subscribe delivers transitions.
type Connectivity interface {
	// Online reports whether the tile source is currently reachable.
	Online() bool

	// Subscribe registers a listener for online/offline transitions and
	// returns an unsubscribe function.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// AlwaysOnline is a Connectivity that never reports offline. Used in
// tests and when probing is disabled.
type AlwaysOnline struct{}

// Online implements Connectivity.
func (AlwaysOnline) Online() bool { return true }

// Subscribe implements Connectivity.
func (AlwaysOnline) Subscribe(_ func(bool)) func() { return func() {} }
