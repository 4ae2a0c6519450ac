package capture

import "sync"

// Gate tracks whether the device is online. It is fed by platform
// connectivity transitions and consulted before every analysis attempt.
type Gate struct {
	mu          sync.RWMutex
	online      bool
	subscribers []func(online bool)
}

// NewGate creates a Gate with an initial status
func NewGate(online bool) *Gate {
	return &Gate{online: online}
}

// Online reports the current status
func (g *Gate) Online() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.online
}

// Set applies a connectivity signal. Subscribers run only on an actual
// transition, after the new status is visible to Online.
func (g *Gate) Set(online bool) bool {
	g.mu.Lock()
	if g.online == online {
		g.mu.Unlock()
		return false
	}
	g.online = online
	subscribers := append([]func(bool){}, g.subscribers...)
	g.mu.Unlock()

	for _, fn := range subscribers {
		fn(online)
	}
	return true
}

// Subscribe registers fn for future transitions
func (g *Gate) Subscribe(fn func(online bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribers = append(g.subscribers, fn)
}
