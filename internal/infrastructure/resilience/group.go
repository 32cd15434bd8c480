package resilience

import "sync"

// Group lazily creates one Breaker per key, all sharing the same settings.
// The boot path keeps one breaker per workspace so a broken workspace cannot
// affect the others.
type Group struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates an empty breaker group
func NewGroup(settings Settings) *Group {
	return &Group{
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it on first use
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[key]; ok {
		return b
	}
	b := New(key, g.settings)
	g.breakers[key] = b
	return b
}

// Lookup returns the breaker for key if one was created
func (g *Group) Lookup(key string) (*Breaker, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[key]
	return b, ok
}

// States reports the current state of every breaker created so far
func (g *Group) States() map[string]State {
	g.mu.Lock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.Unlock()

	states := make(map[string]State, len(breakers))
	for _, b := range breakers {
		states[b.Name()] = b.State()
	}
	return states
}
