package circuit

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Group is a named set of breakers, one per target or provider.
type Group struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewGroup creates a group holding breakers.
func NewGroup(breakers ...*Breaker) *Group {
	g := &Group{breakers: make(map[string]*Breaker, len(breakers))}
	for _, b := range breakers {
		g.Add(b)
	}
	return g
}

// Add registers b, replacing any breaker with the same name.
func (g *Group) Add(b *Breaker) {
	if b == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.breakers[b.Name()] = b
}

// Get looks up a breaker by name.
func (g *Group) Get(name string) (*Breaker, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, ok := g.breakers[name]
	return b, ok
}

// Snapshots returns every breaker's snapshot, sorted by name.
func (g *Group) Snapshots() []Snapshot {
	g.mu.RLock()
	out := make([]Snapshot, 0, len(g.breakers))
	for _, b := range g.breakers {
		out = append(out, b.Snapshot())
	}
	g.mu.RUnlock()

	slices.SortFunc(out, func(a, b Snapshot) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Watch calls fn for every transition of every breaker registered at the time
// of the call, serially, until ctx is done.
func (g *Group) Watch(ctx context.Context, fn func(Transition)) {
	merged := make(chan Transition, 16)
	var (
		wg      sync.WaitGroup
		cancels []func()
	)

	g.mu.RLock()
	for _, b := range g.breakers {
		ch, cancel := b.Subscribe(8)
		cancels = append(cancels, cancel)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range ch {
				select {
				case merged <- t:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	g.mu.RUnlock()

	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-merged:
			fn(t)
		}
	}
}
