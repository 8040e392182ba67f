package world

import "sync"

// Lobby is the minimal realization of the holding area the gate depends on.
// It tracks which identities are excluded from day-end readiness and performs
// the deferred warp once an identity is admitted. The full isolated-lobby
// implementation lives outside this module.
type Lobby struct {
	world *World

	mu       sync.Mutex
	excluded map[int64]bool
}

func NewLobby(w *World) *Lobby {
	return &Lobby{world: w, excluded: make(map[int64]bool)}
}

func (l *Lobby) RegisterUnauthenticatedPlayer(identity int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.excluded[identity] = true
}

func (l *Lobby) UnregisterUnauthenticatedPlayer(identity int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.excluded, identity)
}

// Excluded reports whether identity sits out day-end readiness voting.
func (l *Lobby) Excluded(identity int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.excluded[identity]
}

// WarpFromLobby performs the deferred warp once authenticated. Safe from I/O
// goroutines: the move is marshalled onto the tick through the warp queue.
func (l *Lobby) WarpFromLobby(identity int64, location string, x, y int) {
	l.world.requestWarp(identity, location, x, y)
}

func (l *Lobby) CleanupIndividualLobby(identity int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.excluded, identity)
}
