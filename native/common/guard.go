package common

import (
	"errors"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseAll is the wildcard module name: pausing it halts every guarded engine.
const PauseAll = "all"

// PauseSet is the operator-facing kill switch backing PauseView. It is shared
// across engines and mutated from the admin surface, so access is guarded.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewPauseSet() *PauseSet {
	return &PauseSet{paused: make(map[string]bool)}
}

// SetPaused toggles the pause flag for the module (or PauseAll).
func (p *PauseSet) SetPaused(module string, paused bool) {
	if p == nil || module == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused == nil {
		p.paused = make(map[string]bool)
	}
	if paused {
		p.paused[module] = true
	} else {
		delete(p.paused, module)
	}
}

// IsPaused implements PauseView. The PauseAll wildcard overrides per-module
// flags.
func (p *PauseSet) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[PauseAll] || p.paused[module]
}

// Engaged reports whether any pause flag is currently set.
func (p *PauseSet) Engaged() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.paused) > 0
}
