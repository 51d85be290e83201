package common

import (
	"errors"
	"sort"
	"strings"
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

// Pauses is a concurrency safe PauseView toggled by operators.
type Pauses struct {
	mu      sync.RWMutex
	modules map[string]bool
}

// NewPauses returns a pause set with the listed modules paused.
func NewPauses(paused ...string) *Pauses {
	p := &Pauses{modules: make(map[string]bool)}
	for _, module := range paused {
		p.Set(module, true)
	}
	return p
}

// Set pauses or resumes module.
func (p *Pauses) Set(module string, paused bool) {
	module = normalizeModule(module)
	if module == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.modules[module] = true
		return
	}
	delete(p.modules, module)
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modules[normalizeModule(module)]
}

// Paused lists the currently paused modules in sorted order.
func (p *Pauses) Paused() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.modules))
	for module := range p.modules {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}
