package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named protocol module is administratively
// paused. The zero view (nil) pauses nothing.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the named module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a static PauseView backed by a set of module names. The
// daemon builds one from configuration; tests use it to exercise guards.
type PauseSet map[string]bool

// IsPaused implements the PauseView interface.
func (p PauseSet) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	return p[module]
}
