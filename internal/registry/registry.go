// Package registry resolves "module:callable" names to applications
// compiled into the binary.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"dqx0.com/go/appbridge/bridge"
)

var (
	ErrBadName = errors.New("registry: name must have the form module:callable")
	ErrUnknown = errors.New("registry: unknown application")
	ErrExists  = errors.New("registry: application already registered")
)

// Registry maps application names to applications. It is safe for
// concurrent use.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]bridge.Application
}

func New() *Registry {
	return &Registry{apps: make(map[string]bridge.Application)}
}

// Register adds app under name. Names must be unique.
func (r *Registry) Register(name string, app bridge.Application) error {
	if _, _, err := SplitName(name); err != nil {
		return err
	}
	if app == nil {
		return fmt.Errorf("registry: nil application for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	r.apps[name] = app
	return nil
}

// Lookup returns the application registered under name.
func (r *Registry) Lookup(name string) (bridge.Application, error) {
	if _, _, err := SplitName(name); err != nil {
		return nil, err
	}
	r.mu.RLock()
	app, ok := r.apps[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (known: %s)", ErrUnknown, name, strings.Join(r.Names(), ", "))
	}
	return app, nil
}

// Names lists registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.apps))
	for n := range r.apps {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SplitName splits "module:callable" into its two non-empty parts.
func SplitName(name string) (module, callable string, err error) {
	module, callable, ok := strings.Cut(strings.TrimSpace(name), ":")
	if !ok || module == "" || callable == "" || strings.Contains(callable, ":") {
		return "", "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return module, callable, nil
}
