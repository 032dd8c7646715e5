package domain

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Constructor builds one investigator bound to the given collaborators.
type Constructor func(deps InvestigatorDeps) (Investigator, error)

// Registry maps investigator type codes to constructors. The manager never
// switches on type codes; new variants register here and nothing else
// changes.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty investigator registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with the built-in investigators
// registered.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(TypeCodeInvoiceAudit, func(deps InvestigatorDeps) (Investigator, error) {
		return NewInvoiceInvestigator(deps)
	})
	registry.Register(TypeCodeWaybillAudit, func(deps InvestigatorDeps) (Investigator, error) {
		return NewWaybillInvestigator(deps)
	})
	return registry
}

// Register adds or replaces one type code constructor.
func (r *Registry) Register(code string, constructor Constructor) {
	if r == nil || constructor == nil {
		return
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.constructors == nil {
		r.constructors = make(map[string]Constructor)
	}
	r.constructors[code] = constructor
}

// Create builds an investigator for the given type code.
func (r *Registry) Create(code string, deps InvestigatorDeps) (Investigator, error) {
	if r == nil {
		return nil, ErrRegistryNotConfigured
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrTypeCodeRequired
	}
	r.mu.RLock()
	constructor, ok := r.constructors[code]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, code)
	}
	return constructor(deps)
}

// Codes lists the registered type codes in sorted order.
func (r *Registry) Codes() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.constructors))
	for code := range r.constructors {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
