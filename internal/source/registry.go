package source

import (
	"fmt"
	"sort"
)

// Registry holds the enumerable set of adapters for a run. Adapters are
// registered at startup; there is no dynamic discovery.
type Registry struct {
	byName map[string]Adapter
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Adapter)}
}

// Register adds an adapter. Registering two adapters with the same name
// is a programming error.
func (r *Registry) Register(a Adapter) error {
	name := a.Name()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("adapter %q registered twice", name)
	}
	r.byName[name] = a
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for static adapter sets set up in main.
func (r *Registry) MustRegister(a Adapter) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Lookup returns the adapter with the given name.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// All returns every adapter in registration order.
func (r *Registry) All() []Adapter {
	adapters := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		adapters = append(adapters, r.byName[name])
	}
	return adapters
}

// Names returns the sorted adapter names, for `jamfwatch modules`.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Builtin returns a registry with every built-in adapter registered.
func Builtin() *Registry {
	r := NewRegistry()
	r.MustRegister(NewScripts())
	r.MustRegister(NewCategories())
	r.MustRegister(NewComputerGroups())
	r.MustRegister(NewOSXProfiles())
	r.MustRegister(NewComputerExtensionAttributes())
	r.MustRegister(NewDirectoryBindings())
	r.MustRegister(NewAdvancedComputerSearches())
	return r
}
