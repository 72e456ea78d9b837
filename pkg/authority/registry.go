package authority

import "strings"

// Person is one tracked key person from the registry store.
type Person struct {
	Handle      string
	Appearances int
	Topics      map[string]int
}

// Registry maps lowercase handles to key-person records. It is loaded once
// per run and treated as immutable; measurement never writes back.
type Registry struct {
	persons map[string]Person
}

// NewRegistry builds a registry from a list of persons. Handles are
// normalized; later duplicates win.
func NewRegistry(persons []Person) *Registry {
	m := make(map[string]Person, len(persons))
	for _, p := range persons {
		h := Normalize(p.Handle)
		if h == "" {
			continue
		}
		p.Handle = h
		m[h] = p
	}
	return &Registry{persons: m}
}

// Normalize lowercases a handle and strips a leading @.
func Normalize(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// Lookup returns the person for a handle, if registered.
func (r *Registry) Lookup(handle string) (Person, bool) {
	p, ok := r.persons[Normalize(handle)]
	return p, ok
}

// Contains reports whether the handle is a registered key person.
func (r *Registry) Contains(handle string) bool {
	_, ok := r.persons[Normalize(handle)]
	return ok
}

// Len returns the number of registered persons.
func (r *Registry) Len() int { return len(r.persons) }
