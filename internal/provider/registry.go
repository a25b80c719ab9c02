package provider

// Registry holds the providers available to the process. It is built once
// at start-up and never mutated afterwards.
type Registry struct {
	providers []Provider
	byName    map[string]Provider
}

// NewRegistry creates a registry over providers, in the given order.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		providers: append([]Provider(nil), providers...),
		byName:    make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		r.byName[p.Descriptor().Name] = p
	}
	return r
}

// All returns every registered provider.
func (r *Registry) All() []Provider {
	return r.providers
}

// ByName looks a provider up by its declared name.
func (r *Registry) ByName(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Models returns every declared model id once, in first-declared order.
func (r *Registry) Models() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range r.providers {
		for _, m := range p.Descriptor().Models {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}
