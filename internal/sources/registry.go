package sources

import "fmt"

// Source describes a government site whose root page seeds the crawl.
type Source struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Registry keeps sources in crawl order and indexes them by id.
type Registry struct {
	ordered []Source
	byID    map[string]Source
}

// NewRegistry builds a registry; later duplicates of an id are ignored.
func NewRegistry(list ...Source) *Registry {
	r := &Registry{byID: map[string]Source{}}
	for _, src := range list {
		r.Register(src)
	}
	return r
}

// Defaults lists the sources crawled when configuration provides none.
func Defaults() []Source {
	return []Source{
		{ID: "dta", Name: "Digital Transformation Agency", URL: "https://www.dta.gov.au/"},
		{ID: "industry", Name: "Department of Industry, Science and Resources", URL: "https://www.industry.gov.au/science-technology-and-innovation/technology"},
		{ID: "oaic", Name: "Office of the Australian Information Commissioner", URL: "https://www.oaic.gov.au/privacy"},
		{ID: "esafety", Name: "eSafety Commissioner", URL: "https://www.esafety.gov.au/industry"},
		{ID: "ag", Name: "Attorney-General's Department", URL: "https://www.ag.gov.au/rights-and-protections"},
		{ID: "csiro", Name: "CSIRO Data61", URL: "https://www.csiro.au/en/research/technology-space/ai"},
		{ID: "nsw", Name: "Digital NSW", URL: "https://www.digital.nsw.gov.au/policy/artificial-intelligence"},
		{ID: "vic", Name: "Victorian Government", URL: "https://www.vic.gov.au/digital-strategy"},
	}
}

// Register appends a source unless its id is already known.
func (r *Registry) Register(src Source) {
	if r.byID == nil {
		r.byID = map[string]Source{}
	}
	if _, ok := r.byID[src.ID]; ok {
		return
	}
	r.byID[src.ID] = src
	r.ordered = append(r.ordered, src)
}

// All returns sources in registration order.
func (r *Registry) All() []Source {
	out := make([]Source, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Lookup returns a source by id or an error if it is absent.
func (r *Registry) Lookup(id string) (Source, error) {
	if src, ok := r.byID[id]; ok {
		return src, nil
	}
	return Source{}, fmt.Errorf("source %s is not registered", id)
}

// Select returns the named sources in registry order. No ids selects all.
func (r *Registry) Select(ids ...string) ([]Source, error) {
	if len(ids) == 0 {
		return r.All(), nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, err := r.Lookup(id); err != nil {
			return nil, err
		}
		want[id] = true
	}
	out := make([]Source, 0, len(want))
	for _, src := range r.ordered {
		if want[src.ID] {
			out = append(out, src)
		}
	}
	return out, nil
}
