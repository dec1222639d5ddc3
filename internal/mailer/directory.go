package mailer

import (
	"sort"
	"sync"
)

// Directory is the set of mailers a worker can run actions for.
type Directory struct {
	mu      sync.RWMutex
	mailers map[string]*Mailer
}

func NewDirectory(mailers ...*Mailer) *Directory {
	d := &Directory{mailers: make(map[string]*Mailer, len(mailers))}
	for _, m := range mailers {
		d.mailers[m.Name()] = m
	}
	return d
}

func (d *Directory) Add(m *Mailer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mailers[m.Name()] = m
}

// Lookup is safe on a nil Directory, which holds no mailers.
func (d *Directory) Lookup(name string) (*Mailer, bool) {
	if d == nil {
		return nil, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.mailers[name]
	return m, ok
}

func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.mailers))
	for n := range d.mailers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
