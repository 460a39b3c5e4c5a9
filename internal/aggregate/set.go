// Package aggregate merges tool output into a deduplicated subdomain set.
package aggregate

import (
	"sort"
	"sync"
)

// Record is a subdomain with the tool that first reported it
type Record struct {
	Subdomain string `json:"subdomain"`
	Tool      string `json:"tool"`
}

// Set is a concurrency-safe union of subdomains keyed by host
type Set struct {
	mu      sync.RWMutex
	order   []string
	sources map[string][]string
}

// NewSet creates an empty set
func NewSet() *Set {
	return &Set{
		sources: make(map[string][]string),
	}
}

// Add inserts host reported by tool. It returns true only on first insertion.
func (s *Set) Add(host, tool string) bool {
	if host == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tools, exists := s.sources[host]
	if !exists {
		s.sources[host] = []string{tool}
		s.order = append(s.order, host)
		return true
	}

	for _, t := range tools {
		if t == tool {
			return false
		}
	}
	s.sources[host] = append(tools, tool)
	return false
}

// AddAll inserts every host for tool and returns the newly added ones in input order
func (s *Set) AddAll(hosts []string, tool string) []string {
	var added []string
	for _, host := range hosts {
		if s.Add(host, tool) {
			added = append(added, host)
		}
	}
	return added
}

// Contains reports whether host is in the set
func (s *Set) Contains(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sources[host]
	return ok
}

// Len returns the number of distinct hosts
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sources)
}

// Sorted returns the hosts in lexicographic order
func (s *Set) Sorted() []string {
	s.mu.RLock()
	hosts := make([]string, len(s.order))
	copy(hosts, s.order)
	s.mu.RUnlock()

	sort.Strings(hosts)
	return hosts
}

// Sources returns every tool that reported host, first reporter first
func (s *Set) Sources(host string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := s.sources[host]
	out := make([]string, len(tools))
	copy(out, tools)
	return out
}

// Records returns one record per host in insertion order
func (s *Set) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0, len(s.order))
	for _, host := range s.order {
		records = append(records, Record{Subdomain: host, Tool: s.sources[host][0]})
	}
	return records
}
