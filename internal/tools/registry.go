package tools

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Tool names known to the registry, in the order scans run them
const (
	Subfinder   = "subfinder"
	Assetfinder = "assetfinder"
	Sublist3r   = "sublist3r"
	Amass       = "amass"
	Dnsx        = "dnsx"
	Httpx       = "httpx"
	Httprobe    = "httprobe"
	Ffuf        = "ffuf"
	Anew        = "anew"
	Dnsenum     = "dnsenum"
)

// KnownTools lists every external tool the registry probes for
var KnownTools = []string{
	Subfinder,
	Assetfinder,
	Sublist3r,
	Amass,
	Dnsx,
	Httpx,
	Httprobe,
	Ffuf,
	Anew,
	Dnsenum,
}

// nonEnumerationTools are resolvers, probers and helpers, plus tools without an adapter
var nonEnumerationTools = map[string]bool{
	Dnsx:     true,
	Httpx:    true,
	Httprobe: true,
	Anew:     true,
	Dnsenum:  true,
}

// Registry resolves external tool binaries
type Registry struct {
	searchPaths []string
	lookPath    func(string) (string, error)

	mu    sync.RWMutex
	paths map[string]string
}

// NewRegistry creates a registry that checks PATH and then each search prefix
func NewRegistry(searchPaths []string) *Registry {
	return &Registry{
		searchPaths: searchPaths,
		lookPath:    exec.LookPath,
		paths:       make(map[string]string),
	}
}

// Detect probes every known tool and caches the resolved paths
func (r *Registry) Detect() map[string]bool {
	paths := make(map[string]string, len(KnownTools))
	for _, name := range KnownTools {
		if path, ok := r.locate(name); ok {
			paths[name] = path
		}
	}

	r.mu.Lock()
	r.paths = paths
	r.mu.Unlock()

	logrus.WithField("installed", len(paths)).Debug("Tool detection finished")
	return r.Installed()
}

// Installed returns availability for every known tool
func (r *Registry) Installed() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	installed := make(map[string]bool, len(KnownTools))
	for _, name := range KnownTools {
		_, ok := r.paths[name]
		installed[name] = ok
	}
	return installed
}

// Path returns the resolved binary for name
func (r *Registry) Path(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	path, ok := r.paths[name]
	return path, ok
}

// Available reports whether name was found by the last detection
func (r *Registry) Available(name string) bool {
	_, ok := r.Path(name)
	return ok
}

// EnumerationTools returns the installed tools that discover subdomains, in registry order
func (r *Registry) EnumerationTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, name := range KnownTools {
		if nonEnumerationTools[name] {
			continue
		}
		if _, ok := r.paths[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Register pins a tool to an explicit binary path
func (r *Registry) Register(name, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[name] = path
}

func (r *Registry) locate(name string) (string, bool) {
	if path, err := r.lookPath(name); err == nil {
		return path, true
	}

	for _, prefix := range r.searchPaths {
		candidate := filepath.Join(prefix, name)
		if isExecutable(candidate) {
			return candidate, true
		}
	}

	return "", false
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
