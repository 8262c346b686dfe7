package backend

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

var (
	ErrBackendNotFound   = errors.New("backend not found")
	ErrBackendRegistered = errors.New("backend already registered")
	ErrBackendInvalid    = errors.New("backend name is required")
	ErrMissingCredential = errors.New("missing credential")
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Descriptor{}
)

// Register adds a backend descriptor to the registry by name.
func Register(desc Descriptor) error {
	if strings.TrimSpace(desc.Name) == "" {
		return ErrBackendInvalid
	}
	if desc.New == nil {
		return errors.New("backend factory is nil")
	}

	key := strings.ToLower(strings.TrimSpace(desc.Name))
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[key]; exists {
		return ErrBackendRegistered
	}

	desc.Name = key
	if len(desc.Models) == 0 && desc.DefaultModel != "" {
		desc.Models = []string{desc.DefaultModel}
	}
	registry[key] = desc
	return nil
}

// Get returns a backend descriptor by name.
func Get(name string) (Descriptor, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Descriptor{}, false
	}

	registryMu.RLock()
	defer registryMu.RUnlock()

	desc, ok := registry[key]
	return desc, ok
}

// Names returns all registered backend names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultName returns the default backend name.
func DefaultName() string {
	return "openai"
}

// Credential reads the backend's API key from the environment.
func (d Descriptor) Credential() (string, bool) {
	if d.CredentialEnv == "" {
		return "", true
	}
	value := strings.TrimSpace(os.Getenv(d.CredentialEnv))
	return value, value != ""
}

// Open builds the named backend. It fails with ErrMissingCredential
// before any network use when the backend needs a key and none is set.
func Open(name string, opts Options) (Backend, error) {
	desc, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, name)
	}
	if desc.CredentialEnv != "" && strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrMissingCredential, desc.CredentialEnv)
	}
	return desc.New(opts)
}
