package remote

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Factory builds a client from a full DSN.
type Factory func(dsn string) (Client, error)

var clientRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// RegisterFactory installs a client factory for a DSN scheme, overriding any
// built-in handling for that scheme.
func RegisterFactory(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	clientRegistry.mu.Lock()
	defer clientRegistry.mu.Unlock()
	clientRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	clientRegistry.mu.RLock()
	defer clientRegistry.mu.RUnlock()
	factory, ok := clientRegistry.factories[scheme]
	return factory, ok
}

// BuildFromDSN selects a client by DSN scheme. An empty DSN yields a nil
// client, which the orchestrator treats as "no remote configured".
func BuildFromDSN(dsn string) (Client, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "http", "https":
		return NewHTTPClient(HTTPOptions{BaseURL: dsn}), nil
	case "postgres", "postgresql":
		return NewPostgresClient(dsn)
	case "memory", "mem", "inmem":
		return NewMemoryClient(), nil
	default:
		return nil, fmt.Errorf("unsupported remote scheme: %s", scheme)
	}
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
