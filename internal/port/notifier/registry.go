package notifier

import (
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"
)

// Endpoint is the delivery target of one chat provider.
type Endpoint struct {
	WebhookURL string
	// Timeout bounds one delivery. Zero keeps the provider default.
	Timeout time.Duration
}

// Factory builds a Notifier for an endpoint.
type Factory func(ep Endpoint) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a provider available by name. Adapters call it from init.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New builds the named provider for ep.
func New(name string, ep Endpoint) (Notifier, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notifier: unknown provider %q", name)
	}
	u, err := url.Parse(ep.WebhookURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("notifier: %s: invalid webhook url", name)
	}
	return factory(ep)
}

// Build returns a notifier for every provider in endpoints that has a
// webhook URL, ordered by provider name.
func Build(endpoints map[string]Endpoint) ([]Notifier, error) {
	names := make([]string, 0, len(endpoints))
	for name, ep := range endpoints {
		if ep.WebhookURL != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	out := make([]Notifier, 0, len(names))
	for _, name := range names {
		n, err := New(name, endpoints[name])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Available returns the sorted names of all registered providers.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
