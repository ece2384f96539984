package aptos

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// ErrUnknownNetwork is returned when a network name is not configured.
var ErrUnknownNetwork = errors.New("unknown network")

// Network describes one configured chain network.
type Network struct {
	Name    string `json:"name"`
	NodeURL string `json:"nodeUrl"`
	Default bool   `json:"default"`
}

// Networks is a fixed set of named clients with a default.
type Networks struct {
	clients     map[string]*Client
	defaultName string
}

// NewNetworks builds one client per entry of nodeURLs. defaultName must be
// one of the keys.
func NewNetworks(nodeURLs map[string]string, defaultName string, httpClient *http.Client) (*Networks, error) {
	if _, ok := nodeURLs[defaultName]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownNetwork, defaultName)
	}
	clients := make(map[string]*Client, len(nodeURLs))
	for name, u := range nodeURLs {
		clients[name] = New(u, httpClient)
	}
	return &Networks{clients: clients, defaultName: defaultName}, nil
}

// Get returns the client for name; an empty name selects the default.
func (n *Networks) Get(name string) (*Client, error) {
	if name == "" {
		name = n.defaultName
	}
	c, ok := n.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
	return c, nil
}

// Default returns the default network's client.
func (n *Networks) Default() *Client {
	return n.clients[n.defaultName]
}

// DefaultName returns the name of the default network.
func (n *Networks) DefaultName() string { return n.defaultName }

// List returns the configured networks sorted by name.
func (n *Networks) List() []Network {
	out := make([]Network, 0, len(n.clients))
	for name, c := range n.clients {
		out = append(out, Network{Name: name, NodeURL: c.NodeURL(), Default: name == n.defaultName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
