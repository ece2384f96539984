package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/aptospilot/aptospilot/internal/aptos"
	jsonwriter "github.com/aptospilot/aptospilot/internal/json"
	"github.com/aptospilot/aptospilot/internal/log"
	"github.com/go-chi/chi/v5"
)

// ChainHandlers expose read-only account queries. They serve keyless and
// wallet-extension accounts alike.
type ChainHandlers struct {
	networks *aptos.Networks
}

func NewChainHandlers(networks *aptos.Networks) *ChainHandlers {
	return &ChainHandlers{networks: networks}
}

type balanceResponse struct {
	Address string `json:"address"`
	Network string `json:"network"`
	Octas   string `json:"octas"`
	APT     string `json:"apt"`
}

type existsResponse struct {
	Address string `json:"address"`
	Network string `json:"network"`
	Exists  bool   `json:"exists"`
}

type networksResponse struct {
	Default  string          `json:"default"`
	Networks []aptos.Network `json:"networks"`
}

// resolve validates the address path parameter and network query.
func (h *ChainHandlers) resolve(w http.ResponseWriter, r *http.Request) (*aptos.Client, string, string, bool) {
	addr, err := aptos.NormalizeAddress(chi.URLParam(r, "address"))
	if err != nil {
		jsonwriter.WriteError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return nil, "", "", false
	}
	network := r.URL.Query().Get("network")
	client, err := h.networks.Get(network)
	if err != nil {
		jsonwriter.WriteError(w, http.StatusBadRequest, "unknown_network", err.Error())
		return nil, "", "", false
	}
	if network == "" {
		network = h.networks.DefaultName()
	}
	return client, addr, network, true
}

func (h *ChainHandlers) chainError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, aptos.ErrInvalidAddress) {
		jsonwriter.WriteError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	log.LogWarnCtx(r.Context(), "chain", "Fullnode query failed", map[string]any{
		"path":  r.URL.Path,
		"error": err.Error(),
	})
	jsonwriter.WriteBadGateway(w, "Fullnode query failed")
}

// BalanceHandler returns an account's APT balance.
func (h *ChainHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	client, addr, network, ok := h.resolve(w, r)
	if !ok {
		return
	}
	octas, err := client.Balance(r.Context(), addr)
	if err != nil {
		h.chainError(w, r, err)
		return
	}
	_ = jsonwriter.Write(w, balanceResponse{
		Address: addr,
		Network: network,
		Octas:   strconv.FormatUint(octas, 10),
		APT:     aptos.FormatAPT(octas),
	})
}

// ExistsHandler reports whether an account exists on chain.
func (h *ChainHandlers) ExistsHandler(w http.ResponseWriter, r *http.Request) {
	client, addr, network, ok := h.resolve(w, r)
	if !ok {
		return
	}
	exists, err := client.AccountExists(r.Context(), addr)
	if err != nil {
		h.chainError(w, r, err)
		return
	}
	_ = jsonwriter.Write(w, existsResponse{Address: addr, Network: network, Exists: exists})
}

// NetworksHandler lists the configured networks.
func (h *ChainHandlers) NetworksHandler(w http.ResponseWriter, r *http.Request) {
	_ = jsonwriter.Write(w, networksResponse{
		Default:  h.networks.DefaultName(),
		Networks: h.networks.List(),
	})
}
