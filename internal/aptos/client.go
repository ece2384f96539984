package aptos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aptospilot/aptospilot/internal/ioutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	// OctasPerAPT is the number of base units in one APT.
	OctasPerAPT = 100_000_000

	balanceFunction = "0x1::coin::balance"
	aptosCoinType   = "0x1::aptos_coin::AptosCoin"

	sharedFetchTimeout = 10 * time.Second
)

// ErrInvalidAddress is returned for addresses that are not 0x-prefixed hex.
var ErrInvalidAddress = errors.New("invalid account address")

// Client reads account state from one fullnode REST endpoint.
type Client struct {
	nodeURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	balances   singleflight.Group
}

// New creates a client for nodeURL (for example
// https://api.mainnet.aptoslabs.com/v1). A nil httpClient gets a 10 second
// timeout.
func New(nodeURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		nodeURL:    strings.TrimRight(nodeURL, "/"),
		httpClient: httpClient,
		tracer:     otel.Tracer("github.com/aptospilot/aptospilot/internal/aptos"),
	}
}

// NodeURL returns the REST endpoint this client talks to.
func (c *Client) NodeURL() string { return c.nodeURL }

type viewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []string `json:"arguments"`
}

// Balance returns the APT balance of address in octas. Concurrent lookups
// for the same address share one request; a caller that gives up early does
// not fail the others.
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return 0, err
	}

	// The shared lookup must outlive any single caller's cancellation.
	ch := c.balances.DoChan(addr, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return c.fetchBalance(fetchCtx, addr)
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(uint64), nil
	}
}

func (c *Client) fetchBalance(ctx context.Context, addr string) (uint64, error) {
	ctx, span := c.tracer.Start(ctx, "aptos.Balance", trace.WithAttributes(
		attribute.String("aptos.address", addr),
		attribute.String("aptos.node", c.nodeURL),
	))
	defer span.End()

	payload, err := json.Marshal(viewRequest{
		Function:      balanceFunction,
		TypeArguments: []string{aptosCoinType},
		Arguments:     []string{addr},
	})
	if err != nil {
		return 0, fmt.Errorf("encoding view request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nodeURL+"/view", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("building view request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return 0, fmt.Errorf("calling fullnode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := ioutil.StatusError("fullnode", resp)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return 0, err
	}

	var out []string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding view response: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("view returned %d values, expected 1", len(out))
	}
	octas, err := strconv.ParseUint(out[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing balance %q: %w", out[0], err)
	}
	return octas, nil
}

// AccountExists reports whether address has an on-chain account resource.
func (c *Client) AccountExists(ctx context.Context, address string) (bool, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return false, err
	}

	ctx, span := c.tracer.Start(ctx, "aptos.AccountExists", trace.WithAttributes(
		attribute.String("aptos.address", addr),
	))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nodeURL+"/accounts/"+addr, nil)
	if err != nil {
		return false, fmt.Errorf("building account request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("calling fullnode: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		err := ioutil.StatusError("fullnode", resp)
		span.RecordError(err)
		return false, err
	}
}

// NormalizeAddress lowercases a 0x-prefixed hex address and pads it to 64
// hex digits.
func NormalizeAddress(address string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(address))
	if !strings.HasPrefix(s, "0x") {
		return "", fmt.Errorf("%w: missing 0x prefix", ErrInvalidAddress)
	}
	s = s[2:]
	if s == "" || len(s) > 64 {
		return "", fmt.Errorf("%w: wrong length", ErrInvalidAddress)
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fmt.Errorf("%w: non-hex character", ErrInvalidAddress)
		}
	}
	return "0x" + strings.Repeat("0", 64-len(s)) + s, nil
}

// FormatAPT renders octas as APT with four decimals, rounding half away
// from zero.
func FormatAPT(octas uint64) string {
	r := new(big.Rat).SetFrac(new(big.Int).SetUint64(octas), big.NewInt(OctasPerAPT))
	return r.FloatString(4)
}
