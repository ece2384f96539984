package keyless

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aptospilot/aptospilot/internal/ephemeral"
	"github.com/aptospilot/aptospilot/internal/idtoken"
	"github.com/aptospilot/aptospilot/internal/ioutil"
	"github.com/aptospilot/aptospilot/internal/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultPepperURL = "https://api.mainnet.aptoslabs.com/keyless/pepper"
	DefaultProverURL = "https://api.mainnet.aptoslabs.com/keyless/prover"

	// uidKey selects which claim identifies the user to the pepper service.
	uidKey = "sub"
)

// Deriver turns a validated identity token and the ephemeral key pair it is
// bound to into an account handle.
type Deriver interface {
	Derive(ctx context.Context, jwt string, claims *idtoken.Claims, kp *ephemeral.KeyPair) (*Account, error)
}

// Service derives accounts through the remote pepper and prover services.
// The caller's context bounds both calls.
type Service struct {
	pepperURL  string
	proverURL  string
	httpClient *http.Client
	tracer     trace.Tracer
}

var _ Deriver = (*Service)(nil)

// NewService creates a deriver. Empty URLs select the public mainnet
// services; a nil client gets a 30 second timeout.
func NewService(pepperURL, proverURL string, httpClient *http.Client) *Service {
	if pepperURL == "" {
		pepperURL = DefaultPepperURL
	}
	if proverURL == "" {
		proverURL = DefaultProverURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{
		pepperURL:  strings.TrimRight(pepperURL, "/"),
		proverURL:  strings.TrimRight(proverURL, "/"),
		httpClient: httpClient,
		tracer:     otel.Tracer("github.com/aptospilot/aptospilot/internal/keyless"),
	}
}

type pepperRequest struct {
	JWT            string  `json:"jwt_b64"`
	EPK            string  `json:"epk"`
	ExpDateSecs    uint64  `json:"exp_date_secs"`
	EPKBlinder     string  `json:"epk_blinder"`
	UIDKey         string  `json:"uid_key"`
	DerivationPath *string `json:"derivation_path"`
}

type pepperResponse struct {
	Pepper  string `json:"pepper"`
	Address string `json:"address"`
}

type proverRequest struct {
	JWT         string `json:"jwt_b64"`
	EPK         string `json:"epk"`
	EPKBlinder  string `json:"epk_blinder"`
	ExpDateSecs uint64 `json:"exp_date_secs"`
	Pepper      string `json:"pepper"`
	UIDKey      string `json:"uid_key"`
}

func (s *Service) Derive(ctx context.Context, jwt string, claims *idtoken.Claims, kp *ephemeral.KeyPair) (*Account, error) {
	ctx, span := s.tracer.Start(ctx, "keyless.Derive")
	defer span.End()

	epk := "0x" + hex.EncodeToString(kp.PublicKey())
	blinder := "0x" + hex.EncodeToString(kp.Blinder())

	var pep pepperResponse
	err := s.post(ctx, "pepper service", s.pepperURL+"/v0/fetch", pepperRequest{
		JWT:         jwt,
		EPK:         epk,
		ExpDateSecs: kp.ExpirySecs(),
		EPKBlinder:  blinder,
		UIDKey:      uidKey,
	}, &pep)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pepper")
		return nil, err
	}

	pepper, err := hex.DecodeString(strings.TrimPrefix(pep.Pepper, "0x"))
	if err != nil || len(pepper) == 0 {
		return nil, fmt.Errorf("pepper service returned an invalid pepper")
	}
	address, err := ParseAddress(pep.Address)
	if err != nil {
		return nil, fmt.Errorf("pepper service returned an invalid address: %w", err)
	}

	var proof json.RawMessage
	err = s.post(ctx, "prover service", s.proverURL+"/v0/prove", proverRequest{
		JWT:         jwt,
		EPK:         epk,
		EPKBlinder:  blinder,
		ExpDateSecs: kp.ExpirySecs(),
		Pepper:      pep.Pepper,
		UIDKey:      uidKey,
	}, &proof)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prover")
		return nil, err
	}

	acct := &Account{
		Address:   address,
		Ephemeral: kp,
		Issuer:    claims.Issuer,
		Audience:  claims.ClientID(),
		UIDKey:    uidKey,
		UIDVal:    claims.Subject,
		Pepper:    pepper,
		Proof:     []byte(proof),
		JWT:       jwt,
	}
	span.SetAttributes(attribute.String("aptos.address", acct.AddressHex()))
	log.LogInfoCtx(ctx, "keyless", "Account derived", map[string]any{
		"address": acct.AddressHex(),
		"issuer":  acct.Issuer,
	})
	return acct, nil
}

func (s *Service) post(ctx context.Context, service, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", service, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ioutil.StatusError(service, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", service, err)
	}
	return nil
}
