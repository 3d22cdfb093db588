package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"p402-router/internal/util"

	"github.com/google/uuid"
)

// Settlement modes
const (
	SettlementModeSandbox = "sandbox"
	SettlementModeHTTP    = "http"
)

// SettleRequest asks a facilitator to settle a verified payment
type SettleRequest struct {
	FacilitatorID    string `json:"facilitatorId"`
	Endpoint         string `json:"-"`
	TenantID         string `json:"tenantId"`
	DecisionID       string `json:"decisionId"`
	AuthorizationID  string `json:"authorizationId"`
	PaymentSignature string `json:"paymentSignature"`
	TxHash           string `json:"txHash,omitempty"`
	Network          string `json:"network"`
	Scheme           string `json:"scheme"`
	Asset            string `json:"asset"`
	Amount           string `json:"amount"`
	PayTo            string `json:"payTo,omitempty"`
}

// Settlement is the facilitator's settlement receipt
type Settlement struct {
	Settled   bool      `json:"settled"`
	TxHash    string    `json:"txHash,omitempty"`
	SettledAt time.Time `json:"settledAt"`
}

// SettlementBackend settles verified payments
type SettlementBackend interface {
	Settle(ctx context.Context, req *SettleRequest) (*Settlement, error)
}

// NewSettlementBackend picks a backend for mode
func NewSettlementBackend(mode string, timeout time.Duration) (SettlementBackend, error) {
	switch mode {
	case "", SettlementModeSandbox:
		return &SandboxSettlement{}, nil
	case SettlementModeHTTP:
		return NewHTTPSettlement(timeout), nil
	default:
		return nil, fmt.Errorf("unknown settlement mode %q", mode)
	}
}

// SandboxSettlement settles instantly with a synthetic transaction hash
type SandboxSettlement struct{}

// Settle implements SettlementBackend
func (SandboxSettlement) Settle(ctx context.Context, req *SettleRequest) (*Settlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txHash := req.TxHash
	if txHash == "" {
		txHash = "0xsandbox" + strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return &Settlement{Settled: true, TxHash: txHash, SettledAt: time.Now().UTC()}, nil
}

// HTTPSettlement posts to the selected facilitator's {endpoint}/settle
type HTTPSettlement struct {
	client httpDoer
}

// NewHTTPSettlement creates an HTTP settlement backend
func NewHTTPSettlement(timeout time.Duration) *HTTPSettlement {
	return &HTTPSettlement{client: newHTTPClient(timeout)}
}

// Settle implements SettlementBackend
func (s *HTTPSettlement) Settle(ctx context.Context, req *SettleRequest) (*Settlement, error) {
	if req.Endpoint == "" {
		return nil, fmt.Errorf("facilitator %s has no endpoint", req.FacilitatorID)
	}

	start := time.Now()
	defer func() {
		util.SettlementLatency.Observe(time.Since(start).Seconds())
	}()

	var out Settlement
	url := strings.TrimRight(req.Endpoint, "/") + "/settle"
	if err := postJSON(ctx, s.client, url, req, &out); err != nil {
		return nil, fmt.Errorf("settle via %s failed: %w", req.FacilitatorID, err)
	}
	if !out.Settled {
		return nil, fmt.Errorf("facilitator %s declined settlement", req.FacilitatorID)
	}
	if out.SettledAt.IsZero() {
		out.SettledAt = time.Now().UTC()
	}
	return &out, nil
}
