package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"p402-router/internal/models"
	"p402-router/internal/util"

	"github.com/google/uuid"
)

// VerifyTransferRequest is what the chain oracle checks
type VerifyTransferRequest struct {
	TxHash            string `json:"txHash,omitempty"`
	PaymentSignature  string `json:"paymentSignature"`
	AuthorizationID   string `json:"authorizationId"`
	Network           string `json:"network"`
	Scheme            string `json:"scheme"`
	Asset             string `json:"asset"`
	ExpectedAmount    string `json:"expectedAmount"`
	ExpectedRecipient string `json:"expectedRecipient,omitempty"`
}

// Verification is the oracle's verdict. Reason is set when Verified is false.
type Verification struct {
	Verified bool        `json:"verified"`
	Reason   models.Code `json:"reason,omitempty"`
	Message  string      `json:"message,omitempty"`
	TxHash   string      `json:"txHash,omitempty"`
	Payer    string      `json:"payer,omitempty"`
}

// Oracle verifies signatures and on-chain transfers. It must honour ctx
// cancellation.
type Oracle interface {
	VerifyTransfer(ctx context.Context, req *VerifyTransferRequest) (*Verification, error)
}

// SandboxOracle accepts any non-empty signature. Signatures prefixed with
// "invalid", "expired" or "early" produce the matching failure code.
type SandboxOracle struct {
	Delay time.Duration
}

// NewSandboxOracle creates a sandbox oracle
func NewSandboxOracle() *SandboxOracle {
	return &SandboxOracle{}
}

// VerifyTransfer implements Oracle
func (o *SandboxOracle) VerifyTransfer(ctx context.Context, req *VerifyTransferRequest) (*Verification, error) {
	if o.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.Delay):
		}
	}

	sig := strings.ToLower(req.PaymentSignature)
	switch {
	case sig == "" || strings.HasPrefix(sig, "invalid"):
		return &Verification{Reason: models.CodeInvalidSignature, Message: "signature rejected"}, nil
	case strings.HasPrefix(sig, "expired"):
		return &Verification{Reason: models.CodeAuthorizationExpired, Message: "authorization expired"}, nil
	case strings.HasPrefix(sig, "early"):
		return &Verification{Reason: models.CodeAuthorizationNotYetValid, Message: "authorization not yet valid"}, nil
	}

	txHash := req.TxHash
	if txHash == "" {
		txHash = "0xsandbox" + strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return &Verification{Verified: true, TxHash: txHash}, nil
}

// HTTPOracle calls an external verification service at {baseURL}/verify
type HTTPOracle struct {
	baseURL string
	client  httpDoer
}

// NewHTTPOracle creates an oracle client. The per-call bound comes from the
// caller's context.
func NewHTTPOracle(baseURL string) *HTTPOracle {
	return &HTTPOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(0),
	}
}

// VerifyTransfer implements Oracle
func (o *HTTPOracle) VerifyTransfer(ctx context.Context, req *VerifyTransferRequest) (*Verification, error) {
	start := time.Now()
	defer func() {
		util.OracleLatency.Observe(time.Since(start).Seconds())
	}()

	var out Verification
	if err := postJSON(ctx, o.client, o.baseURL+"/verify", req, &out); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.StatusCode < 500 {
			return &Verification{Reason: models.CodeVerificationFailed, Message: se.Body}, nil
		}
		return nil, err
	}
	if !out.Verified && !out.Reason.IsVerificationFailure() {
		out.Reason = models.CodeVerificationFailed
	}
	return &out, nil
}
