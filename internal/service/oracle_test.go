package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"p402-router/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxOracleCodes(t *testing.T) {
	o := NewSandboxOracle()
	ctx := context.Background()

	tests := []struct {
		sig  string
		want models.Code
	}{
		{"invalid-1", models.CodeInvalidSignature},
		{"expired-1", models.CodeAuthorizationExpired},
		{"early-1", models.CodeAuthorizationNotYetValid},
	}
	for _, tt := range tests {
		ver, err := o.VerifyTransfer(ctx, &VerifyTransferRequest{PaymentSignature: tt.sig})
		require.NoError(t, err)
		assert.False(t, ver.Verified)
		assert.Equal(t, tt.want, ver.Reason)
	}

	ver, err := o.VerifyTransfer(ctx, &VerifyTransferRequest{PaymentSignature: "0xok", TxHash: "0x1"})
	require.NoError(t, err)
	assert.True(t, ver.Verified)
	assert.Equal(t, "0x1", ver.TxHash)
}

func TestSandboxOracleHonoursDeadline(t *testing.T) {
	o := &SandboxOracle{Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := o.VerifyTransfer(ctx, &VerifyTransferRequest{PaymentSignature: "0xok"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPOracle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/verify", r.URL.Path)
		var req VerifyTransferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.AuthorizationID {
		case "ok":
			_ = json.NewEncoder(w).Encode(Verification{Verified: true, TxHash: "0xabc"})
		case "weird":
			_ = json.NewEncoder(w).Encode(Verification{Verified: false, Reason: "SOMETHING_ELSE"})
		case "bad-request":
			w.WriteHeader(http.StatusUnprocessableEntity)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL + "/")
	ctx := context.Background()

	ver, err := o.VerifyTransfer(ctx, &VerifyTransferRequest{AuthorizationID: "ok"})
	require.NoError(t, err)
	assert.True(t, ver.Verified)

	ver, err = o.VerifyTransfer(ctx, &VerifyTransferRequest{AuthorizationID: "weird"})
	require.NoError(t, err)
	assert.Equal(t, models.CodeVerificationFailed, ver.Reason)

	ver, err = o.VerifyTransfer(ctx, &VerifyTransferRequest{AuthorizationID: "bad-request"})
	require.NoError(t, err)
	assert.False(t, ver.Verified)

	_, err = o.VerifyTransfer(ctx, &VerifyTransferRequest{AuthorizationID: "down"})
	assert.Error(t, err)
}

func TestHTTPSettlement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settle", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Settlement{Settled: true, TxHash: "0xsettled"})
	}))
	defer srv.Close()

	backend, err := NewSettlementBackend(SettlementModeHTTP, time.Second)
	require.NoError(t, err)

	out, err := backend.Settle(context.Background(), &SettleRequest{FacilitatorID: "F1", Endpoint: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "0xsettled", out.TxHash)
	assert.False(t, out.SettledAt.IsZero())

	_, err = backend.Settle(context.Background(), &SettleRequest{FacilitatorID: "F2"})
	assert.Error(t, err)
}

func TestNewSettlementBackendUnknownMode(t *testing.T) {
	_, err := NewSettlementBackend("carrier-pigeon", time.Second)
	assert.Error(t, err)

	b, err := NewSettlementBackend("", time.Second)
	require.NoError(t, err)
	assert.IsType(t, &SandboxSettlement{}, b)
}
