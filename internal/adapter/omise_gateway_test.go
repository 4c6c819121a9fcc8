package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeOmise serves one charge and its refunds the way the Omise API does,
// including rejecting refunds beyond the captured amount.
type fakeOmise struct {
	mu       sync.Mutex
	amount   int64
	refunded int64
	reversed bool
	refunds  []int64
}

func (f *fakeOmise) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/charges/chrg_1":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "charge", "id": "chrg_1", "amount": f.amount,
			"refunded": f.refunded, "reversed": f.reversed, "paid": true,
		})
	case r.Method == http.MethodPost && r.URL.Path == "/charges/chrg_1/refunds":
		var body struct {
			Amount int64 `json:"amount"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f.refunded+body.Amount > f.amount {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"object": "error", "code": "failed_refund", "message": "charge has been fully refunded",
			})
			return
		}
		f.refunded += body.Amount
		f.refunds = append(f.refunds, body.Amount)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "refund", "id": fmt.Sprintf("rfnd_%d", len(f.refunds)), "amount": body.Amount,
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "error", "code": "not_found", "message": "not found"})
	}
}

func newTestOmiseGateway(t *testing.T, api *fakeOmise) *OmiseGateway {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	gw, err := NewOmiseGateway(OmiseConfig{PublicKey: "pkey_test_1", SecretKey: "skey_test_1"}, zap.NewNop())
	require.NoError(t, err)
	gw.client.Endpoints["https://api.omise.co"] = srv.URL
	return gw
}

func TestOmiseGateway_ReverseChargeRetryIsNoop(t *testing.T) {
	api := &fakeOmise{amount: 10000}
	gw := newTestOmiseGateway(t, api)
	ctx := context.Background()

	require.NoError(t, gw.ReverseCharge(ctx, "chrg_1", 10000))
	require.NoError(t, gw.ReverseCharge(ctx, "chrg_1", 10000))

	assert.Equal(t, []int64{10000}, api.refunds)
	assert.Equal(t, int64(10000), api.refunded)
}

func TestOmiseGateway_ReverseChargeRefundsOnlyOutstanding(t *testing.T) {
	api := &fakeOmise{amount: 10000, refunded: 3000}
	gw := newTestOmiseGateway(t, api)

	require.NoError(t, gw.ReverseCharge(context.Background(), "chrg_1", 10000))
	assert.Equal(t, []int64{7000}, api.refunds)
}

func TestOmiseGateway_ReversedChargeNeedsNoRefund(t *testing.T) {
	api := &fakeOmise{amount: 10000, reversed: true}
	gw := newTestOmiseGateway(t, api)

	require.NoError(t, gw.ReverseCharge(context.Background(), "chrg_1", 10000))
	assert.Empty(t, api.refunds)
}

func TestOmiseGateway_ReverseChargeUnknownCharge(t *testing.T) {
	gw := newTestOmiseGateway(t, &fakeOmise{amount: 10000})
	err := gw.ReverseCharge(context.Background(), "chrg_missing", 10000)
	assert.Error(t, err)
}
