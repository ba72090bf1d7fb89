package integration

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"face-checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// settleOutcome is one goroutine's view of a settle call. The helpers below
// stay free of testing.T so they can run off the test goroutine; assertions
// happen after the WaitGroup drains.
type settleOutcome struct {
	status  int
	orderID string
	pending bool
	errCode string
	err     error
}

func settleOnce(app *testApp, fx *checkoutFixture, ref string, qty int) settleOutcome {
	body, err := json.Marshal(map[string]interface{}{
		"checkout_ref": ref,
		"device_id":    fx.device.ID.String(),
		"user_id":      fx.user.ID.String(),
		"merchant_id":  fx.device.MerchantID.String(),
		"items": []map[string]interface{}{
			{"product_id": fx.product.ID.String(), "quantity": qty},
		},
	})
	if err != nil {
		return settleOutcome{err: err}
	}

	resp, err := signAndDo(app, http.MethodPost, "/api/v1/checkout/settle", body, fx)
	if err != nil {
		return settleOutcome{err: err}
	}
	defer resp.Body.Close()

	out := settleOutcome{status: resp.StatusCode}
	if resp.StatusCode == http.StatusCreated {
		var envelope struct {
			Data settleView `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			out.err = fmt.Errorf("decode settle response: %w", err)
			return out
		}
		out.orderID = envelope.Data.Order.ID
		out.pending = envelope.Data.Pending
		return out
	}

	var envelope struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		out.err = fmt.Errorf("decode error response: %w", err)
		return out
	}
	out.errCode = envelope.ErrorCode
	return out
}

func signAndDo(app *testApp, method, path string, body []byte, fx *checkoutFixture) (*http.Response, error) {
	req, err := http.NewRequest(method, app.server.URL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	timestamp := time.Now().Unix()
	nonce := uuid.NewString()
	canonical := fmt.Sprintf("%s|%s|%d|%s|%s", method, path, timestamp, nonce, string(body))
	mac := hmac.New(sha256.New, []byte(fx.deviceSecret))
	mac.Write([]byte(canonical))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Access-Key", fx.device.AccessKey)
	req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("X-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-Nonce", nonce)
	return http.DefaultClient.Do(req)
}

func postFrameQuiet(app *testApp, fx *checkoutFixture, body []byte) (int, *frameView, error) {
	path := "/api/v1/devices/" + fx.device.ID.String() + "/frames"
	resp, err := signAndDo(app, http.MethodPost, path, body, fx)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil, nil
	}
	var envelope struct {
		Data frameView `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode frame response: %w", err)
	}
	return resp.StatusCode, &envelope.Data, nil
}

// TestIntegration_ConcurrentSettle_SameRef hammers one checkout ref from
// many connections, as a flaky device retrying over parallel sockets would.
// Exactly one order may exist afterwards and the wallet is charged once.
func TestIntegration_ConcurrentSettle_SameRef(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	fx := seedCheckoutFixture(t, app, domain.WalletKindCustodial)

	const goroutines = 10
	results := make(chan settleOutcome, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- settleOnce(app, fx, "race-checkout-1", 2)
		}()
	}
	wg.Wait()
	close(results)

	var created, conflicts int
	orderIDs := make(map[string]struct{})
	for outcome := range results {
		require.NoError(t, outcome.err)
		switch outcome.status {
		case http.StatusCreated:
			created++
			orderIDs[outcome.orderID] = struct{}{}
		case http.StatusConflict:
			conflicts++
			assert.Equal(t, "PAY_003", outcome.errCode)
		default:
			t.Errorf("unexpected settle status %d (code %s)", outcome.status, outcome.errCode)
		}
	}
	t.Logf("created=%d conflicts=%d", created, conflicts)

	require.GreaterOrEqual(t, created, 1, "at least one caller must see the settled order")
	assert.Len(t, orderIDs, 1, "every successful caller must see the same order")
	assert.Len(t, app.orders.all(), 1)

	ctx := context.Background()
	wallet, err := app.wallets.GetByID(ctx, fx.wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), wallet.BalanceCents, "wallet must be charged exactly once")
	product, err := app.products.GetByID(ctx, fx.product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, product.Stock, "stock must be taken exactly once")
}

// TestIntegration_ConcurrentSettle_BalanceNeverOverspent runs distinct
// checkouts against one wallet. The advisory balance check races, the
// conditional debit does not: the wallet can fund exactly four of them.
func TestIntegration_ConcurrentSettle_BalanceNeverOverspent(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	fx := seedCheckoutFixture(t, app, domain.WalletKindCustodial)

	const goroutines = 8 // 8 x 2500 against a 10000 cent balance
	results := make(chan settleOutcome, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results <- settleOnce(app, fx, fmt.Sprintf("spend-race-%d", n), 2)
		}(i)
	}
	wg.Wait()
	close(results)

	var settled, rejected int
	for outcome := range results {
		require.NoError(t, outcome.err)
		switch outcome.status {
		case http.StatusCreated:
			settled++
		case http.StatusPaymentRequired:
			rejected++
			assert.Equal(t, "PAY_001", outcome.errCode)
		default:
			t.Errorf("unexpected settle status %d (code %s)", outcome.status, outcome.errCode)
		}
	}
	t.Logf("settled=%d rejected=%d", settled, rejected)

	assert.Equal(t, 4, settled)
	assert.Equal(t, 4, rejected)

	ctx := context.Background()
	wallet, err := app.wallets.GetByID(ctx, fx.wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.BalanceCents, "debits must never exceed the balance")
	product, err := app.products.GetByID(ctx, fx.product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, product.Stock, "only funded checkouts may take stock")

	var completed int
	for _, order := range app.orders.all() {
		if order.Status == domain.OrderStatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 4, completed)

	sum, err := app.ledger.SumCompletedByWallet(ctx, fx.wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-10000), sum)
}

// TestIntegration_ConcurrentConfirmFrames_SettleOnce floods a checkout-stage
// session with confirm frames. The per-device serialization and the settle
// latch mean exactly one frame may carry a settlement, no matter how many
// qualifying confirms race in.
func TestIntegration_ConcurrentConfirmFrames_SettleOnce(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	fx := seedCheckoutFixture(t, app, domain.WalletKindCustodial)

	probe := []float32{0.4, -0.2, 0.7, 0.1}
	enrollFace(t, app, fx.user.ID, probe)

	// Drive the session to CHECKOUT sequentially.
	var view frameView
	resp := postFrame(t, app, fx, map[string]interface{}{
		"face_detected": true, "detector_confidence": 0.9,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, resp, &view)
	require.Equal(t, "APPROACHING", view.Session.State)

	resp = postFrame(t, app, fx, map[string]interface{}{
		"face_detected": true, "detector_confidence": 0.9, "hand_present": true,
		"gesture": map[string]interface{}{"label": "PICKUP", "confidence": 0.9},
		"item":    map[string]interface{}{"product_id": fx.product.ID.String(), "quantity": 2},
	})
	decodeData(t, resp, &view)
	require.Equal(t, "PICKED", view.Session.State)

	resp = postFrame(t, app, fx, map[string]interface{}{
		"face_detected": true, "detector_confidence": 0.9, "embedding": probe,
	})
	decodeData(t, resp, &view)
	require.Equal(t, "CHECKOUT", view.Session.State)

	confirmBody, err := json.Marshal(map[string]interface{}{
		"face_detected": true, "detector_confidence": 0.9,
		"gesture": map[string]interface{}{"label": "CONFIRM", "confidence": 0.95},
	})
	require.NoError(t, err)

	const frames = 12
	var settledCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < frames; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, frame, err := postFrameQuiet(app, fx, confirmBody)
			if err != nil {
				t.Errorf("frame failed: %v", err)
				return
			}
			if status != http.StatusOK {
				t.Errorf("unexpected frame status %d", status)
				return
			}
			if frame.Settled != nil {
				settledCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), settledCount.Load(), "the confirm streak may fire settlement once")
	assert.Len(t, app.orders.all(), 1)

	ctx := context.Background()
	wallet, err := app.wallets.GetByID(ctx, fx.wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), wallet.BalanceCents)
	product, err := app.products.GetByID(ctx, fx.product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, product.Stock)
}
