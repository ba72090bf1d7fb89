package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestUser_CanFaceAuth(t *testing.T) {
	tests := []struct {
		name    string
		status  UserStatus
		enabled bool
		want    bool
	}{
		{"active and enabled", UserStatusActive, true, true},
		{"active but disabled", UserStatusActive, false, false},
		{"suspended", UserStatusSuspended, true, false},
		{"closed", UserStatusClosed, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{Status: tt.status, FaceAuthEnabled: tt.enabled}
			assert.Equal(t, tt.want, u.CanFaceAuth())
		})
	}
}

func TestDevice_IsOnline(t *testing.T) {
	tests := []struct {
		name   string
		status DeviceStatus
		want   bool
	}{
		{"online", DeviceStatusOnline, true},
		{"offline", DeviceStatusOffline, false},
		{"disabled", DeviceStatusDisabled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Device{Status: tt.status}
			assert.Equal(t, tt.want, d.IsOnline())
		})
	}
}

func TestProduct_InStock(t *testing.T) {
	tests := []struct {
		name   string
		active bool
		stock  int
		qty    int
		want   bool
	}{
		{"enough stock", true, 5, 3, true},
		{"exact stock", true, 3, 3, true},
		{"not enough", true, 2, 3, false},
		{"inactive product", false, 10, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Product{Active: tt.active, Stock: tt.stock}
			assert.Equal(t, tt.want, p.InStock(tt.qty))
		})
	}
}

func TestWallet_Predicates(t *testing.T) {
	w := &Wallet{Kind: WalletKindCustodial, Status: WalletStatusActive}
	assert.True(t, w.IsActive())
	assert.True(t, w.IsCustodial())

	w.Status = WalletStatusPaused
	assert.False(t, w.IsActive())

	w.Kind = WalletKindNonCustodial
	assert.False(t, w.IsCustodial())
}

func TestOrder_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status OrderStatus
		want   bool
	}{
		{"processing", OrderStatusProcessing, false},
		{"pending", OrderStatusPending, false},
		{"completed", OrderStatusCompleted, true},
		{"failed", OrderStatusFailed, true},
		{"cancelled", OrderStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Status: tt.status}
			assert.Equal(t, tt.want, o.IsTerminal())
		})
	}
}

func TestOrder_IsCancellable(t *testing.T) {
	tests := []struct {
		name   string
		status OrderStatus
		want   bool
	}{
		{"pending", OrderStatusPending, true},
		{"processing", OrderStatusProcessing, true},
		{"completed", OrderStatusCompleted, false},
		{"failed", OrderStatusFailed, false},
		{"cancelled", OrderStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Status: tt.status}
			assert.Equal(t, tt.want, o.IsCancellable())
		})
	}
}

func TestOrder_LinesTotal(t *testing.T) {
	o := &Order{
		Lines: []OrderLine{
			{Quantity: 2, UnitPriceCents: 500, LineTotalCents: 1000},
			{Quantity: 1, UnitPriceCents: 250, LineTotalCents: 250},
		},
	}
	assert.Equal(t, int64(1250), o.LinesTotal())
}

func TestLedgerEntry_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status EntryStatus
		want   bool
	}{
		{"pending", EntryStatusPending, false},
		{"completed", EntryStatusCompleted, true},
		{"failed", EntryStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &LedgerEntry{Status: tt.status}
			assert.Equal(t, tt.want, e.IsTerminal())
		})
	}
}

func TestLedgerEntry_AffectsBalance(t *testing.T) {
	tests := []struct {
		name string
		kind EntryKind
		want bool
	}{
		{"wallet debit", EntryKindWalletDebit, true},
		{"wallet credit", EntryKindWalletCredit, true},
		{"card charge", EntryKindCardCharge, false},
		{"chain transfer", EntryKindChainTransfer, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &LedgerEntry{Kind: tt.kind}
			assert.Equal(t, tt.want, e.AffectsBalance())
		})
	}
}

func TestSession_IsTerminal(t *testing.T) {
	tests := []struct {
		name  string
		state SessionState
		want  bool
	}{
		{"waiting", SessionStateWaiting, false},
		{"approaching", SessionStateApproaching, false},
		{"picked", SessionStatePicked, false},
		{"checkout", SessionStateCheckout, false},
		{"completed", SessionStateCompleted, true},
		{"cancelled", SessionStateCancelled, true},
		{"expired", SessionStateExpired, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{State: tt.state}
			assert.Equal(t, tt.want, s.IsTerminal())
		})
	}
}

func TestSession_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		name string
		from SessionState
		to   SessionState
		want bool
	}{
		{"waiting to approaching", SessionStateWaiting, SessionStateApproaching, true},
		{"approaching to picked", SessionStateApproaching, SessionStatePicked, true},
		{"picked to checkout", SessionStatePicked, SessionStateCheckout, true},
		{"checkout to completed", SessionStateCheckout, SessionStateCompleted, true},
		{"no stage skipping", SessionStateApproaching, SessionStateCheckout, false},
		{"no double skip", SessionStateWaiting, SessionStatePicked, false},
		{"no backward", SessionStateCheckout, SessionStatePicked, false},
		{"terminal cannot advance", SessionStateCancelled, SessionStateCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{State: tt.from}
			assert.Equal(t, tt.want, s.CanAdvanceTo(tt.to))
		})
	}
}

func TestSession_RecordSample_Bounded(t *testing.T) {
	s := &Session{}
	for i := 0; i < maxGestureSamples+10; i++ {
		s.RecordSample(GestureSample{Type: GestureConfirm, Confidence: i % 100, At: time.Now()})
	}
	assert.Len(t, s.Samples, maxGestureSamples)
}

func TestBuildSessionCheckoutRef(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "chk-550e8400-e29b-41d4-a716-446655440000", BuildSessionCheckoutRef(id))
}

func TestBuildClientCheckoutRef(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := BuildClientCheckoutRef(id, "POS-001")
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000:POS-001", key)
}

func TestOrderStatus_Constants(t *testing.T) {
	assert.Equal(t, OrderStatus("PROCESSING"), OrderStatusProcessing)
	assert.Equal(t, OrderStatus("PENDING"), OrderStatusPending)
	assert.Equal(t, OrderStatus("COMPLETED"), OrderStatusCompleted)
	assert.Equal(t, OrderStatus("FAILED"), OrderStatusFailed)
	assert.Equal(t, OrderStatus("CANCELLED"), OrderStatusCancelled)
}

func TestEntryKind_Constants(t *testing.T) {
	assert.Equal(t, EntryKind("WALLET_DEBIT"), EntryKindWalletDebit)
	assert.Equal(t, EntryKind("WALLET_CREDIT"), EntryKindWalletCredit)
	assert.Equal(t, EntryKind("CARD_CHARGE"), EntryKindCardCharge)
	assert.Equal(t, EntryKind("CHAIN_TRANSFER"), EntryKindChainTransfer)
}
