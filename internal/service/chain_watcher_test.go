package service

import (
	"testing"
	"time"

	"face-checkout-core/internal/core/ports"
	"face-checkout-core/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func watcherParams() ChainWatcherParams {
	return ChainWatcherParams{
		ConfirmationDepth: 3,
		PollInterval:      2 * time.Millisecond,
		WatchTimeout:      time.Second,
	}
}

func TestChainWatcher_ConfirmsAtDepth(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	client := mocks.NewMockChainClient(ctrl)

	gomock.InOrder(
		client.EXPECT().TxStatus(gomock.Any(), "0xabc").Return(&ports.ChainTxStatus{Found: false}, nil),
		client.EXPECT().TxStatus(gomock.Any(), "0xabc").Return(&ports.ChainTxStatus{Found: true, Confirmations: 1}, nil),
		client.EXPECT().TxStatus(gomock.Any(), "0xabc").Return(&ports.ChainTxStatus{Found: true, Confirmations: 3}, nil),
	)

	w := NewChainWatcher(client, watcherParams(), zerolog.Nop())
	defer w.Shutdown()

	outcome := make(chan bool, 1)
	w.Watch(uuid.New(), "0xabc", func(confirmed bool) { outcome <- confirmed })

	select {
	case confirmed := <-outcome:
		assert.True(t, confirmed)
	case <-time.After(time.Second):
		t.Fatal("watch did not resolve")
	}
}

func TestChainWatcher_ReportsRevertedTransfer(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	client := mocks.NewMockChainClient(ctrl)

	client.EXPECT().TxStatus(gomock.Any(), "0xbad").Return(&ports.ChainTxStatus{
		Found:  true,
		Failed: true,
	}, nil)

	w := NewChainWatcher(client, watcherParams(), zerolog.Nop())
	defer w.Shutdown()

	outcome := make(chan bool, 1)
	w.Watch(uuid.New(), "0xbad", func(confirmed bool) { outcome <- confirmed })

	select {
	case confirmed := <-outcome:
		assert.False(t, confirmed)
	case <-time.After(time.Second):
		t.Fatal("watch did not resolve")
	}
}

func TestChainWatcher_TimesOut(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	client := mocks.NewMockChainClient(ctrl)

	// Never found within the watch deadline.
	client.EXPECT().TxStatus(gomock.Any(), "0xslow").Return(&ports.ChainTxStatus{Found: false}, nil).AnyTimes()

	params := watcherParams()
	params.WatchTimeout = 20 * time.Millisecond

	w := NewChainWatcher(client, params, zerolog.Nop())
	defer w.Shutdown()

	outcome := make(chan bool, 1)
	w.Watch(uuid.New(), "0xslow", func(confirmed bool) { outcome <- confirmed })

	select {
	case confirmed := <-outcome:
		assert.False(t, confirmed)
	case <-time.After(time.Second):
		t.Fatal("watch did not time out")
	}
}

func TestChainWatcher_CancelSuppressesOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	client := mocks.NewMockChainClient(ctrl)

	client.EXPECT().TxStatus(gomock.Any(), "0xgone").Return(&ports.ChainTxStatus{Found: false}, nil).AnyTimes()

	w := NewChainWatcher(client, watcherParams(), zerolog.Nop())
	defer w.Shutdown()

	orderID := uuid.New()
	outcome := make(chan bool, 1)
	w.Watch(orderID, "0xgone", func(confirmed bool) { outcome <- confirmed })

	w.Cancel(orderID)

	select {
	case <-outcome:
		t.Fatal("cancelled watch must not report an outcome")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestChainWatcher_ShutdownDrains(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	client := mocks.NewMockChainClient(ctrl)

	client.EXPECT().TxStatus(gomock.Any(), gomock.Any()).Return(&ports.ChainTxStatus{Found: false}, nil).AnyTimes()

	w := NewChainWatcher(client, watcherParams(), zerolog.Nop())
	w.Watch(uuid.New(), "0x1", func(bool) {})
	w.Watch(uuid.New(), "0x2", func(bool) {})

	finished := make(chan struct{})
	go func() {
		w.Shutdown()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not drain watches")
	}

	// Watches registered after shutdown are rejected.
	outcome := make(chan bool, 1)
	w.Watch(uuid.New(), "0x3", func(confirmed bool) { outcome <- confirmed })
	select {
	case <-outcome:
		t.Fatal("watch after shutdown must not run")
	case <-time.After(20 * time.Millisecond):
	}
}
