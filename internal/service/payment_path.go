package service

import (
	"context"

	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports"
	"face-checkout-core/pkg/apperror"
)

// pathOutcome is the result of one payment path attempt. paid reports that
// funds were captured by an external processor before finalize; pending
// defers completion to an asynchronous confirmation; decline rejects the
// order without falling through to another path.
type pathOutcome struct {
	paid    bool
	pending bool
	decline *apperror.AppError
}

// paymentPath is the closed set of settlement paths. Selection is ordered
// and stops at the first applicable path: a declined card never falls back
// to a wallet debit.
type paymentPath interface {
	kind() domain.EntryKind
	attempt(ctx context.Context, s *SettlementServiceImpl, order *domain.Order) pathOutcome
}

// selectPath picks the settlement path: a default card method first, then
// a custodial wallet debit, then a non-custodial on-chain transfer.
func selectPath(wallet *domain.Wallet, method *domain.PaymentMethod) paymentPath {
	if method != nil && method.Kind == domain.PaymentMethodKindCard {
		return cardPath{method: method}
	}
	if wallet.IsCustodial() {
		return custodialPath{}
	}
	return chainPath{}
}

// cardPath charges the user's stored card through the external gateway.
type cardPath struct {
	method *domain.PaymentMethod
}

func (p cardPath) kind() domain.EntryKind { return domain.EntryKindCardCharge }

func (p cardPath) attempt(ctx context.Context, s *SettlementServiceImpl, order *domain.Order) pathOutcome {
	res, err := s.gateway.ProcessPayment(ctx, ports.GatewayChargeRequest{
		UserID:      *order.UserID,
		OrderID:     order.ID,
		MethodRef:   p.method.ExternalRef,
		AmountCents: order.TotalCents,
		Currency:    order.Currency,
	})
	if err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("card gateway unavailable")
		return pathOutcome{decline: apperror.ErrPaymentDeclined()}
	}
	switch {
	case res.Pending:
		return pathOutcome{pending: true}
	case res.Success:
		return pathOutcome{paid: true}
	default:
		s.log.Info().
			Str("order_id", order.ID.String()).
			Str("gateway_code", res.Code).
			Msg("card charge declined")
		return pathOutcome{decline: apperror.ErrPaymentDeclined()}
	}
}

// custodialPath debits the user's custodial wallet. The debit itself runs
// inside the finalize transaction so it commits atomically with the stock
// decrement.
type custodialPath struct{}

func (custodialPath) kind() domain.EntryKind { return domain.EntryKindWalletDebit }

func (custodialPath) attempt(ctx context.Context, s *SettlementServiceImpl, order *domain.Order) pathOutcome {
	return pathOutcome{}
}

// chainPath waits for funds from the user's own wallet. The order stays
// pending until the transfer hash is attached and confirmed on chain.
type chainPath struct{}

func (chainPath) kind() domain.EntryKind { return domain.EntryKindChainTransfer }

func (chainPath) attempt(ctx context.Context, s *SettlementServiceImpl, order *domain.Order) pathOutcome {
	return pathOutcome{pending: true}
}
