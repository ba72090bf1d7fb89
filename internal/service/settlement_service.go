package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"face-checkout-core/internal/core/domain"
	"face-checkout-core/internal/core/ports"
	"face-checkout-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SettlementParams tunes settlement behavior.
type SettlementParams struct {
	AutoApprovalLimitCents int64 // Fallback when the user has no limit set
	ResultTTL              time.Duration
}

// SettlementServiceImpl implements ports.SettlementService.
//
// Settlement is a saga: six hard preconditions, then a durable claim
// (order + lines + pending ledger entry in one transaction), then a payment
// path attempt, then a finalize transaction that debits, decrements stock
// and flips statuses together. A crash between claim and finalize leaves a
// PROCESSING order that is recoverable by re-querying status.
type SettlementServiceImpl struct {
	userRepo    ports.UserRepository
	deviceRepo  ports.DeviceRepository
	walletRepo  ports.WalletRepository
	methodRepo  ports.PaymentMethodRepository
	productRepo ports.ProductRepository
	orderRepo   ports.OrderRepository
	ledgerRepo  ports.LedgerRepository
	idempCache  ports.IdempotencyCache
	presence    ports.PresenceStore
	gateway     ports.PaymentGateway
	watcher     ports.ChainWatcher
	publisher   ports.EventPublisher
	transactor  ports.DBTransactor
	params      SettlementParams
	log         zerolog.Logger

	inflight *inflightGuard
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	userRepo ports.UserRepository,
	deviceRepo ports.DeviceRepository,
	walletRepo ports.WalletRepository,
	methodRepo ports.PaymentMethodRepository,
	productRepo ports.ProductRepository,
	orderRepo ports.OrderRepository,
	ledgerRepo ports.LedgerRepository,
	idempCache ports.IdempotencyCache,
	presence ports.PresenceStore,
	gateway ports.PaymentGateway,
	watcher ports.ChainWatcher,
	publisher ports.EventPublisher,
	transactor ports.DBTransactor,
	params SettlementParams,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		userRepo:    userRepo,
		deviceRepo:  deviceRepo,
		walletRepo:  walletRepo,
		methodRepo:  methodRepo,
		productRepo: productRepo,
		orderRepo:   orderRepo,
		ledgerRepo:  ledgerRepo,
		idempCache:  idempCache,
		presence:    presence,
		gateway:     gateway,
		watcher:     watcher,
		publisher:   publisher,
		transactor:  transactor,
		params:      params,
		log:         log,
		inflight:    newInflightGuard(),
	}
}

// Settle executes one settlement attempt for a checkout ref. Duplicate
// attempts for the same ref return the recorded outcome instead of
// re-charging; concurrent duplicates wait for the first attempt.
func (s *SettlementServiceImpl) Settle(ctx context.Context, req ports.SettleRequest) (*ports.SettleResult, error) {
	if err := validateSettleRequest(req); err != nil {
		return nil, err
	}

	for {
		if result, err, found := s.recordedOutcome(ctx, req.CheckoutRef); found {
			return result, err
		}

		first, wait := s.inflight.begin(req.CheckoutRef)
		if first {
			break
		}
		select {
		case <-wait:
			// Owner finished; loop re-reads the recorded outcome. If the
			// owner failed a precondition nothing was recorded and this
			// attempt becomes the new owner.
		case <-ctx.Done():
			return nil, apperror.InternalError(ctx.Err())
		}
	}
	defer s.inflight.finish(req.CheckoutRef)

	return s.settle(ctx, req)
}

func validateSettleRequest(req ports.SettleRequest) error {
	if req.CheckoutRef == "" {
		return apperror.Validation("checkout reference required")
	}
	if req.DeviceID == uuid.Nil || req.UserID == uuid.Nil || req.MerchantID == uuid.Nil {
		return apperror.Validation("device, user and merchant ids required")
	}
	if len(req.Items) == 0 {
		return apperror.Validation("at least one item required")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return apperror.ErrInvalidAmount()
		}
	}
	return nil
}

// recordedOutcome returns the prior outcome for a checkout ref, checking
// the Redis cache first and the durable order row second.
func (s *SettlementServiceImpl) recordedOutcome(ctx context.Context, ref string) (*ports.SettleResult, error, bool) {
	cached, err := s.idempCache.Get(ctx, ref)
	if err != nil {
		s.log.Warn().Err(err).Str("checkout_ref", ref).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		result := &ports.SettleResult{}
		if err := json.Unmarshal(cached, result); err == nil {
			return result, nil, true
		}
		s.log.Warn().Str("checkout_ref", ref).Msg("discarding unreadable cached settlement result")
	}

	order, err := s.orderRepo.GetByCheckoutRef(ctx, ref)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency lookup: %w", err)), true
	}
	if order == nil {
		return nil, nil, false
	}
	result, resErr := resultFromOrder(order)
	return result, resErr, true
}

// resultFromOrder maps a previously recorded order to the outcome a
// duplicate settlement attempt should observe.
func resultFromOrder(order *domain.Order) (*ports.SettleResult, error) {
	switch order.Status {
	case domain.OrderStatusCompleted, domain.OrderStatusCancelled:
		return &ports.SettleResult{Order: order, Pending: false}, nil
	case domain.OrderStatusPending:
		return &ports.SettleResult{Order: order, Pending: true}, nil
	case domain.OrderStatusProcessing:
		return nil, apperror.ErrSettlementInProgress()
	default:
		return nil, apperror.ErrPaymentDeclined()
	}
}

// settle runs preconditions, claims the checkout ref durably and attempts
// the selected payment path. Caller holds the in-flight guard.
func (s *SettlementServiceImpl) settle(ctx context.Context, req ports.SettleRequest) (*ports.SettleResult, error) {
	// 1. Device must be online.
	device, err := s.deviceRepo.GetByID(ctx, req.DeviceID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load device: %w", err))
	}
	if device == nil {
		return nil, apperror.ErrNotFound("device")
	}
	if !device.IsOnline() {
		return nil, apperror.ErrDeviceNotOnline()
	}
	alive, err := s.presence.IsAlive(ctx, device.ID.String())
	if err != nil {
		s.log.Warn().Err(err).Str("device_id", device.ID.String()).Msg("presence check unavailable, trusting device status")
	} else if !alive {
		return nil, apperror.ErrDeviceNotOnline()
	}

	// 2. Face auth must be active for the user.
	user, err := s.userRepo.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}
	if !user.CanFaceAuth() {
		return nil, apperror.ErrFaceAuthInactive()
	}

	// 3. Default wallet must exist and be active.
	wallet, err := s.walletRepo.GetDefaultByUserID(ctx, req.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if !wallet.IsActive() {
		return nil, apperror.ErrWalletNotActive()
	}

	// 4. Re-validate stock and price every line from the current catalog.
	lines, total, err := s.buildLines(ctx, req.Items, wallet.Currency)
	if err != nil {
		return nil, err
	}

	// 5. Total must not exceed the auto-approval limit.
	limit := user.AutoApprovalLimitCents
	if limit <= 0 {
		limit = s.params.AutoApprovalLimitCents
	}
	if limit > 0 && total > limit {
		return nil, apperror.ErrApprovalLimitExceeded()
	}

	// 6. Custodial wallets must cover the total. Advisory only; the
	// conditional debit in finalize is the authoritative guard.
	if wallet.IsCustodial() && wallet.BalanceCents < total {
		return nil, apperror.ErrInsufficientFunds()
	}

	method, err := s.methodRepo.GetDefaultByUserID(ctx, req.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load payment method: %w", err))
	}
	path := selectPath(wallet, method)

	order, entry, err := s.claimCheckout(ctx, req, wallet, lines, total, path)
	if err != nil {
		var dup *claimedElsewhere
		if errors.As(err, &dup) {
			return dup.result, nil
		}
		return nil, err
	}

	outcome := path.attempt(ctx, s, order)
	switch {
	case outcome.decline != nil:
		s.failOrder(ctx, order, entry)
		s.publish(orderEvent(domain.EventSettlementFailed, order))
		return nil, outcome.decline

	case outcome.pending:
		if order.Status != domain.OrderStatusPending {
			if err := s.markPending(ctx, order); err != nil {
				return nil, err
			}
		}
		result := &ports.SettleResult{Order: order, Pending: true}
		s.cacheResult(ctx, req.CheckoutRef, result)
		s.publish(orderEvent(domain.EventOrderUpdated, order))
		s.log.Info().
			Str("order_id", order.ID.String()).
			Str("order_number", order.OrderNumber).
			Msg("settlement pending on-chain confirmation")
		return result, nil

	default:
		if err := s.completeOrder(ctx, order, entry, wallet, outcome.paid); err != nil {
			s.publish(orderEvent(domain.EventSettlementFailed, order))
			return nil, err
		}
		result := &ports.SettleResult{Order: order, Pending: false}
		s.cacheResult(ctx, req.CheckoutRef, result)
		s.publish(orderEvent(domain.EventSettlementCompleted, order))
		s.log.Info().
			Str("order_id", order.ID.String()).
			Str("order_number", order.OrderNumber).
			Int64("total_cents", order.TotalCents).
			Str("path", string(entry.Kind)).
			Msg("settlement completed")
		return result, nil
	}
}

// buildLines re-prices every item from the current catalog and checks stock.
func (s *SettlementServiceImpl) buildLines(ctx context.Context, items []domain.SessionItem, currency string) ([]domain.OrderLine, int64, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	var total int64
	for _, item := range items {
		product, err := s.productRepo.GetByID(ctx, item.ProductID)
		if err != nil {
			return nil, 0, apperror.InternalError(fmt.Errorf("load product: %w", err))
		}
		if product == nil {
			return nil, 0, apperror.ErrNotFound("product")
		}
		if !product.InStock(item.Quantity) {
			return nil, 0, apperror.ErrInsufficientStock(product.Name)
		}
		if product.Currency != currency {
			return nil, 0, apperror.Validation("product currency does not match wallet currency")
		}
		lineTotal := product.PriceCents * int64(item.Quantity)
		lines = append(lines, domain.OrderLine{
			ID:             uuid.New(),
			ProductID:      product.ID,
			ProductName:    product.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: product.PriceCents,
			LineTotalCents: lineTotal,
		})
		total += lineTotal
	}
	return lines, total, nil
}

// claimCheckout creates the order, its lines and the pending ledger entry
// as one transaction. The unique checkout_ref makes the claim the durable
// idempotency anchor.
func (s *SettlementServiceImpl) claimCheckout(
	ctx context.Context,
	req ports.SettleRequest,
	wallet *domain.Wallet,
	lines []domain.OrderLine,
	total int64,
	path paymentPath,
) (*domain.Order, *domain.LedgerEntry, error) {
	now := time.Now().UTC()
	status := domain.OrderStatusProcessing
	payStatus := domain.PaymentStatusUnpaid
	if path.kind() == domain.EntryKindChainTransfer {
		status = domain.OrderStatusPending
		payStatus = domain.PaymentStatusPending
	}

	userID := req.UserID
	order := &domain.Order{
		ID:            uuid.New(),
		OrderNumber:   generateOrderNumber(now),
		CheckoutRef:   req.CheckoutRef,
		MerchantID:    req.MerchantID,
		DeviceID:      req.DeviceID,
		UserID:        &userID,
		Status:        status,
		PaymentStatus: payStatus,
		TotalCents:    total,
		Currency:      wallet.Currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i := range lines {
		lines[i].OrderID = order.ID
	}
	order.Lines = lines

	entry := &domain.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    wallet.ID,
		OrderID:     order.ID,
		Kind:        path.kind(),
		AmountCents: -total,
		Currency:    wallet.Currency,
		Status:      domain.EntryStatusPending,
		Description: "checkout " + order.OrderNumber,
		CreatedAt:   now,
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.orderRepo.Create(ctx, dbTx, order); err != nil {
		// A concurrent attempt on another instance may have claimed the
		// ref; surface its recorded outcome instead of an error.
		if existing, lookupErr := s.orderRepo.GetByCheckoutRef(ctx, req.CheckoutRef); lookupErr == nil && existing != nil {
			result, resErr := resultFromOrder(existing)
			if resErr != nil {
				return nil, nil, resErr
			}
			return nil, nil, &claimedElsewhere{result: result}
		}
		return nil, nil, apperror.InternalError(fmt.Errorf("create order: %w", err))
	}
	if err := s.ledgerRepo.Create(ctx, dbTx, entry); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("create ledger entry: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("commit claim: %w", err))
	}
	return order, entry, nil
}

// claimedElsewhere carries a cross-instance duplicate outcome out of
// claimCheckout; Settle unwraps it into a normal result.
type claimedElsewhere struct {
	result *ports.SettleResult
}

func (c *claimedElsewhere) Error() string { return "checkout ref already claimed" }

// completeOrder finalizes a successful path: conditional wallet debit when
// the path is a wallet debit, stock decrement per line, entry and order
// flipped to completed. All in one transaction so stock is never
// decremented without a completed ledger entry.
func (s *SettlementServiceImpl) completeOrder(
	ctx context.Context,
	order *domain.Order,
	entry *domain.LedgerEntry,
	wallet *domain.Wallet,
	chargedExternally bool,
) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if entry.Kind == domain.EntryKindWalletDebit {
		ok, err := s.walletRepo.DebitBalance(ctx, dbTx, wallet.ID, order.TotalCents)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("debit wallet: %w", err))
		}
		if !ok {
			// Lost the balance race after the advisory check.
			_ = dbTx.Rollback(ctx)
			s.failOrder(ctx, order, entry)
			return apperror.ErrInsufficientFunds()
		}
	}

	for _, line := range order.Lines {
		ok, err := s.productRepo.DecrementStock(ctx, dbTx, line.ProductID, line.Quantity)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("decrement stock: %w", err))
		}
		if !ok {
			_ = dbTx.Rollback(ctx)
			if chargedExternally {
				s.voidCharge(ctx, order, line.ProductID)
			}
			s.failOrder(ctx, order, entry)
			return apperror.ErrInsufficientStock(line.ProductName)
		}
	}

	if err := s.ledgerRepo.UpdateStatus(ctx, dbTx, entry.ID, domain.EntryStatusCompleted); err != nil {
		return apperror.InternalError(fmt.Errorf("complete ledger entry: %w", err))
	}
	if err := s.orderRepo.UpdateStatus(ctx, dbTx, order.ID, domain.OrderStatusCompleted, domain.PaymentStatusPaid); err != nil {
		return apperror.InternalError(fmt.Errorf("complete order: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit finalize: %w", err))
	}

	now := time.Now().UTC()
	order.Status = domain.OrderStatusCompleted
	order.PaymentStatus = domain.PaymentStatusPaid
	order.UpdatedAt = now
	order.SettledAt = &now
	entry.Status = domain.EntryStatusCompleted
	entry.CompletedAt = &now
	if entry.Kind == domain.EntryKindWalletDebit {
		wallet.BalanceCents -= order.TotalCents
	}
	return nil
}

// voidCharge compensates a captured card charge whose order cannot be
// finalized. A failed void leaves the charge standing, so it is logged
// at error level for manual refund.
func (s *SettlementServiceImpl) voidCharge(ctx context.Context, order *domain.Order, productID uuid.UUID) {
	if err := s.gateway.VoidPayment(ctx, order.ID); err != nil {
		s.log.Error().
			Err(err).
			Str("order_id", order.ID.String()).
			Str("product_id", productID.String()).
			Msg("card charge captured but stock exhausted; void failed, manual refund required")
		return
	}
	s.log.Warn().
		Str("order_id", order.ID.String()).
		Str("product_id", productID.String()).
		Msg("card charge voided after stock shortage")
}

// markPending flips a processing order to pending after the gateway
// reported a deferred outcome. The ledger entry stays pending until
// resolution.
func (s *SettlementServiceImpl) markPending(ctx context.Context, order *domain.Order) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.orderRepo.UpdateStatus(ctx, dbTx, order.ID, domain.OrderStatusPending, domain.PaymentStatusPending); err != nil {
		return apperror.InternalError(fmt.Errorf("mark order pending: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit pending: %w", err))
	}
	order.Status = domain.OrderStatusPending
	order.PaymentStatus = domain.PaymentStatusPending
	return nil
}

// failOrder records a failed attempt: entry and order flip to failed, stock
// and balance untouched. Best-effort; a failure here leaves a PROCESSING
// order recoverable by re-query.
func (s *SettlementServiceImpl) failOrder(ctx context.Context, order *domain.Order, entry *domain.LedgerEntry) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to open tx for order failure")
		return
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.ledgerRepo.UpdateStatus(ctx, dbTx, entry.ID, domain.EntryStatusFailed); err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to mark ledger entry failed")
		return
	}
	if err := s.orderRepo.UpdateStatus(ctx, dbTx, order.ID, domain.OrderStatusFailed, domain.PaymentStatusFailed); err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to mark order failed")
		return
	}
	if err := dbTx.Commit(ctx); err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to commit order failure")
		return
	}
	order.Status = domain.OrderStatusFailed
	order.PaymentStatus = domain.PaymentStatusFailed
	entry.Status = domain.EntryStatusFailed
}

// CancelOrder cancels a pending or processing order. Stock and posted
// ledger history stay untouched; an unresolved pending entry flips to
// failed so it can never complete later.
func (s *SettlementServiceImpl) CancelOrder(ctx context.Context, req ports.CancelRequest) (*domain.Order, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, req.OrderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}
	if !order.IsCancellable() {
		return nil, apperror.ErrOrderNotCancellable()
	}

	entries, err := s.ledgerRepo.GetByOrderID(ctx, order.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load ledger entries: %w", err))
	}
	for _, e := range entries {
		if e.Status == domain.EntryStatusPending {
			if err := s.ledgerRepo.UpdateStatus(ctx, dbTx, e.ID, domain.EntryStatusFailed); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("fail pending entry: %w", err))
			}
		}
	}

	if err := s.orderRepo.UpdateStatus(ctx, dbTx, order.ID, domain.OrderStatusCancelled, order.PaymentStatus); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("cancel order: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit cancel: %w", err))
	}

	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = time.Now().UTC()

	s.watcher.Cancel(order.ID)
	s.cacheResult(ctx, order.CheckoutRef, &ports.SettleResult{Order: order, Pending: false})
	s.publish(orderEvent(domain.EventOrderUpdated, order))

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("reason", req.Reason).
		Msg("order cancelled")

	return order, nil
}

// GetOrder returns an order with its lines.
func (s *SettlementServiceImpl) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}
	return order, nil
}

// AttachChainTx links a submitted transfer to a pending order and starts
// the bounded confirmation watch.
func (s *SettlementServiceImpl) AttachChainTx(ctx context.Context, orderID uuid.UUID, txHash string) error {
	if txHash == "" {
		return apperror.Validation("transaction hash required")
	}
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("load order: %w", err))
	}
	if order == nil {
		return apperror.ErrNotFound("order")
	}
	if order.Status != domain.OrderStatusPending {
		return apperror.ErrOrderNotPending()
	}

	entries, err := s.ledgerRepo.GetByOrderID(ctx, order.ID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("load ledger entries: %w", err))
	}
	var pending *domain.LedgerEntry
	for i := range entries {
		if entries[i].Kind == domain.EntryKindChainTransfer && entries[i].Status == domain.EntryStatusPending {
			pending = &entries[i]
			break
		}
	}
	if pending == nil {
		return apperror.ErrOrderNotPending()
	}

	if err := s.ledgerRepo.SetTxHash(ctx, pending.ID, txHash); err != nil {
		return apperror.InternalError(fmt.Errorf("attach tx hash: %w", err))
	}

	s.watcher.Watch(order.ID, txHash, func(confirmed bool) {
		resolveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.ResolveChain(resolveCtx, txHash, confirmed); err != nil {
			s.log.Error().Err(err).Str("tx_hash", txHash).Msg("failed to resolve chain settlement")
		}
	})

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("tx_hash", txHash).
		Msg("chain transfer attached, watching for confirmation")

	return nil
}

// ResolveChain finishes a pending on-chain settlement. Safe to retry: a
// resolved hash or terminal order is a no-op.
func (s *SettlementServiceImpl) ResolveChain(ctx context.Context, txHash string, confirmed bool) error {
	entry, err := s.ledgerRepo.GetPendingByTxHash(ctx, txHash)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lookup pending entry: %w", err))
	}
	if entry == nil {
		return nil // Already resolved.
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, entry.OrderID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if order == nil || order.IsTerminal() {
		return nil // Cancelled or resolved while waiting.
	}

	if !confirmed {
		if err := s.ledgerRepo.UpdateStatus(ctx, dbTx, entry.ID, domain.EntryStatusFailed); err != nil {
			return apperror.InternalError(fmt.Errorf("fail entry: %w", err))
		}
		if err := s.orderRepo.UpdateStatus(ctx, dbTx, order.ID, domain.OrderStatusFailed, domain.PaymentStatusFailed); err != nil {
			return apperror.InternalError(fmt.Errorf("fail order: %w", err))
		}
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit chain failure: %w", err))
		}
		order.Status = domain.OrderStatusFailed
		order.PaymentStatus = domain.PaymentStatusFailed
		if err := s.idempCache.Delete(ctx, order.CheckoutRef); err != nil {
			s.log.Warn().Err(err).Str("checkout_ref", order.CheckoutRef).Msg("failed to evict stale pending result")
		}
		s.publish(orderEvent(domain.EventChainConfirmation, order))
		s.publish(orderEvent(domain.EventSettlementFailed, order))
		s.log.Info().Str("order_id", order.ID.String()).Str("tx_hash", txHash).Msg("chain transfer failed")
		return nil
	}

	for _, line := range order.Lines {
		ok, err := s.productRepo.DecrementStock(ctx, dbTx, line.ProductID, line.Quantity)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("decrement stock: %w", err))
		}
		if !ok {
			// The transfer confirmed but stock ran out while waiting.
			_ = dbTx.Rollback(ctx)
			s.log.Error().
				Str("order_id", order.ID.String()).
				Str("product_id", line.ProductID.String()).
				Msg("chain transfer confirmed but stock exhausted; manual refund required")
			s.failOrder(ctx, order, entry)
			s.publish(orderEvent(domain.EventSettlementFailed, order))
			return apperror.ErrInsufficientStock(line.ProductName)
		}
	}

	if err := s.ledgerRepo.UpdateStatus(ctx, dbTx, entry.ID, domain.EntryStatusCompleted); err != nil {
		return apperror.InternalError(fmt.Errorf("complete entry: %w", err))
	}
	if err := s.orderRepo.UpdateStatus(ctx, dbTx, order.ID, domain.OrderStatusCompleted, domain.PaymentStatusPaid); err != nil {
		return apperror.InternalError(fmt.Errorf("complete order: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit chain completion: %w", err))
	}

	now := time.Now().UTC()
	order.Status = domain.OrderStatusCompleted
	order.PaymentStatus = domain.PaymentStatusPaid
	order.SettledAt = &now
	s.cacheResult(ctx, order.CheckoutRef, &ports.SettleResult{Order: order, Pending: false})
	s.publish(orderEvent(domain.EventChainConfirmation, order))
	s.publish(orderEvent(domain.EventSettlementCompleted, order))
	s.log.Info().Str("order_id", order.ID.String()).Str("tx_hash", txHash).Msg("chain transfer confirmed, order completed")
	return nil
}

// cacheResult stores the settlement outcome for the fast idempotency path.
// nil result clears nothing; caching is always best-effort.
func (s *SettlementServiceImpl) cacheResult(ctx context.Context, ref string, result *ports.SettleResult) {
	if result == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.idempCache.Set(ctx, ref, raw, s.params.ResultTTL); err != nil {
		s.log.Warn().Err(err).Str("checkout_ref", ref).Msg("failed to cache settlement result")
	}
}

func (s *SettlementServiceImpl) publish(event domain.Event) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}

// orderEvent builds the notification for an order's current state.
func orderEvent(eventType domain.EventType, order *domain.Order) domain.Event {
	ev := domain.NewEvent(eventType)
	ev.UserID = order.UserID
	deviceID := order.DeviceID
	merchantID := order.MerchantID
	orderID := order.ID
	ev.DeviceID = &deviceID
	ev.MerchantID = &merchantID
	ev.OrderID = &orderID
	ev.Data = map[string]interface{}{
		"order_number":   order.OrderNumber,
		"status":         string(order.Status),
		"payment_status": string(order.PaymentStatus),
		"total_cents":    order.TotalCents,
		"currency":       order.Currency,
	}
	return ev
}

// generateOrderNumber builds a human-readable order number.
func generateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(uuid.New().String()[:8])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}
