package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"face-checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// In-memory repository implementations backing the integration stack.
// Stored rows are only mutated under each repo's lock and getters return
// copies, so concurrent callers never observe a half-written update. The
// conditional debit and stock decrement keep the same guarantee the
// conditional UPDATEs give against PostgreSQL.

// --- In-Memory User Repo ---

type inMemoryUserRepo struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	return &inMemoryUserRepo{users: make(map[uuid.UUID]*domain.User)}
}

func (r *inMemoryUserRepo) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return fmt.Errorf("email already exists")
		}
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *inMemoryUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// --- In-Memory Identity Repo ---

type inMemoryIdentityRepo struct {
	mu         sync.RWMutex
	identities map[uuid.UUID]*domain.EnrolledIdentity
	order      []uuid.UUID // Insertion order keeps ListActive deterministic
}

func newInMemoryIdentityRepo() *inMemoryIdentityRepo {
	return &inMemoryIdentityRepo{identities: make(map[uuid.UUID]*domain.EnrolledIdentity)}
}

func (r *inMemoryIdentityRepo) Create(ctx context.Context, identity *domain.EnrolledIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *identity
	r.identities[identity.ID] = &cp
	r.order = append(r.order, identity.ID)
	return nil
}

func (r *inMemoryIdentityRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.EnrolledIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.identities[id]
	if !ok {
		return nil, nil
	}
	cp := *identity
	return &cp, nil
}

func (r *inMemoryIdentityRepo) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*domain.EnrolledIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		identity := r.identities[id]
		if identity.UserID == userID && identity.Active {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryIdentityRepo) ListActive(ctx context.Context) ([]domain.EnrolledIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.EnrolledIdentity, 0, len(r.order))
	for _, id := range r.order {
		if identity := r.identities[id]; identity.Active {
			out = append(out, *identity)
		}
	}
	return out, nil
}

func (r *inMemoryIdentityRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.identities[id]
	if !ok {
		return fmt.Errorf("identity not found")
	}
	identity.Active = false
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryIdentityRepo) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if identity, ok := r.identities[id]; ok {
		now := time.Now().UTC()
		identity.LastUsedAt = &now
	}
	return nil
}

// --- In-Memory Wallet Repo ---

type inMemoryWalletRepo struct {
	mu      sync.RWMutex
	wallets map[uuid.UUID]*domain.Wallet
}

func newInMemoryWalletRepo() *inMemoryWalletRepo {
	return &inMemoryWalletRepo{wallets: make(map[uuid.UUID]*domain.Wallet)}
}

func (r *inMemoryWalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *w
	r.wallets[w.ID] = &cp
	return nil
}

func (r *inMemoryWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (r *inMemoryWalletRepo) GetDefaultByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.wallets {
		if w.UserID == userID && w.IsDefault {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

// DebitBalance decrements only when the balance covers the amount, atomically
// under the repo lock.
func (r *inMemoryWalletRepo) DebitBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amountCents int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok || w.BalanceCents < amountCents {
		return false, nil
	}
	w.BalanceCents -= amountCents
	w.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *inMemoryWalletRepo) CreditBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amountCents int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return fmt.Errorf("wallet not found")
	}
	w.BalanceCents += amountCents
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// --- In-Memory Payment Method Repo ---

type inMemoryMethodRepo struct {
	mu      sync.RWMutex
	methods map[uuid.UUID]*domain.PaymentMethod
}

func newInMemoryMethodRepo() *inMemoryMethodRepo {
	return &inMemoryMethodRepo{methods: make(map[uuid.UUID]*domain.PaymentMethod)}
}

func (r *inMemoryMethodRepo) Create(ctx context.Context, m *domain.PaymentMethod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.methods[m.ID] = &cp
	return nil
}

func (r *inMemoryMethodRepo) GetDefaultByUserID(ctx context.Context, userID uuid.UUID) (*domain.PaymentMethod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.methods {
		if m.UserID == userID && m.IsDefault {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

// --- In-Memory Product Repo ---

type inMemoryProductRepo struct {
	mu       sync.RWMutex
	products map[uuid.UUID]*domain.Product
}

func newInMemoryProductRepo() *inMemoryProductRepo {
	return &inMemoryProductRepo{products: make(map[uuid.UUID]*domain.Product)}
}

func (r *inMemoryProductRepo) Create(ctx context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.products[p.ID] = &cp
	return nil
}

func (r *inMemoryProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// DecrementStock refuses to take stock negative; no row changes on shortage.
func (r *inMemoryProductRepo) DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok || !p.Active || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

// --- In-Memory Device Repo ---

type inMemoryDeviceRepo struct {
	mu      sync.RWMutex
	devices map[uuid.UUID]*domain.Device
}

func newInMemoryDeviceRepo() *inMemoryDeviceRepo {
	return &inMemoryDeviceRepo{devices: make(map[uuid.UUID]*domain.Device)}
}

func (r *inMemoryDeviceRepo) Create(ctx context.Context, d *domain.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.devices {
		if existing.AccessKey == d.AccessKey {
			return fmt.Errorf("access key already exists")
		}
	}
	cp := *d
	r.devices[d.ID] = &cp
	return nil
}

func (r *inMemoryDeviceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *inMemoryDeviceRepo) GetByAccessKey(ctx context.Context, accessKey string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.AccessKey == accessKey {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryDeviceRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.DeviceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device not found")
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryDeviceRepo) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		now := time.Now().UTC()
		d.LastSeenAt = &now
	}
	return nil
}

// --- In-Memory Order Repo ---

type inMemoryOrderRepo struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*domain.Order
	byRef  map[string]uuid.UUID
}

func newInMemoryOrderRepo() *inMemoryOrderRepo {
	return &inMemoryOrderRepo{
		orders: make(map[uuid.UUID]*domain.Order),
		byRef:  make(map[string]uuid.UUID),
	}
}

// Create rejects a duplicate checkout_ref the way the unique constraint does
// in PostgreSQL; settlement relies on that error to detect a concurrently
// claimed ref.
func (r *inMemoryOrderRepo) Create(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byRef[o.CheckoutRef]; exists {
		return fmt.Errorf("duplicate checkout_ref %q", o.CheckoutRef)
	}
	r.orders[o.ID] = copyOrder(o)
	r.byRef[o.CheckoutRef] = o.ID
	return nil
}

func (r *inMemoryOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return copyOrder(o), nil
}

func (r *inMemoryOrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryOrderRepo) GetByCheckoutRef(ctx context.Context, checkoutRef string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRef[checkoutRef]
	if !ok {
		return nil, nil
	}
	return copyOrder(r.orders[id]), nil
}

func (r *inMemoryOrderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.OrderStatus, paymentStatus domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("order not found")
	}
	now := time.Now().UTC()
	o.Status = status
	o.PaymentStatus = paymentStatus
	o.UpdatedAt = now
	if status == domain.OrderStatusCompleted && o.SettledAt == nil {
		o.SettledAt = &now
	}
	return nil
}

// all returns every stored order; assertion helper for tests.
func (r *inMemoryOrderRepo) all() []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, copyOrder(o))
	}
	return out
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &cp
}

// --- In-Memory Ledger Repo ---

type inMemoryLedgerRepo struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*domain.LedgerEntry
	order   []uuid.UUID // Insertion order stands in for created_at ordering
}

func newInMemoryLedgerRepo() *inMemoryLedgerRepo {
	return &inMemoryLedgerRepo{entries: make(map[uuid.UUID]*domain.LedgerEntry)}
}

func (r *inMemoryLedgerRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entries[e.ID] = &cp
	r.order = append(r.order, e.ID)
	return nil
}

func (r *inMemoryLedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *inMemoryLedgerRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, id := range r.order {
		if e := r.entries[id]; e.OrderID == orderID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *inMemoryLedgerRepo) GetPendingByTxHash(ctx context.Context, txHash string) (*domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		e := r.entries[id]
		if e.TxHash != nil && *e.TxHash == txHash && e.Status == domain.EntryStatusPending {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

// UpdateStatus only moves PENDING entries, mirroring the guarded UPDATE;
// flipping a terminal entry is a silent no-op.
func (r *inMemoryLedgerRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.EntryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != domain.EntryStatusPending {
		return nil
	}
	e.Status = status
	if status == domain.EntryStatusCompleted {
		now := time.Now().UTC()
		e.CompletedAt = &now
	}
	return nil
}

func (r *inMemoryLedgerRepo) SetTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("ledger entry not found")
	}
	e.TxHash = &txHash
	return nil
}

func (r *inMemoryLedgerRepo) SumCompletedByWallet(ctx context.Context, walletID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sum int64
	for _, e := range r.entries {
		if e.WalletID == walletID && e.Status == domain.EntryStatusCompleted {
			sum += e.AmountCents
		}
	}
	return sum, nil
}

// --- In-Memory Audit Repo ---

type inMemoryAuditRepo struct {
	mu   sync.Mutex
	logs []*domain.AuditLog
}

func newInMemoryAuditRepo() *inMemoryAuditRepo {
	return &inMemoryAuditRepo{}
}

func (r *inMemoryAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.logs = append(r.logs, &cp)
	return nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }
