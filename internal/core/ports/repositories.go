package ports

import (
	"context"

	"face-checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// IdentityRepository defines persistence operations for face enrollments.
type IdentityRepository interface {
	Create(ctx context.Context, identity *domain.EnrolledIdentity) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.EnrolledIdentity, error)
	GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*domain.EnrolledIdentity, error)
	ListActive(ctx context.Context) ([]domain.EnrolledIdentity, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

// WalletRepository defines persistence operations for wallets.
// DebitBalance is a conditional update: it decrements only when the balance
// covers the amount, and reports whether a row changed. This is the
// concurrency guard for the check-then-act race on custodial balances.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetDefaultByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	DebitBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amountCents int64) (bool, error)
	CreditBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amountCents int64) error
}

// PaymentMethodRepository defines persistence operations for stored payment methods.
type PaymentMethodRepository interface {
	Create(ctx context.Context, method *domain.PaymentMethod) error
	GetDefaultByUserID(ctx context.Context, userID uuid.UUID) (*domain.PaymentMethod, error)
}

// ProductRepository defines persistence operations for catalog products.
// DecrementStock is conditional like DebitBalance: no row changes when
// stock would go negative.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int) (bool, error)
}

// DeviceRepository defines persistence operations for checkout devices.
type DeviceRepository interface {
	Create(ctx context.Context, device *domain.Device) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Device, error)
	GetByAccessKey(ctx context.Context, accessKey string) (*domain.Device, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.DeviceStatus) error
	TouchLastSeen(ctx context.Context, id uuid.UUID) error
}

// OrderRepository defines persistence operations for orders.
// Create persists the order and its lines as one unit inside the given
// transaction; the unique checkout_ref constraint is the durable
// idempotency guard for settlement retries.
type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error)
	GetByCheckoutRef(ctx context.Context, checkoutRef string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.OrderStatus, paymentStatus domain.PaymentStatus) error
}

// LedgerRepository defines persistence operations for ledger entries.
// Entries are append-only; UpdateStatus only moves PENDING entries to a
// terminal state and never rewrites completed history.
type LedgerRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]domain.LedgerEntry, error)
	GetPendingByTxHash(ctx context.Context, txHash string) (*domain.LedgerEntry, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.EntryStatus) error
	SetTxHash(ctx context.Context, id uuid.UUID, txHash string) error
	SumCompletedByWallet(ctx context.Context, walletID uuid.UUID) (int64, error)
}

// AuditRepository defines persistence for audit logs.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
