package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Security & Device Authentication (SEC) ----

func ErrInvalidAccessKey() *AppError {
	return New("SEC_001", "Invalid access key", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New("SEC_003", "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New("SEC_004", "Nonce has already been used", http.StatusForbidden)
}

// ---- Settlement & Payment (PAY) ----

func ErrInsufficientFunds() *AppError {
	return New("PAY_001", "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New("PAY_002", "Invalid amount", http.StatusBadRequest)
}

func ErrSettlementInProgress() *AppError {
	return New("PAY_003", "Settlement already in progress for this checkout", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrApprovalLimitExceeded() *AppError {
	return New("PAY_005", "Order total exceeds auto-approval limit", http.StatusUnprocessableEntity)
}

func ErrInsufficientStock(product string) *AppError {
	return New("PAY_006", fmt.Sprintf("Insufficient stock for %s", product), http.StatusUnprocessableEntity)
}

func ErrPaymentDeclined() *AppError {
	return New("PAY_007", "Payment was declined", http.StatusPaymentRequired)
}

func ErrWalletNotActive() *AppError {
	return New("PAY_008", "Wallet is not active", http.StatusUnprocessableEntity)
}

func ErrFaceAuthInactive() *AppError {
	return New("PAY_009", "Face authentication is not active for this user", http.StatusForbidden)
}

func ErrDeviceNotOnline() *AppError {
	return New("PAY_010", "Device is not online", http.StatusUnprocessableEntity)
}

func ErrOrderNotCancellable() *AppError {
	return New("PAY_011", "Order is not in a cancellable state", http.StatusConflict)
}

func ErrOrderNotPending() *AppError {
	return New("PAY_012", "Order is not awaiting on-chain confirmation", http.StatusConflict)
}

// ---- Identity & Enrollment (IDY) ----

func ErrEmbeddingDimension(want, got int) *AppError {
	return New("IDY_001", fmt.Sprintf("Embedding dimension mismatch: want %d, got %d", want, got), http.StatusBadRequest)
}

func ErrEnrollmentQuality() *AppError {
	return New("IDY_002", "Enrollment sample quality below minimum", http.StatusUnprocessableEntity)
}

func ErrEnrollmentSamples(min int) *AppError {
	return New("IDY_003", fmt.Sprintf("At least %d enrollment samples required", min), http.StatusUnprocessableEntity)
}

// ---- Sessions (SES) ----

func ErrNoActiveSession() *AppError {
	return New("SES_001", "No active session for device", http.StatusNotFound)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a PAY_002-style validation error.
func Validation(message string) *AppError {
	return New("PAY_002", message, http.StatusBadRequest)
}
