package domain

import (
	"github.com/google/uuid"
)

// BuildSessionCheckoutRef derives the idempotency reference for a
// settlement triggered by a device session. One session settles at most
// once, so the session id anchors the ref.
func BuildSessionCheckoutRef(sessionID uuid.UUID) string {
	return "chk-" + sessionID.String()
}

// BuildClientCheckoutRef scopes a client-supplied settlement reference to
// its merchant so references cannot collide across merchants.
func BuildClientCheckoutRef(merchantID uuid.UUID, referenceID string) string {
	return merchantID.String() + ":" + referenceID
}
