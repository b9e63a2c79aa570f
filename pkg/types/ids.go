package types

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	orderNumberPrefix   = "ORD-"
	transactionIDPrefix = "TXN-"
	orderNumberLayout   = "20060102150405"
)

// NewOrderNumber returns ORD-<yyyyMMddHHmmss>-<4 random digits>.
// Uniqueness is not guaranteed; callers retry on a unique-constraint violation.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("%s%s-%04d", orderNumberPrefix, now.Format(orderNumberLayout), rand.IntN(10000))
}

// NewTransactionID returns TXN- followed by 16 uppercase hex characters taken from a random UUID.
// Refund transaction ids use the same rule.
func NewTransactionID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return transactionIDPrefix + strings.ToUpper(hex[:16])
}
