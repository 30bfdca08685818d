package app

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
)

// newReference generates a unique business reference for one ledger operation,
// e.g. "TX-20260830-4F21A7C3B9". Callers may supply their own reference instead;
// either way the two sides of a transfer share the base with "-D"/"-C" suffixes.
func newReference() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return fmt.Sprintf("TX-%s-%s", time.Now().UTC().Format("20060102"), raw[:10])
}

// pairReferences derives the debit- and credit-side references of a transfer
// from one shared base.
func pairReferences(base string) (debit, credit string) {
	return base + "-D", base + "-C"
}

// referenceBase strips a pair suffix, if any, so a stored entry can be traced
// back to its operation.
func referenceBase(reference string) string {
	ref := strings.TrimSuffix(reference, "-D")
	return strings.TrimSuffix(ref, "-C")
}

// newAccountNumber generates a candidate account number, "SN-" followed by nine
// digits. Uniqueness is checked against the store by the caller.
func newAccountNumber() string {
	return fmt.Sprintf("SN-%d", 100000000+rand.Int64N(900000000))
}
