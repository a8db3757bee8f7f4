package ledger

import (
	"fmt"

	"github.com/memeperp/engine/internal/types"
)

// Pebble key schema for account persistence. Grounded on
// pkg/app/core/account/keys.go: prefix-based keys for range scans,
// lexicographic ordering, address as primary key.
const prefixAccount = "ledger:acc:"

func accountKey(addr types.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixAccount, addr.Hex()))
}
