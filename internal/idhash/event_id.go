package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"prize-ledger/internal/domain"
)

// ComputeEventID computes a deterministic event id using SHA256.
// Formula: SHA256(ledger_id|seq|kind)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(ledgerID string, seq uint64, kind domain.EventKind) string {
	data := fmt.Sprintf("%s|%d|%s", ledgerID, seq, string(kind))

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// AddressFromSeed derives an account address from a free-form seed.
// Used for well-known accounts in tests and local setups.
func AddressFromSeed(seed string) domain.Address {
	return domain.Address(sha256.Sum256([]byte(seed)))
}
