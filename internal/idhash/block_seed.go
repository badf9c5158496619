package idhash

import (
	"crypto/sha256"
	"encoding/binary"
)

// GenesisBlockSeed is the block seed of a ledger before its first event.
func GenesisBlockSeed(ledgerID string) [32]byte {
	return sha256.Sum256([]byte(ledgerID))
}

// NextBlockSeed advances the rolling block seed past the event with seq.
// Formula: SHA256(prev || seq big-endian)
func NextBlockSeed(prev [32]byte, seq uint64) [32]byte {
	var buf [40]byte
	copy(buf[:], prev[:])
	binary.BigEndian.PutUint64(buf[32:], seq)
	return sha256.Sum256(buf[:])
}
