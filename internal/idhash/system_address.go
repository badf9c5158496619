package idhash

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"

	"prize-ledger/internal/domain"
)

// ProgramSeed is the namespace seed mixed into every system address.
const ProgramSeed = "prize-ledger"

// pdaMarker is the suffix of every program-derived address hash input.
const pdaMarker = "ProgramDerivedAddress"

// ErrNoSystemAddress is returned when no bump yields an off-curve address.
var ErrNoSystemAddress = errors.New("no off-curve system address for seeds")

// DeriveSystemAddress derives the system account address for a ledger instance.
// The address is a program-derived address: a SHA256 of the seeds that is not a
// valid ed25519 point, so no private key can ever sign for it.
func DeriveSystemAddress(ledgerID string) (domain.Address, uint8, error) {
	seeds := [][]byte{
		[]byte(ProgramSeed),
		[]byte(ledgerID),
	}
	return derivePDA(seeds)
}

// derivePDA tries bumps from 255 down and returns the first off-curve hash.
func derivePDA(seeds [][]byte) (domain.Address, uint8, error) {
	for bump := 255; bump > 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write([]byte(ProgramSeed))
		h.Write([]byte(pdaMarker))

		var addr domain.Address
		copy(addr[:], h.Sum(nil))

		if !IsOnCurve(addr) {
			return addr, uint8(bump), nil
		}
	}
	return domain.Address{}, 0, ErrNoSystemAddress
}

// IsOnCurve reports whether the address decodes to a valid ed25519 point.
func IsOnCurve(addr domain.Address) bool {
	_, err := new(edwards25519.Point).SetBytes(addr[:])
	return err == nil
}
