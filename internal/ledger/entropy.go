package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
)

// DrawInput is the observable context of a lottery draw.
type DrawInput struct {
	Time          time.Time
	BlockSeed     [32]byte // rolling hash of committed operations
	Recipient     domain.Address
	TransferCount uint64
}

// EntropySource produces the random value tested by the lottery.
type EntropySource interface {
	Draw(in DrawInput) *uint256.Int
}

// BlockEntropy hashes the draw context. Anyone who can see and order pending
// operations can predict and bias the outcome; swap in CryptoEntropy where that
// matters.
type BlockEntropy struct{}

// Draw returns SHA256(time || block seed || recipient || transfer count).
func (BlockEntropy) Draw(in DrawInput) *uint256.Int {
	var buf [8 + 32 + domain.AddressLen + 8]byte
	binary.BigEndian.PutUint64(buf[0:], uint64(in.Time.Unix()))
	copy(buf[8:], in.BlockSeed[:])
	copy(buf[40:], in.Recipient[:])
	binary.BigEndian.PutUint64(buf[40+domain.AddressLen:], in.TransferCount)

	sum := sha256.Sum256(buf[:])
	return new(uint256.Int).SetBytes32(sum[:])
}

// CryptoEntropy ignores the draw context and reads the operating system CSPRNG.
type CryptoEntropy struct{}

// Draw returns 256 random bits.
func (CryptoEntropy) Draw(DrawInput) *uint256.Int {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto entropy: " + err.Error())
	}
	return new(uint256.Int).SetBytes32(b[:])
}

// EntropyFunc adapts a function to EntropySource.
type EntropyFunc func(in DrawInput) *uint256.Int

// Draw calls f.
func (f EntropyFunc) Draw(in DrawInput) *uint256.Int {
	return f(in)
}
