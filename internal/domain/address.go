package domain

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressLen is the byte length of an account address (an ed25519-sized key).
const AddressLen = 32

// ErrInvalidAddress is returned when an address string does not decode to 32 bytes.
var ErrInvalidAddress = errors.New("invalid address")

// Address identifies a ledger account. Its text form is base58.
type Address [AddressLen]byte

// ZeroAddress is the mint source and burn sink of Transfer events.
var ZeroAddress Address

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	var a Address
	if s == "" {
		return a, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != AddressLen {
		return a, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidAddress, len(raw), AddressLen)
	}
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
