// Package identity carries the connected wallet through request contexts.
//
// A context without an address means no wallet is connected; every
// submission entry point refuses to run in that case.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoWallet is returned when a context carries no wallet address.
var ErrNoWallet = errors.New("no wallet connected")

// Address is a normalized (lower-case, 0x-prefixed) wallet address.
type Address string

func (a Address) String() string { return string(a) }

// ParseAddress accepts "0x" followed by 40 hex digits in any case.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return "", fmt.Errorf("invalid address %q: want 0x followed by 40 hex digits", s)
	}
	for _, r := range s[2:] {
		if !isHex(r) {
			return "", fmt.Errorf("invalid address %q: non-hex character %q", s, r)
		}
	}
	return Address("0x" + strings.ToLower(s[2:])), nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

type contextKey string

const addressKey contextKey = "wallet_address"

// WithAddress attaches the connected wallet to ctx.
func WithAddress(ctx context.Context, a Address) context.Context {
	return context.WithValue(ctx, addressKey, a)
}

// FromContext returns the connected wallet, if any.
func FromContext(ctx context.Context) (Address, bool) {
	a, ok := ctx.Value(addressKey).(Address)
	return a, ok && a != ""
}

// Require returns the connected wallet or ErrNoWallet.
func Require(ctx context.Context) (Address, error) {
	a, ok := FromContext(ctx)
	if !ok {
		return "", ErrNoWallet
	}
	return a, nil
}
