// Package chainutil holds address, hash and unit helpers shared by both chains.
package chainutil

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ErrFractionalUnits is returned when an amount has more decimals than the token.
var ErrFractionalUnits = errors.New("amount has more precision than the token supports")

// IsTxHash reports whether s is a 0x-prefixed 32-byte hex string.
func IsTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// Normalize lower-cases and trims an address or hash.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ToBaseUnits converts a token amount into its integer base units exactly.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative: %s", amount)
	}
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, ErrFractionalUnits
	}
	return shifted.BigInt(), nil
}

// ToBaseUnitsFloor converts an amount into base units, dropping sub-unit dust.
func ToBaseUnitsFloor(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts integer base units back into a token amount.
func FromBaseUnits(units *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(units, -decimals)
}
