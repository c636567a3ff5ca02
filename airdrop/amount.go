package airdrop

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var decimalPattern = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)

// ParseAddress accepts only EIP-55 checksummed hex addresses.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	addr := common.HexToAddress(s)
	if addr.Hex() != s {
		return common.Address{}, fmt.Errorf("%w: %q (expected %s)", ErrInvalidAddress, s, addr.Hex())
	}
	return addr, nil
}

// ToBaseUnits converts a decimal token amount into the token's integer base
// unit. The conversion is exact: amounts that do not land on a whole base unit
// are rejected rather than truncated.
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if !decimalPattern.MatchString(amount) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	value.Mul(value, new(big.Rat).SetInt(pow10(decimals)))

	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrAmountTooSmall, amount)
	}
	if !value.IsInt() {
		if value.Cmp(big.NewRat(1, 1)) < 0 {
			return nil, fmt.Errorf("%w: %s", ErrAmountTooSmall, amount)
		}
		return nil, fmt.Errorf("%w: %s with %d decimals", ErrAmountPrecision, amount, decimals)
	}
	units := new(big.Int).Set(value.Num())
	if _, overflow := uint256.FromBig(units); overflow {
		return nil, fmt.Errorf("%w: %s", ErrAmountOverflow, amount)
	}
	return units, nil
}

// FormatUnits renders base units as a decimal token amount.
func FormatUnits(units *big.Int, decimals uint8) string {
	if units == nil {
		return "0"
	}
	scale := pow10(decimals)
	whole, frac := new(big.Int).QuoRem(new(big.Int).Abs(units), scale, new(big.Int))

	sign := ""
	if units.Sign() < 0 {
		sign = "-"
	}
	if frac.Sign() == 0 {
		return sign + whole.String()
	}
	fracStr := frac.String()
	fracStr = strings.Repeat("0", int(decimals)-len(fracStr)) + fracStr
	return sign + whole.String() + "." + strings.TrimRight(fracStr, "0")
}

// ParseGasPrice accepts a wei integer or a decimal with a 'gwei' suffix.
func ParseGasPrice(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	if strings.HasSuffix(lower, "gwei") {
		wei, err := ToBaseUnits(strings.TrimSpace(strings.TrimSuffix(lower, "gwei")), 9)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidGasPrice, s, err)
		}
		return wei, nil
	}
	wei, ok := new(big.Int).SetString(s, 10)
	if !ok || wei.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGasPrice, s)
	}
	if _, overflow := uint256.FromBig(wei); overflow {
		return nil, fmt.Errorf("%w: %q overflows uint256", ErrInvalidGasPrice, s)
	}
	return wei, nil
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
