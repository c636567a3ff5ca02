package airdrop

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// ERC20ABI holds the subset of EIP-20 the airdrop calls.
const ERC20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var erc20ABI = mustParseABI(ERC20ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Errorf("failed to initialize ERC20 ABI: %s", err))
	}
	return parsed
}

// Token is a read-only view of an ERC-20 contract.
type Token struct {
	Address common.Address
	chain   Chain
}

func NewToken(addr common.Address, chain Chain) *Token {
	return &Token{Address: addr, chain: chain}
}

// BalanceOf calls balanceOf(holder).
func (t *Token) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, err
	}
	out, err := t.call(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenQuery, err)
	}
	var balance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&balance, "balanceOf", out); err != nil {
		return nil, fmt.Errorf("%w: %s returned %x: %v", ErrTokenQuery, t.Address, out, err)
	}
	return balance, nil
}

// Decimals calls decimals().
func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := t.call(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenQuery, err)
	}
	var decimals uint8
	if err := erc20ABI.UnpackIntoInterface(&decimals, "decimals", out); err != nil {
		return 0, fmt.Errorf("%w: %s returned %x: %v", ErrTokenQuery, t.Address, out, err)
	}
	return decimals, nil
}

func (t *Token) call(ctx context.Context, data []byte) ([]byte, error) {
	to := t.Address
	return t.chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data})
}

// DryRun executes the transfer as eth_call. A revert, or a token that returns
// false instead of reverting, yields ErrDryRunReverted.
func DryRun(ctx context.Context, chain Chain, payload *TransferPayload) error {
	out, err := chain.CallContract(ctx, payload.CallMsg())
	if err != nil {
		if reason, ok := revertReason(err); ok {
			return fmt.Errorf("%w: %s", ErrDryRunReverted, reason)
		}
		return err
	}
	// Tokens that predate EIP-20 finalisation return nothing.
	if len(out) == 0 {
		return nil
	}
	var ok bool
	if err := erc20ABI.UnpackIntoInterface(&ok, "transfer", out); err != nil {
		return fmt.Errorf("%w: undecodable transfer result %x", ErrDryRunReverted, out)
	}
	if !ok {
		return fmt.Errorf("%w: transfer returned false", ErrDryRunReverted)
	}
	return nil
}

// revertReason recognises an execution revert and extracts its reason string.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if reason, unpackErr := abi.UnpackRevert(common.FromHex(hexData)); unpackErr == nil {
				return reason, true
			}
		}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return err.Error(), true
	}
	return "", false
}
