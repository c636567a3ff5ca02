package airdrop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferRequest carries everything needed to build one transfer.
type TransferRequest struct {
	ChainID   *big.Int
	From      common.Address
	Recipient common.Address
	Amount    string
	Nonce     uint64
	GasPrice  *big.Int
	Gas       uint64
}

// Builder produces unsigned ERC-20 transfer payloads for one token.
type Builder struct {
	token    common.Address
	decimals uint8
}

func NewBuilder(token common.Address, decimals uint8) *Builder {
	return &Builder{token: token, decimals: decimals}
}

// Build validates req and encodes transfer(recipient, amount) against the
// token contract. It performs no I/O.
func (b *Builder) Build(req TransferRequest) (*TransferPayload, error) {
	if req.Recipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero recipient", ErrInvalidAddress)
	}
	if b.token == (common.Address{}) {
		return nil, fmt.Errorf("%w: token contract is not set", ErrInvalidAddress)
	}
	if req.GasPrice == nil || req.GasPrice.Sign() < 0 {
		return nil, ErrInvalidGasPrice
	}
	if req.ChainID == nil || req.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id is not set, run 'web3' or 'update'")
	}
	units, err := ToBaseUnits(req.Amount, b.decimals)
	if err != nil {
		return nil, err
	}
	data, err := erc20ABI.Pack("transfer", req.Recipient, units)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer parameters: %s", err)
	}
	return &TransferPayload{
		ChainID:  new(big.Int).Set(req.ChainID),
		From:     req.From,
		To:       b.token,
		Nonce:    req.Nonce,
		GasPrice: new(big.Int).Set(req.GasPrice),
		Gas:      req.Gas,
		Data:     data,
	}, nil
}
