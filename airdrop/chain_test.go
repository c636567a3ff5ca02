package airdrop_test

import (
	"bytes"
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/OnGridSystems/erc20-airdrop-cli/airdrop"
)

var (
	balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	decimalsSelector  = crypto.Keccak256([]byte("decimals()"))[:4]
	transferSelector  = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
)

var _ airdrop.Chain = (*fakeChain)(nil)

// fakeChain is an in-memory node: a pending nonce counter, fixed balances and
// a receipt for everything it accepted.
type fakeChain struct {
	chainID      *big.Int
	nonce        uint64
	ethBalance   *big.Int
	tokenBalance *big.Int
	decimals     uint8

	transferErr    error
	transferResult []byte
	estimateErr    error
	estimateFailAt int // 1-based EstimateGas call that fails, 0 never
	sendErr        error
	receiptStatus  uint64

	estimateCalls int
	sent          []*types.Transaction
}

func newFakeChain(nonce uint64) *fakeChain {
	return &fakeChain{
		chainID:       big.NewInt(97),
		nonce:         nonce,
		ethBalance:    big.NewInt(1_000_000_000_000_000_000),
		tokenBalance:  new(big.Int).Mul(big.NewInt(1000), big.NewInt(1_000_000_000_000_000_000)),
		decimals:      18,
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeChain) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return f.ethBalance, nil
}

func (f *fakeChain) TransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("missing selector")
	}
	switch {
	case bytes.Equal(msg.Data[:4], balanceOfSelector):
		return word(f.tokenBalance), nil
	case bytes.Equal(msg.Data[:4], decimalsSelector):
		return word(big.NewInt(int64(f.decimals))), nil
	case bytes.Equal(msg.Data[:4], transferSelector):
		if f.transferErr != nil {
			return nil, f.transferErr
		}
		if f.transferResult != nil {
			return f.transferResult, nil
		}
		return word(big.NewInt(1)), nil
	}
	return nil, errors.New("unknown selector")
}

func (f *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.estimateCalls++
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	if f.estimateFailAt != 0 && f.estimateCalls == f.estimateFailAt {
		return 0, errors.New("execution reverted: ERC20: transfer amount exceeds balance")
	}
	return 52_000, nil
}

func (f *fakeChain) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	f.sent = append(f.sent, &tx)
	f.nonce++
	return tx.Hash(), nil
}

func (f *fakeChain) HasTransaction(ctx context.Context, hash common.Hash) (bool, error) {
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeChain) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			return &types.Receipt{
				Status:      f.receiptStatus,
				TxHash:      hash,
				BlockNumber: big.NewInt(100),
				GasUsed:     51_000,
			}, nil
		}
	}
	<-ctx.Done()
	return nil, ctx.Err()
}
