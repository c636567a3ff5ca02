package airdrop

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Chain is the remote node the airdrop talks to.
type Chain interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	// TransactionCount returns the pending nonce of addr.
	TransactionCount(ctx context.Context, addr common.Address) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	// HasTransaction reports whether the node knows hash, pooled or mined.
	HasTransaction(ctx context.Context, hash common.Hash) (bool, error)
	// WaitForReceipt blocks until the receipt is available or ctx expires.
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Store persists the configuration, recipients and transactions.
// Listing methods return records in ascending ID order.
type Store interface {
	Config() (*Config, error)
	Recipients() ([]*Recipient, error)
	Recipient(id uint64) (*Recipient, error)
	Transactions() ([]*Transaction, error)
	TransactionsByStatus(status Status) ([]*Transaction, error)
	// Update runs fn and commits every put it made atomically. Nothing is
	// written when fn returns an error.
	Update(fn func(w Writer) error) error
}

// Writer stages writes inside Store.Update. Records with a zero ID get the
// next free ID assigned before they are stored.
type Writer interface {
	PutConfig(cfg *Config) error
	PutRecipient(r *Recipient) error
	PutTransaction(tx *Transaction) error
}
