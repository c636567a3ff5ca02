package airdrop

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

var errAlreadyKnown = errors.New("already known")

// Controller drives the transaction queue through its lifecycle. It handles one
// record at a time and is not safe for concurrent use.
type Controller struct {
	store Store
	chain Chain
	log   log.Logger
}

// NewController wires the queue to its store and chain. chain may be nil for
// operations that never leave the machine (AddRecipient).
func NewController(store Store, chain Chain, logger log.Logger) *Controller {
	if logger == nil {
		logger = log.Root()
	}
	return &Controller{store: store, chain: chain, log: logger}
}

// AddRecipient validates the input and stores a recipient together with its
// NEW transaction.
func (c *Controller) AddRecipient(cfg *Config, address, amount string) (*Recipient, *Transaction, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, nil, err
	}
	units, err := ToBaseUnits(amount, cfg.Decimals)
	if err != nil {
		return nil, nil, err
	}
	rcpt := &Recipient{Address: addr, Amount: strings.TrimSpace(amount), BaseUnits: units}
	tx := &Transaction{Status: StatusNew}

	err = c.store.Update(func(w Writer) error {
		if err := w.PutRecipient(rcpt); err != nil {
			return err
		}
		tx.RecipientID = rcpt.ID
		return w.PutTransaction(tx)
	})
	if err != nil {
		return nil, nil, err
	}
	c.log.Debug("Recipient added", "id", rcpt.ID, "address", addr, "amount", rcpt.Amount, "units", units)
	return rcpt, tx, nil
}

// SetToken points the airdrop at token with the given decimals. Stored base
// units of every recipient are recomputed in the same write as the config.
// Once any transfer has been signed the token and its decimals are frozen and
// a change fails with ErrQueueLocked.
func (c *Controller) SetToken(cfg *Config, token common.Address, decimals uint8) error {
	if token == cfg.Token && decimals == cfg.Decimals {
		return nil
	}
	txs, err := c.store.Transactions()
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if tx.Status != StatusNew {
			return fmt.Errorf("%w: transaction %d is %s", ErrQueueLocked, tx.ID, tx.Status)
		}
	}
	rcpts, err := c.store.Recipients()
	if err != nil {
		return err
	}
	for _, r := range rcpts {
		units, err := ToBaseUnits(r.Amount, decimals)
		if err != nil {
			return fmt.Errorf("recipient %d (%s %s): %w", r.ID, r.Address, r.Amount, err)
		}
		r.BaseUnits = units
	}

	updated := *cfg
	updated.Token = token
	updated.Decimals = decimals
	err = c.store.Update(func(w Writer) error {
		for _, r := range rcpts {
			if err := w.PutRecipient(r); err != nil {
				return err
			}
		}
		return w.PutConfig(&updated)
	})
	if err != nil {
		return err
	}
	*cfg = updated
	c.log.Info("Token updated", "token", token, "decimals", decimals, "recipients", len(rcpts))
	return nil
}

// UpdateResult reports what Update refreshed.
type UpdateResult struct {
	Nonce    uint64
	Resynced int
}

// Update refreshes balances, chain id and account nonce into cfg, persists it,
// then resyncs the signed queue against the fresh nonce.
func (c *Controller) Update(ctx context.Context, cfg *Config) (*UpdateResult, error) {
	chainID, err := c.chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	ethBalance, err := c.chain.BalanceAt(ctx, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance: %w", err)
	}
	tokenBalance, err := NewToken(cfg.Token, c.chain).BalanceOf(ctx, cfg.Address)
	if err != nil {
		return nil, err
	}
	nonce, err := c.chain.TransactionCount(ctx, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to query nonce: %w", err)
	}

	cfg.ChainID = chainID
	cfg.EthBalance = ethBalance
	cfg.TokenBalance = tokenBalance
	cfg.CurrentNonce = nonce
	if err := c.store.Update(func(w Writer) error { return w.PutConfig(cfg) }); err != nil {
		return nil, err
	}
	c.log.Info("Account state refreshed", "address", cfg.Address, "nonce", nonce, "balance", ethBalance, "tokens", tokenBalance)

	resynced, err := c.Resync(ctx, cfg, nonce)
	return &UpdateResult{Nonce: nonce, Resynced: resynced}, err
}

// Resync reassigns the nonces of SIGNED transactions so that they follow
// chainNonce without gaps, re-signing every moved transaction. It writes
// nothing when the queue already lines up.
//
// A SIGNED record below chainNonce whose signed bytes the node already knows
// was broadcast by a send that failed to record it. Such records are marked
// SENT instead of being re-signed, so the transfer is never paid twice.
func (c *Controller) Resync(ctx context.Context, cfg *Config, chainNonce uint64) (int, error) {
	signed, err := c.store.TransactionsByStatus(StatusSigned)
	if err != nil {
		return 0, err
	}
	signed, err = c.recoverBroadcast(ctx, signed, chainNonce)
	if err != nil {
		return 0, err
	}
	plan := PlanResync(signed, chainNonce)
	if len(plan) == 0 {
		c.log.Debug("Signed queue in sync", "nonce", chainNonce, "queued", len(signed))
		return 0, nil
	}
	signer, err := NewSigner(cfg.PrivateKey)
	if err != nil {
		return 0, err
	}

	var (
		done    []*Transaction
		failErr error
		failed  uint64
	)
	for _, r := range plan {
		payload := r.Tx.Payload.WithNonce(r.To)
		_, raw, err := signer.Sign(payload)
		if err != nil {
			failErr, failed = err, r.Tx.ID
			break
		}
		nonce := r.To
		updated := *r.Tx
		updated.Nonce = &nonce
		updated.Payload = payload
		updated.Signed = raw
		done = append(done, &updated)
	}

	if len(done) > 0 {
		err := c.store.Update(func(w Writer) error {
			for _, tx := range done {
				if err := w.PutTransaction(tx); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	for i, tx := range done {
		c.log.Info("Transaction nonce reassigned", "id", tx.ID, "from", plan[i].From, "to", plan[i].To)
	}
	if failErr != nil {
		return len(done), &PartialFailureError{Op: "resync", Done: ids(done), FailedID: failed, Err: failErr}
	}
	return len(done), nil
}

// recoverBroadcast marks SENT every signed record below chainNonce that the
// node already knows and returns the rest.
func (c *Controller) recoverBroadcast(ctx context.Context, signed []*Transaction, chainNonce uint64) ([]*Transaction, error) {
	var (
		rest      []*Transaction
		recovered []*Transaction
	)
	for _, tx := range signed {
		nonce, ok := tx.NonceValue()
		if !ok || nonce >= chainNonce {
			rest = append(rest, tx)
			continue
		}
		hash, err := rawHash(tx.Signed)
		if err != nil {
			return nil, err
		}
		known, err := c.chain.HasTransaction(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("failed to look up transaction %s: %w", hash.Hex(), err)
		}
		if !known {
			rest = append(rest, tx)
			continue
		}
		sent := *tx
		sent.Hash = &hash
		if err := sent.Advance(StatusSent); err != nil {
			return nil, err
		}
		recovered = append(recovered, &sent)
	}
	if len(recovered) == 0 {
		return rest, nil
	}

	err := c.store.Update(func(w Writer) error {
		for _, tx := range recovered {
			if err := w.PutTransaction(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, tx := range recovered {
		c.log.Warn("Signed transaction found on chain, marked sent", "id", tx.ID, "nonce", *tx.Nonce, "hash", tx.Hash)
	}
	return rest, nil
}

// Sign builds, dry-runs and signs every NEW transaction in insertion order.
// It stops at the first failure; transactions signed before it stay SIGNED.
func (c *Controller) Sign(ctx context.Context, cfg *Config) (int, error) {
	all, err := c.store.Transactions()
	if err != nil {
		return 0, err
	}
	var pending []*Transaction
	for _, tx := range all {
		if tx.Status == StatusNew {
			pending = append(pending, tx)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	signer, err := NewSigner(cfg.PrivateKey)
	if err != nil {
		return 0, err
	}
	if signer.Address() != cfg.Address {
		return 0, fmt.Errorf("%w: key %s, config %s", ErrKeyMismatch, signer.Address(), cfg.Address)
	}
	chainID := cfg.ChainID
	if chainID == nil {
		if chainID, err = c.chain.ChainID(ctx); err != nil {
			return 0, fmt.Errorf("failed to query chain id: %w", err)
		}
	}
	builder := NewBuilder(cfg.Token, cfg.Decimals)
	alloc := NewNonceAllocator(cfg, all)

	var done []*Transaction
	for _, tx := range pending {
		if err := c.signOne(ctx, cfg, tx, chainID, builder, signer, alloc); err != nil {
			if len(done) == 0 {
				return 0, err
			}
			return len(done), &PartialFailureError{Op: "sign", Done: ids(done), FailedID: tx.ID, Err: err}
		}
		done = append(done, tx)
	}
	return len(done), nil
}

func (c *Controller) signOne(ctx context.Context, cfg *Config, tx *Transaction, chainID *big.Int, builder *Builder, signer *Signer, alloc *NonceAllocator) error {
	rcpt, err := c.store.Recipient(tx.RecipientID)
	if err != nil {
		return err
	}
	units, err := ToBaseUnits(rcpt.Amount, cfg.Decimals)
	if err != nil {
		return err
	}
	if rcpt.BaseUnits == nil || units.Cmp(rcpt.BaseUnits) != 0 {
		return fmt.Errorf("%w: recipient %d stores %v base units, %s at %d decimals is %v",
			ErrCorruptedRecord, rcpt.ID, rcpt.BaseUnits, rcpt.Amount, cfg.Decimals, units)
	}
	req := TransferRequest{
		ChainID:   chainID,
		From:      cfg.Address,
		Recipient: rcpt.Address,
		Amount:    rcpt.Amount,
		Nonce:     alloc.Next(),
		GasPrice:  cfg.GasPrice,
	}
	payload, err := builder.Build(req)
	if err != nil {
		return err
	}
	gas, err := c.chain.EstimateGas(ctx, payload.CallMsg())
	if err != nil {
		return fmt.Errorf("%w (not enough ETH or token balance?): %v", ErrEstimateGas, err)
	}
	payload.Gas = gas

	_, raw, err := signer.Sign(payload)
	if err != nil {
		return err
	}
	signedTx := *tx
	nonce := payload.Nonce
	signedTx.Nonce = &nonce
	signedTx.Payload = payload
	signedTx.Signed = raw
	if err := signedTx.Advance(StatusSigned); err != nil {
		return err
	}
	if err := c.store.Update(func(w Writer) error { return w.PutTransaction(&signedTx) }); err != nil {
		return err
	}
	alloc.Advance()
	*tx = signedTx
	c.log.Info("Transaction signed", "id", tx.ID, "recipient", rcpt.Address, "amount", rcpt.Amount, "nonce", nonce, "gas", gas)
	return nil
}

// Send broadcasts the SIGNED transaction with the lowest (nonce, id). The
// account nonce is re-read first, and the call is dry-run; either check
// failing leaves the queue untouched.
func (c *Controller) Send(ctx context.Context, cfg *Config) (*Transaction, error) {
	signed, err := c.store.TransactionsByStatus(StatusSigned)
	if err != nil {
		return nil, err
	}
	if len(signed) == 0 {
		return nil, ErrNothingToSend
	}
	SortByNonce(signed)
	tx := signed[0]
	nonce, _ := tx.NonceValue()

	pending, err := c.chain.TransactionCount(ctx, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to query nonce: %w", err)
	}
	if pending != nonce {
		return nil, fmt.Errorf("%w: transaction nonce %d, account nonce %d", ErrResyncRequired, nonce, pending)
	}
	if err := DryRun(ctx, c.chain, tx.Payload); err != nil {
		return nil, err
	}

	hash, err := c.chain.SendRawTransaction(ctx, tx.Signed)
	if err != nil {
		err = classifySendError(err)
		if !errors.Is(err, errAlreadyKnown) {
			return nil, err
		}
		if hash, err = rawHash(tx.Signed); err != nil {
			return nil, err
		}
		c.log.Warn("Transaction already in pool", "id", tx.ID, "nonce", nonce, "hash", hash)
	}

	sent := *tx
	sent.Hash = &hash
	if err := sent.Advance(StatusSent); err != nil {
		return nil, err
	}
	updatedCfg := *cfg
	updatedCfg.CurrentNonce = nonce + 1
	err = c.store.Update(func(w Writer) error {
		if err := w.PutTransaction(&sent); err != nil {
			return err
		}
		return w.PutConfig(&updatedCfg)
	})
	if err != nil {
		return nil, err
	}
	*cfg = updatedCfg
	c.log.Info("Transaction sent", "id", sent.ID, "nonce", nonce, "hash", hash)
	return &sent, nil
}

// WaitMined blocks until the SENT transaction with the lowest (nonce, id) has
// a receipt, then marks it MINED. A reverted execution is still MINED.
func (c *Controller) WaitMined(ctx context.Context) (*Transaction, error) {
	sent, err := c.store.TransactionsByStatus(StatusSent)
	if err != nil {
		return nil, err
	}
	if len(sent) == 0 {
		return nil, ErrNothingToWait
	}
	SortByNonce(sent)
	tx := sent[0]

	c.log.Debug("Waiting for receipt", "id", tx.ID, "hash", tx.Hash)
	receipt, err := c.chain.WaitForReceipt(ctx, *tx.Hash)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", tx.Hash.Hex(), err)
	}

	mined := *tx
	mined.Receipt = NewReceipt(receipt)
	if err := mined.Advance(StatusMined); err != nil {
		return nil, err
	}
	if err := c.store.Update(func(w Writer) error { return w.PutTransaction(&mined) }); err != nil {
		return nil, err
	}
	if mined.Receipt.Succeeded() {
		c.log.Info("Transaction mined", "id", mined.ID, "block", mined.Receipt.BlockNumber, "gasUsed", mined.Receipt.GasUsed)
	} else {
		c.log.Warn("Transaction mined but reverted", "id", mined.ID, "block", mined.Receipt.BlockNumber, "hash", mined.Hash)
	}
	return &mined, nil
}

func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "replacement transaction underpriced"):
		return fmt.Errorf("%w: %v", ErrResyncRequired, err)
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case strings.Contains(msg, "already known"),
		strings.Contains(msg, "transaction already exists"):
		return errAlreadyKnown
	}
	return err
}

func rawHash(raw []byte) (common.Hash, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("%w: signed payload: %v", ErrCorruptedRecord, err)
	}
	return tx.Hash(), nil
}

func ids(txs []*Transaction) []uint64 {
	out := make([]uint64, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}
