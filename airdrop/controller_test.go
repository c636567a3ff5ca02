package airdrop_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnGridSystems/erc20-airdrop-cli/airdrop"
	"github.com/OnGridSystems/erc20-airdrop-cli/store"
)

const (
	senderKey = airdrop.PrivateKey("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	sender    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	token     = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

var recipients = []string{
	"0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
	"0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC",
	"0x90F79bf6EB2c4f870365E785982E1f101E93b906",
}

type harness struct {
	ctrl  *airdrop.Controller
	db    *store.Database
	chain *fakeChain
	cfg   *airdrop.Config
}

func newHarness(t *testing.T, nonce uint64) *harness {
	t.Helper()
	db := store.NewMemory()
	t.Cleanup(func() { db.Close() })

	cfg := airdrop.NewConfig("http://localhost:8545", nil, airdrop.DefaultDecimals)
	cfg.Address = common.HexToAddress(sender)
	cfg.PrivateKey = senderKey
	cfg.Token = common.HexToAddress(token)
	cfg.ChainID = big.NewInt(97)
	cfg.CurrentNonce = nonce
	require.NoError(t, db.Init(cfg))

	chain := newFakeChain(nonce)
	return &harness{
		ctrl:  airdrop.NewController(db, chain, log.NewLogger(log.DiscardHandler())),
		db:    db,
		chain: chain,
		cfg:   cfg,
	}
}

func (h *harness) add(t *testing.T, amounts ...string) {
	t.Helper()
	for i, amount := range amounts {
		_, _, err := h.ctrl.AddRecipient(h.cfg, recipients[i%len(recipients)], amount)
		require.NoError(t, err)
	}
}

func (h *harness) byStatus(t *testing.T, status airdrop.Status) []*airdrop.Transaction {
	t.Helper()
	txs, err := h.db.TransactionsByStatus(status)
	require.NoError(t, err)
	return txs
}

func nonces(t *testing.T, txs []*airdrop.Transaction) []uint64 {
	t.Helper()
	out := make([]uint64, len(txs))
	for i, tx := range txs {
		n, ok := tx.NonceValue()
		require.True(t, ok, "transaction %d has no nonce", tx.ID)
		out[i] = n
	}
	return out
}

func TestAddRecipient(t *testing.T) {
	h := newHarness(t, 0)

	rcpt, tx, err := h.ctrl.AddRecipient(h.cfg, recipients[0], "12.5")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rcpt.ID)
	assert.Equal(t, "12500000000000000000", rcpt.BaseUnits.String())
	assert.Equal(t, rcpt.ID, tx.RecipientID)
	assert.Equal(t, airdrop.StatusNew, tx.Status)

	stored, err := h.db.Recipients()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	txs, err := h.db.Transactions()
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, airdrop.StatusNew, txs[0].Status)
	_, hasNonce := txs[0].NonceValue()
	assert.False(t, hasNonce)
}

func TestAddRecipientRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, 0)

	_, _, err := h.ctrl.AddRecipient(h.cfg, recipients[0], "0.0000000000000000001")
	require.ErrorIs(t, err, airdrop.ErrAmountTooSmall)

	_, _, err = h.ctrl.AddRecipient(h.cfg, "0x70997970c51812dc3a010c7d01b50e0d17dc79c8", "1")
	require.ErrorIs(t, err, airdrop.ErrInvalidAddress)

	_, _, err = h.ctrl.AddRecipient(h.cfg, recipients[0], "one")
	require.ErrorIs(t, err, airdrop.ErrInvalidAmount)

	stored, err := h.db.Recipients()
	require.NoError(t, err)
	assert.Empty(t, stored)
	txs, err := h.db.Transactions()
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSignThreeRecipients(t *testing.T) {
	h := newHarness(t, 5)
	h.add(t, "1.0", "0.5", "0.25")

	n, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	signed := h.byStatus(t, airdrop.StatusSigned)
	require.Len(t, signed, 3)
	assert.Equal(t, []uint64{5, 6, 7}, nonces(t, signed))
	assert.Empty(t, h.byStatus(t, airdrop.StatusNew))

	want := []string{"1000000000000000000", "500000000000000000", "250000000000000000"}
	for i, tx := range signed {
		assert.Equal(t, common.HexToAddress(token), tx.Payload.To)
		assert.Equal(t, uint64(52_000), tx.Payload.Gas)

		var decoded types.Transaction
		require.NoError(t, decoded.UnmarshalBinary(tx.Signed))
		assert.Equal(t, tx.Payload.Nonce, decoded.Nonce())
		assert.Equal(t, common.HexToAddress(token), *decoded.To())

		rcpt, err := h.db.Recipient(tx.RecipientID)
		require.NoError(t, err)
		assert.Equal(t, want[i], rcpt.BaseUnits.String())
	}

	all, err := h.db.Transactions()
	require.NoError(t, err)
	assert.Equal(t, uint64(8), airdrop.NewNonceAllocator(h.cfg, all).Next())

	n, err = h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Zero(t, n, "signing again is a no-op")
}

func TestSignContinuesAfterQueuedNonces(t *testing.T) {
	h := newHarness(t, 5)
	h.add(t, "1")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)

	h.add(t, "2")
	_, err = h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)

	assert.Equal(t, []uint64{5, 6}, nonces(t, h.byStatus(t, airdrop.StatusSigned)))
}

func TestSignStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t, 5)
	h.add(t, "1", "2", "3")
	h.chain.estimateFailAt = 2

	n, err := h.ctrl.Sign(context.Background(), h.cfg)
	assert.Equal(t, 1, n)
	var partial *airdrop.PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "sign", partial.Op)
	assert.Equal(t, []uint64{1}, partial.Done)
	assert.Equal(t, uint64(2), partial.FailedID)
	require.ErrorIs(t, err, airdrop.ErrEstimateGas)

	assert.Len(t, h.byStatus(t, airdrop.StatusSigned), 1)
	assert.Len(t, h.byStatus(t, airdrop.StatusNew), 2)

	h.chain.estimateFailAt = 0
	n, err = h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{5, 6, 7}, nonces(t, h.byStatus(t, airdrop.StatusSigned)))
}

func TestSignFirstFailure(t *testing.T) {
	h := newHarness(t, 0)
	h.add(t, "1")
	h.chain.estimateErr = errors.New("insufficient funds for gas * price + value")

	n, err := h.ctrl.Sign(context.Background(), h.cfg)
	assert.Zero(t, n)
	require.ErrorIs(t, err, airdrop.ErrEstimateGas)
	var partial *airdrop.PartialFailureError
	assert.False(t, errors.As(err, &partial))
	assert.Len(t, h.byStatus(t, airdrop.StatusNew), 1)
}

func TestSignKeyMismatch(t *testing.T) {
	h := newHarness(t, 0)
	h.add(t, "1")
	h.cfg.Address = common.HexToAddress(recipients[0])

	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.ErrorIs(t, err, airdrop.ErrKeyMismatch)
	assert.Len(t, h.byStatus(t, airdrop.StatusNew), 1)
}

func TestSendAndWaitMined(t *testing.T) {
	h := newHarness(t, 5)
	h.add(t, "1", "2")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)

	sent, err := h.ctrl.Send(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, airdrop.StatusSent, sent.Status)
	require.NotNil(t, sent.Hash)
	require.Len(t, h.chain.sent, 1)
	assert.Equal(t, h.chain.sent[0].Hash(), *sent.Hash)
	assert.Equal(t, uint64(5), h.chain.sent[0].Nonce())

	assert.Equal(t, uint64(6), h.cfg.CurrentNonce)
	cfg, err := h.db.Config()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), cfg.CurrentNonce)

	mined, err := h.ctrl.WaitMined(context.Background())
	require.NoError(t, err)
	assert.Equal(t, airdrop.StatusMined, mined.Status)
	require.NotNil(t, mined.Receipt)
	assert.True(t, mined.Receipt.Succeeded())
	assert.Equal(t, uint64(100), mined.Receipt.BlockNumber)

	_, err = h.ctrl.WaitMined(context.Background())
	require.ErrorIs(t, err, airdrop.ErrNothingToWait)

	sent, err = h.ctrl.Send(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), h.chain.sent[1].Nonce())
	assert.Equal(t, uint64(2), sent.ID)

	_, err = h.ctrl.Send(context.Background(), h.cfg)
	require.ErrorIs(t, err, airdrop.ErrNothingToSend)
}

func TestSendDryRunReverted(t *testing.T) {
	for name, setup := range map[string]func(c *fakeChain){
		"revert": func(c *fakeChain) {
			c.transferErr = errors.New("execution reverted: ERC20: transfer amount exceeds balance")
		},
		"returns false": func(c *fakeChain) {
			c.transferResult = make([]byte, 32)
		},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, 5)
			h.add(t, "1")
			_, err := h.ctrl.Sign(context.Background(), h.cfg)
			require.NoError(t, err)
			before := h.byStatus(t, airdrop.StatusSigned)

			setup(h.chain)
			_, err = h.ctrl.Send(context.Background(), h.cfg)
			require.ErrorIs(t, err, airdrop.ErrDryRunReverted)

			assert.Empty(t, h.chain.sent)
			assert.Equal(t, before, h.byStatus(t, airdrop.StatusSigned))
			assert.Equal(t, uint64(5), h.cfg.CurrentNonce)
		})
	}
}

func TestSendRequiresResync(t *testing.T) {
	h := newHarness(t, 5)
	h.add(t, "1")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)

	h.chain.nonce = 7
	_, err = h.ctrl.Send(context.Background(), h.cfg)
	require.ErrorIs(t, err, airdrop.ErrResyncRequired)
	assert.Empty(t, h.chain.sent)
	assert.Len(t, h.byStatus(t, airdrop.StatusSigned), 1)
}

func TestSendErrors(t *testing.T) {
	tests := []struct {
		sendErr string
		want    error
	}{
		{"nonce too low", airdrop.ErrResyncRequired},
		{"insufficient funds for gas * price + value", airdrop.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.sendErr, func(t *testing.T) {
			h := newHarness(t, 5)
			h.add(t, "1")
			_, err := h.ctrl.Sign(context.Background(), h.cfg)
			require.NoError(t, err)

			h.chain.sendErr = errors.New(tt.sendErr)
			_, err = h.ctrl.Send(context.Background(), h.cfg)
			require.ErrorIs(t, err, tt.want)
			assert.Len(t, h.byStatus(t, airdrop.StatusSigned), 1)
			assert.Empty(t, h.byStatus(t, airdrop.StatusSent))
		})
	}
}

func TestSendAlreadyKnown(t *testing.T) {
	h := newHarness(t, 5)
	h.add(t, "1")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)
	signed := h.byStatus(t, airdrop.StatusSigned)[0]

	h.chain.sendErr = errors.New("already known")
	sent, err := h.ctrl.Send(context.Background(), h.cfg)
	require.NoError(t, err)

	var decoded types.Transaction
	require.NoError(t, decoded.UnmarshalBinary(signed.Signed))
	assert.Equal(t, decoded.Hash(), *sent.Hash)
	assert.Equal(t, airdrop.StatusSent, sent.Status)
}

func TestWaitMinedReverted(t *testing.T) {
	h := newHarness(t, 0)
	h.add(t, "1")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)
	_, err = h.ctrl.Send(context.Background(), h.cfg)
	require.NoError(t, err)

	h.chain.receiptStatus = types.ReceiptStatusFailed
	mined, err := h.ctrl.WaitMined(context.Background())
	require.NoError(t, err)
	assert.Equal(t, airdrop.StatusMined, mined.Status)
	assert.False(t, mined.Receipt.Succeeded())
}

func TestWaitMinedTimeout(t *testing.T) {
	h := newHarness(t, 0)
	h.add(t, "1")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)
	_, err = h.ctrl.Send(context.Background(), h.cfg)
	require.NoError(t, err)
	h.chain.sent = nil

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.ctrl.WaitMined(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, h.byStatus(t, airdrop.StatusSent), 1)
}

func TestUpdateResyncsSignedQueue(t *testing.T) {
	h := newHarness(t, 5)
	h.add(t, "1.0", "0.5", "0.25")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)

	// the wallet was used elsewhere in the meantime
	h.chain.nonce = 9
	res, err := h.ctrl.Update(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), res.Nonce)
	assert.Equal(t, 3, res.Resynced)

	cfg, err := h.db.Config()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cfg.CurrentNonce)
	assert.Equal(t, 0, h.chain.tokenBalance.Cmp(cfg.TokenBalance))
	assert.Equal(t, 0, h.chain.ethBalance.Cmp(cfg.EthBalance))

	signed := h.byStatus(t, airdrop.StatusSigned)
	assert.Equal(t, []uint64{9, 10, 11}, nonces(t, signed))
	for _, tx := range signed {
		var decoded types.Transaction
		require.NoError(t, decoded.UnmarshalBinary(tx.Signed))
		assert.Equal(t, *tx.Nonce, decoded.Nonce())
		assert.Equal(t, *tx.Nonce, tx.Payload.Nonce)
	}

	res, err = h.ctrl.Update(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Zero(t, res.Resynced, "second resync is a no-op")
	assert.Equal(t, signed, h.byStatus(t, airdrop.StatusSigned))

	sent, err := h.ctrl.Send(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), *sent.Nonce)
}

func TestResyncInSyncWritesNothing(t *testing.T) {
	h := newHarness(t, 5)
	h.add(t, "1", "2")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)
	before := h.byStatus(t, airdrop.StatusSigned)

	n, err := h.ctrl.Resync(context.Background(), h.cfg, 5)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, before, h.byStatus(t, airdrop.StatusSigned))
}

func TestResyncKeepsSentTransactions(t *testing.T) {
	h := newHarness(t, 5)
	h.add(t, "1", "2", "3")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)
	_, err = h.ctrl.Send(context.Background(), h.cfg)
	require.NoError(t, err)

	// pending nonce already counts the sent transfer
	n, err := h.ctrl.Resync(context.Background(), h.cfg, h.chain.nonce)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []uint64{5}, nonces(t, h.byStatus(t, airdrop.StatusSent)))
	assert.Equal(t, []uint64{6, 7}, nonces(t, h.byStatus(t, airdrop.StatusSigned)))
}

func TestResyncStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t, 5)
	h.add(t, "1", "2", "3")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)

	// a record signed for another sender cannot be re-signed with this key
	second := h.byStatus(t, airdrop.StatusSigned)[1]
	second.Payload.From = common.HexToAddress(recipients[0])
	require.NoError(t, h.db.Update(func(w airdrop.Writer) error { return w.PutTransaction(second) }))

	n, err := h.ctrl.Resync(context.Background(), h.cfg, 9)
	assert.Equal(t, 1, n)
	var partial *airdrop.PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "resync", partial.Op)
	assert.Equal(t, []uint64{1}, partial.Done)
	assert.Equal(t, uint64(2), partial.FailedID)
	require.ErrorIs(t, err, airdrop.ErrKeyMismatch)

	signed := h.byStatus(t, airdrop.StatusSigned)
	assert.Equal(t, []uint64{9, 6, 7}, nonces(t, signed))
	var decoded types.Transaction
	require.NoError(t, decoded.UnmarshalBinary(signed[0].Signed))
	assert.Equal(t, uint64(9), decoded.Nonce())
}

func TestUpdateRecoversUnrecordedBroadcast(t *testing.T) {
	h := newHarness(t, 5)
	h.add(t, "1", "2")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)

	// the first transfer reached the node but its SENT status was never stored
	first := h.byStatus(t, airdrop.StatusSigned)[0]
	hash, err := h.chain.SendRawTransaction(context.Background(), first.Signed)
	require.NoError(t, err)

	res, err := h.ctrl.Update(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), res.Nonce)
	assert.Zero(t, res.Resynced)

	sent := h.byStatus(t, airdrop.StatusSent)
	require.Len(t, sent, 1)
	assert.Equal(t, first.ID, sent[0].ID)
	assert.Equal(t, hash, *sent[0].Hash)
	assert.Equal(t, first.Signed, sent[0].Signed)
	assert.Equal(t, []uint64{6}, nonces(t, h.byStatus(t, airdrop.StatusSigned)))

	next, err := h.ctrl.Send(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), *next.Nonce)
	require.Len(t, h.chain.sent, 2, "the recovered transfer is not paid twice")

	mined, err := h.ctrl.WaitMined(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, mined.ID)
}

func TestSetTokenRecomputesBaseUnits(t *testing.T) {
	h := newHarness(t, 0)
	h.add(t, "1", "0.5")

	require.NoError(t, h.ctrl.SetToken(h.cfg, common.HexToAddress(token), 6))
	assert.Equal(t, uint8(6), h.cfg.Decimals)
	cfg, err := h.db.Config()
	require.NoError(t, err)
	assert.Equal(t, uint8(6), cfg.Decimals)

	rcpts, err := h.db.Recipients()
	require.NoError(t, err)
	require.Len(t, rcpts, 2)
	assert.Equal(t, "1000000", rcpts[0].BaseUnits.String())
	assert.Equal(t, "500000", rcpts[1].BaseUnits.String())

	_, err = h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)
	ov, err := h.ctrl.Overview()
	require.NoError(t, err)
	assert.Equal(t, "1500000", ov.TotalUnits.String())
	for _, tx := range h.byStatus(t, airdrop.StatusSigned) {
		var decoded types.Transaction
		require.NoError(t, decoded.UnmarshalBinary(tx.Signed))
		rcpt, err := h.db.Recipient(tx.RecipientID)
		require.NoError(t, err)
		assert.Equal(t, 0, rcpt.BaseUnits.Cmp(new(big.Int).SetBytes(decoded.Data()[36:68])))
	}
}

func TestSetTokenRejectsUnrepresentableAmount(t *testing.T) {
	h := newHarness(t, 0)
	h.add(t, "1.0000001")

	err := h.ctrl.SetToken(h.cfg, common.HexToAddress(token), 6)
	require.ErrorIs(t, err, airdrop.ErrAmountPrecision)
	assert.Equal(t, uint8(18), h.cfg.Decimals)

	cfg, err := h.db.Config()
	require.NoError(t, err)
	assert.Equal(t, uint8(18), cfg.Decimals)
	rcpts, err := h.db.Recipients()
	require.NoError(t, err)
	assert.Equal(t, "1000000100000000000", rcpts[0].BaseUnits.String())
}

func TestSetTokenLockedOnceSigned(t *testing.T) {
	h := newHarness(t, 0)
	h.add(t, "1")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)

	err = h.ctrl.SetToken(h.cfg, common.HexToAddress(token), 6)
	require.ErrorIs(t, err, airdrop.ErrQueueLocked)
	err = h.ctrl.SetToken(h.cfg, common.HexToAddress(recipients[0]), 18)
	require.ErrorIs(t, err, airdrop.ErrQueueLocked)
	require.NoError(t, h.ctrl.SetToken(h.cfg, common.HexToAddress(token), 18), "unchanged settings are accepted")

	cfg, err := h.db.Config()
	require.NoError(t, err)
	assert.Equal(t, uint8(18), cfg.Decimals)
	assert.Equal(t, common.HexToAddress(token), cfg.Token)
}

func TestSignRejectsStaleBaseUnits(t *testing.T) {
	h := newHarness(t, 0)
	h.add(t, "1")
	// decimals changed behind the controller's back
	h.cfg.Decimals = 6

	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.ErrorIs(t, err, airdrop.ErrCorruptedRecord)
	assert.Len(t, h.byStatus(t, airdrop.StatusNew), 1)
	assert.Zero(t, h.chain.estimateCalls)
}

func TestOverview(t *testing.T) {
	h := newHarness(t, 0)
	h.add(t, "1.0", "0.5", "0.25")
	_, err := h.ctrl.Sign(context.Background(), h.cfg)
	require.NoError(t, err)
	_, err = h.ctrl.Send(context.Background(), h.cfg)
	require.NoError(t, err)

	ov, err := h.ctrl.Overview()
	require.NoError(t, err)
	require.Len(t, ov.Rows, 3)
	assert.Equal(t, "1.75", airdrop.FormatUnits(ov.TotalUnits, 18))
	assert.Equal(t, 1, ov.Counts[airdrop.StatusSent])
	assert.Equal(t, 2, ov.Counts[airdrop.StatusSigned])
	for _, row := range ov.Rows {
		assert.Equal(t, row.Recipient.ID, row.Tx.RecipientID)
	}
}
