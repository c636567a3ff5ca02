package airdrop

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultDecimals is the token exponent used when none is configured.
const DefaultDecimals = 18

// DefaultGasPrice is 10 GWei.
var DefaultGasPrice = big.NewInt(10_000_000_000)

// PrivateKey holds the sender key in hex. It never prints its value.
type PrivateKey string

func (k PrivateKey) String() string {
	if k == "" {
		return "<unset>"
	}
	return "<redacted>"
}

func (k PrivateKey) GoString() string { return k.String() }

func (k PrivateKey) LogValue() slog.Value { return slog.StringValue(k.String()) }

// Config is the single sender configuration of the airdrop.
type Config struct {
	Address      common.Address `json:"address"`
	PrivateKey   PrivateKey     `json:"privateKey"`
	GasPrice     *big.Int       `json:"gasPrice"`
	Endpoint     string         `json:"endpoint"`
	Token        common.Address `json:"token"`
	Decimals     uint8          `json:"decimals"`
	ChainID      *big.Int       `json:"chainId,omitempty"`
	EthBalance   *big.Int       `json:"ethBalance,omitempty"`
	TokenBalance *big.Int       `json:"tokenBalance,omitempty"`
	CurrentNonce uint64         `json:"currentNonce"`
}

// NewConfig returns the configuration written by 'init'.
func NewConfig(endpoint string, gasPrice *big.Int, decimals uint8) *Config {
	if gasPrice == nil {
		gasPrice = DefaultGasPrice
	}
	return &Config{
		GasPrice: new(big.Int).Set(gasPrice),
		Endpoint: endpoint,
		Decimals: decimals,
	}
}

// Recipient is one airdrop target.
type Recipient struct {
	ID        uint64         `json:"id"`
	Address   common.Address `json:"address"`
	Amount    string         `json:"amount"`
	BaseUnits *big.Int       `json:"baseUnits"`
}

// TransferPayload is the unsigned ERC-20 transfer as it will be signed.
type TransferPayload struct {
	ChainID  *big.Int       `json:"chainId"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Nonce    uint64         `json:"nonce"`
	GasPrice *big.Int       `json:"gasPrice"`
	Gas      uint64         `json:"gas"`
	Data     hexutil.Bytes  `json:"data"`
}

// WithNonce returns a copy of p carrying nonce.
func (p *TransferPayload) WithNonce(nonce uint64) *TransferPayload {
	cpy := *p
	cpy.Nonce = nonce
	cpy.Data = common.CopyBytes(p.Data)
	return &cpy
}

// Tx converts the payload into an unsigned legacy transaction.
func (p *TransferPayload) Tx() *types.Transaction {
	to := p.To
	return types.NewTx(&types.LegacyTx{
		Nonce:    p.Nonce,
		GasPrice: p.GasPrice,
		Gas:      p.Gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     common.CopyBytes(p.Data),
	})
}

// CallMsg is the read-only form of the payload used for dry runs.
func (p *TransferPayload) CallMsg() ethereum.CallMsg {
	to := p.To
	return ethereum.CallMsg{
		From:     p.From,
		To:       &to,
		Gas:      p.Gas,
		GasPrice: p.GasPrice,
		Data:     common.CopyBytes(p.Data),
	}
}

// Receipt is the part of a transaction receipt kept after mining.
type Receipt struct {
	TxHash            common.Hash `json:"transactionHash"`
	BlockHash         common.Hash `json:"blockHash"`
	BlockNumber       uint64      `json:"blockNumber"`
	GasUsed           uint64      `json:"gasUsed"`
	EffectiveGasPrice *big.Int    `json:"effectiveGasPrice,omitempty"`
	Status            uint64      `json:"status"`
}

// NewReceipt summarises r.
func NewReceipt(r *types.Receipt) *Receipt {
	summary := &Receipt{
		TxHash:    r.TxHash,
		BlockHash: r.BlockHash,
		GasUsed:   r.GasUsed,
		Status:    r.Status,
	}
	if r.BlockNumber != nil {
		summary.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.EffectiveGasPrice != nil {
		summary.EffectiveGasPrice = new(big.Int).Set(r.EffectiveGasPrice)
	}
	return summary
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

// Transaction is the queue entry of one recipient's transfer.
type Transaction struct {
	ID          uint64           `json:"id"`
	RecipientID uint64           `json:"recipientId"`
	Status      Status           `json:"status"`
	Nonce       *uint64          `json:"nonce,omitempty"`
	Payload     *TransferPayload `json:"payload,omitempty"`
	Signed      hexutil.Bytes    `json:"signed,omitempty"`
	Hash        *common.Hash     `json:"hash,omitempty"`
	Receipt     *Receipt         `json:"receipt,omitempty"`
}

// Advance moves the transaction to next, refusing to skip or revert a stage.
func (tx *Transaction) Advance(next Status) error {
	if !tx.Status.CanAdvanceTo(next) {
		return fmt.Errorf("%w: transaction %d %s -> %s", ErrIllegalTransition, tx.ID, tx.Status, next)
	}
	tx.Status = next
	return nil
}

// NonceValue returns the assigned nonce, or false when none is assigned yet.
func (tx *Transaction) NonceValue() (uint64, bool) {
	if tx.Nonce == nil {
		return 0, false
	}
	return *tx.Nonce, true
}

// Check validates the fields a record must carry for its status.
func (tx *Transaction) Check() error {
	if !tx.Status.Valid() {
		return fmt.Errorf("%w: transaction %d has status %d", ErrCorruptedRecord, tx.ID, uint8(tx.Status))
	}
	if tx.Status >= StatusSigned && (tx.Nonce == nil || tx.Payload == nil || len(tx.Signed) == 0) {
		return fmt.Errorf("%w: transaction %d is %s without a signed payload", ErrCorruptedRecord, tx.ID, tx.Status)
	}
	if tx.Status >= StatusSent && tx.Hash == nil {
		return fmt.Errorf("%w: transaction %d is %s without a hash", ErrCorruptedRecord, tx.ID, tx.Status)
	}
	if tx.Status == StatusMined && tx.Receipt == nil {
		return fmt.Errorf("%w: transaction %d is MINED without a receipt", ErrCorruptedRecord, tx.ID)
	}
	return nil
}
