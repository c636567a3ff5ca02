package airdrop

import (
	"fmt"
	"math/big"
)

// Row pairs a recipient with its transfer.
type Row struct {
	Recipient *Recipient
	Tx        *Transaction
}

// Overview is the queue as printed by 'show'.
type Overview struct {
	Rows       []Row
	TotalUnits *big.Int
	Counts     map[Status]int
}

// Overview joins recipients with their transactions in insertion order.
func (c *Controller) Overview() (*Overview, error) {
	recipients, err := c.store.Recipients()
	if err != nil {
		return nil, err
	}
	txs, err := c.store.Transactions()
	if err != nil {
		return nil, err
	}
	byRecipient := make(map[uint64]*Transaction, len(txs))
	for _, tx := range txs {
		if _, ok := byRecipient[tx.RecipientID]; !ok {
			byRecipient[tx.RecipientID] = tx
		}
	}

	ov := &Overview{TotalUnits: new(big.Int), Counts: make(map[Status]int)}
	for _, rcpt := range recipients {
		tx, ok := byRecipient[rcpt.ID]
		if !ok {
			return nil, fmt.Errorf("%w: recipient %d has no transaction", ErrCorruptedRecord, rcpt.ID)
		}
		ov.Rows = append(ov.Rows, Row{Recipient: rcpt, Tx: tx})
		ov.TotalUnits.Add(ov.TotalUnits, rcpt.BaseUnits)
		ov.Counts[tx.Status]++
	}
	return ov, nil
}
