package airdrop

import (
	"sort"
)

// NonceAllocator hands out sender nonces for newly signed transactions.
// Next never moves the cursor; only Advance does, once a signed record has been
// stored, so a failed signing attempt cannot leave a gap.
type NonceAllocator struct {
	cursor uint64
}

// NewNonceAllocator seeds the cursor from the cached account nonce and the
// nonces already handed to queued transactions.
func NewNonceAllocator(cfg *Config, txs []*Transaction) *NonceAllocator {
	cursor := cfg.CurrentNonce
	for _, tx := range txs {
		if tx.Status != StatusSigned && tx.Status != StatusSent {
			continue
		}
		if nonce, ok := tx.NonceValue(); ok && nonce+1 > cursor {
			cursor = nonce + 1
		}
	}
	return &NonceAllocator{cursor: cursor}
}

func (a *NonceAllocator) Next() uint64 {
	return a.cursor
}

func (a *NonceAllocator) Advance() {
	a.cursor++
}

// Reassignment moves one signed transaction to a new nonce.
type Reassignment struct {
	Tx   *Transaction
	From uint64
	To   uint64
}

// PlanResync lines the signed queue up behind chainNonce. Transactions are
// taken in (nonce, id) order and must hold chainNonce, chainNonce+1, ...;
// the ones that do not are returned with their target nonce. An empty plan
// means the queue is consistent.
func PlanResync(signed []*Transaction, chainNonce uint64) []Reassignment {
	queue := make([]*Transaction, 0, len(signed))
	for _, tx := range signed {
		if tx.Status == StatusSigned {
			queue = append(queue, tx)
		}
	}
	SortByNonce(queue)

	var plan []Reassignment
	for i, tx := range queue {
		current, _ := tx.NonceValue()
		target := chainNonce + uint64(i)
		if current != target {
			plan = append(plan, Reassignment{Tx: tx, From: current, To: target})
		}
	}
	return plan
}

// SortByNonce orders transactions by (nonce, id), unassigned nonces last.
func SortByNonce(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		ni, oki := txs[i].NonceValue()
		nj, okj := txs[j].NonceValue()
		if oki != okj {
			return oki
		}
		if ni != nj {
			return ni < nj
		}
		return txs[i].ID < txs[j].ID
	})
}
