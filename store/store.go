// Package store persists the airdrop queue in a go-ethereum key-value database:
// LevelDB on disk, or an in-memory database for tests.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"

	"github.com/OnGridSystems/erc20-airdrop-cli/airdrop"
)

var _ airdrop.Store = (*Database)(nil)

// Database is an airdrop.Store backed by an ethdb.KeyValueStore.
type Database struct {
	db ethdb.KeyValueStore
}

// Open opens (or creates) the LevelDB database in dir. LevelDB holds a file
// lock, so a second process opening the same directory fails.
func Open(dir string) (*Database, error) {
	db, err := leveldb.New(dir, 16, 16, "airdrop/db/", false)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dir, err)
	}
	return New(db), nil
}

// NewMemory returns an empty in-memory database.
func NewMemory() *Database {
	return New(memorydb.New())
}

func New(db ethdb.KeyValueStore) *Database {
	return &Database{db: db}
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Init writes the configuration singleton. It refuses to overwrite an existing one.
func (d *Database) Init(cfg *airdrop.Config) error {
	ok, err := d.db.Has(configKey)
	if err != nil {
		return err
	}
	if ok {
		return airdrop.ErrAlreadyInitialized
	}
	return d.Update(func(w airdrop.Writer) error { return w.PutConfig(cfg) })
}

func (d *Database) Config() (*airdrop.Config, error) {
	ok, err := d.db.Has(configKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, airdrop.ErrNotInitialized
	}
	var cfg airdrop.Config
	if err := d.read(configKey, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (d *Database) Recipient(id uint64) (*airdrop.Recipient, error) {
	key := recipientKey(id)
	ok, err := d.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: recipient %d not found", airdrop.ErrCorruptedRecord, id)
	}
	var rcpt airdrop.Recipient
	if err := d.read(key, &rcpt); err != nil {
		return nil, err
	}
	return &rcpt, nil
}

func (d *Database) Recipients() ([]*airdrop.Recipient, error) {
	var out []*airdrop.Recipient
	err := d.iterate(recipientPrefix, func(key, value []byte) error {
		var rcpt airdrop.Recipient
		if err := decode(key, value, &rcpt); err != nil {
			return err
		}
		out = append(out, &rcpt)
		return nil
	})
	return out, err
}

func (d *Database) Transactions() ([]*airdrop.Transaction, error) {
	var out []*airdrop.Transaction
	err := d.iterate(transactionPrefix, func(key, value []byte) error {
		var tx airdrop.Transaction
		if err := decode(key, value, &tx); err != nil {
			return err
		}
		if err := tx.Check(); err != nil {
			return err
		}
		out = append(out, &tx)
		return nil
	})
	return out, err
}

func (d *Database) TransactionsByStatus(status airdrop.Status) ([]*airdrop.Transaction, error) {
	all, err := d.Transactions()
	if err != nil {
		return nil, err
	}
	var out []*airdrop.Transaction
	for _, tx := range all {
		if tx.Status == status {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Update stages every put of fn in one batch and writes it atomically.
func (d *Database) Update(fn func(w airdrop.Writer) error) error {
	w := &batchWriter{db: d.db, batch: d.db.NewBatch(), seq: make(map[string]uint64)}
	if err := fn(w); err != nil {
		return err
	}
	for key, id := range w.seq {
		if err := w.batch.Put([]byte(key), encodeID(id)); err != nil {
			return err
		}
	}
	return w.batch.Write()
}

func (d *Database) read(key []byte, v interface{}) error {
	value, err := d.db.Get(key)
	if err != nil {
		return err
	}
	return decode(key, value, v)
}

// iterate walks prefix in key order. Keys embed big-endian IDs, so key order
// is ID order.
func (d *Database) iterate(prefix []byte, fn func(key, value []byte) error) error {
	it := d.db.NewIterator(prefix, nil)
	defer it.Release()

	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

type batchWriter struct {
	db    ethdb.KeyValueReader
	batch ethdb.Batch
	seq   map[string]uint64
}

func (w *batchWriter) PutConfig(cfg *airdrop.Config) error {
	return w.put(configKey, cfg)
}

func (w *batchWriter) PutRecipient(r *airdrop.Recipient) error {
	if r.ID == 0 {
		id, err := w.nextID(recipientSeqKey)
		if err != nil {
			return err
		}
		r.ID = id
	}
	return w.put(recipientKey(r.ID), r)
}

func (w *batchWriter) PutTransaction(tx *airdrop.Transaction) error {
	if tx.RecipientID == 0 {
		return fmt.Errorf("transaction without recipient")
	}
	if err := tx.Check(); err != nil {
		return err
	}
	if tx.ID == 0 {
		id, err := w.nextID(transactionSeqKey)
		if err != nil {
			return err
		}
		tx.ID = id
	}
	return w.put(transactionKey(tx.ID), tx)
}

func (w *batchWriter) put(key []byte, v interface{}) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return w.batch.Put(key, enc)
}

// nextID hands out IDs starting at 1, continuing from the stored sequence.
func (w *batchWriter) nextID(seqKey []byte) (uint64, error) {
	last, staged := w.seq[string(seqKey)]
	if !staged {
		ok, err := w.db.Has(seqKey)
		if err != nil {
			return 0, err
		}
		if ok {
			enc, err := w.db.Get(seqKey)
			if err != nil {
				return 0, err
			}
			if len(enc) != 8 {
				return 0, fmt.Errorf("%w: sequence %q", airdrop.ErrCorruptedRecord, seqKey)
			}
			last = binary.BigEndian.Uint64(enc)
		}
	}
	last++
	w.seq[string(seqKey)] = last
	return last, nil
}

func decode(key, value []byte, v interface{}) error {
	if err := json.Unmarshal(value, v); err != nil {
		return fmt.Errorf("%w: %q: %v", airdrop.ErrCorruptedRecord, key, err)
	}
	return nil
}
