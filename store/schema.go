package store

import "encoding/binary"

var (
	configKey = []byte("config")

	recipientPrefix   = []byte("r") // recipientPrefix + id (uint64 big endian) -> Recipient
	transactionPrefix = []byte("t") // transactionPrefix + id (uint64 big endian) -> Transaction

	recipientSeqKey   = []byte("seq-recipient")
	transactionSeqKey = []byte("seq-transaction")
)

func encodeID(id uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, id)
	return enc
}

func recipientKey(id uint64) []byte {
	return append(append([]byte{}, recipientPrefix...), encodeID(id)...)
}

func transactionKey(id uint64) []byte {
	return append(append([]byte{}, transactionPrefix...), encodeID(id)...)
}
