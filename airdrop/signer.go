package airdrop

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transfer payloads offline with the sender key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex private key, with or without 0x prefix.
func NewSigner(hexKey PrivateKey) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(string(hexKey)), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the account controlled by the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign returns the signed transaction and its raw encoding. Signatures are
// deterministic for a given payload and key.
func (s *Signer) Sign(p *TransferPayload) (*types.Transaction, []byte, error) {
	if p.From != s.address {
		return nil, nil, fmt.Errorf("%w: payload from %s, key %s", ErrKeyMismatch, p.From, s.address)
	}
	signedTx, err := types.SignTx(p.Tx(), types.LatestSignerForChainID(p.ChainID), s.key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return signedTx, raw, nil
}
