package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"timelock.mini/tlm/internal/identity"
)

// TxType selects the ledger operation a transaction invokes.
type TxType string

const (
	TxStampHash TxType = "stamp_hash"
	TxSetPrice  TxType = "set_price_per_byte"
	TxWithdraw  TxType = "withdraw"
	TxDeposit   TxType = "deposit"
)

// Transaction is the unsigned body of a mutating call. ID is a random
// nonce used for replay rejection.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TxType          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// SignedTransaction wraps the serialized Transaction with the signer's
// public key and signature. The signer's public key is the caller identity.
type SignedTransaction struct {
	PublicKey []byte `json:"public_key"`
	Tx        []byte `json:"tx"`
	Signature []byte `json:"signature"`
}

// StampPayload registers Hash with the declared FileSize and attached Value.
type StampPayload struct {
	Hash     Hash   `json:"hash"`
	FileSize uint64 `json:"file_size"`
	Value    Amount `json:"value"`
}

type SetPricePayload struct {
	NewPrice Amount `json:"new_price"`
}

type WithdrawPayload struct {
	Amount Amount `json:"amount"`
}

// DepositPayload credits To with value the owner received off-node.
type DepositPayload struct {
	To     AccountID `json:"to"`
	Amount Amount    `json:"amount"`
}

// NewTransaction builds a transaction with a fresh ID and the current time.
func NewTransaction(txType TxType, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", txType, err)
	}
	return &Transaction{
		ID:        uuid.NewString(),
		Type:      txType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// Sign serializes the transaction and signs it with id.
func (tx *Transaction) Sign(id *identity.Identity) (*SignedTransaction, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}
	return &SignedTransaction{
		PublicKey: id.PublicKey(),
		Tx:        body,
		Signature: id.Sign(body),
	}, nil
}

// Signer returns the caller identity of a signed transaction.
func (stx *SignedTransaction) Signer() AccountID {
	return AccountID(identity.PublicKeyHex(stx.PublicKey))
}

// Verify checks the signature over the serialized body.
func (stx *SignedTransaction) Verify() bool {
	return identity.VerifySignature(stx.PublicKey, stx.Tx, stx.Signature)
}

// GetTransaction decodes the inner transaction body.
func (stx *SignedTransaction) GetTransaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(stx.Tx, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, nil
}

// DecodePayload unmarshals the payload into out.
func (tx *Transaction) DecodePayload(out any) error {
	if len(tx.Payload) == 0 {
		return fmt.Errorf("%s transaction has no payload", tx.Type)
	}
	if err := json.Unmarshal(tx.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", tx.Type, err)
	}
	return nil
}
