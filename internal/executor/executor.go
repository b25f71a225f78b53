// Package executor is the transaction boundary in front of the ledger. It
// validates signed transactions (CheckTx) and applies them (DeliverTx),
// deriving the caller identity from the signing key. Result codes follow a
// fixed numbering so remote clients can branch on them.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"timelock.mini/tlm/internal/ledger"
	"timelock.mini/tlm/internal/types"
)

const (
	CodeTypeOK                  uint32 = 0
	CodeTypeEncodingError       uint32 = 1
	CodeTypeAuthError           uint32 = 2
	CodeTypeInvalidTx           uint32 = 3
	CodeTypeInsufficientPayment uint32 = 10
	CodeTypeHashAlreadyExists   uint32 = 11
	CodeTypeOnlyOwner           uint32 = 12
	CodeTypeInvalidFileSize     uint32 = 13
	CodeTypeTransferFailed      uint32 = 14
	CodeTypeInsufficientFunds   uint32 = 15
	CodeTypeInternal            uint32 = 20
)

// DefaultMaxSkew bounds how far a transaction timestamp may be from the
// node clock.
const DefaultMaxSkew = 5 * time.Minute

// Result reports the outcome of CheckTx or DeliverTx.
type Result struct {
	Code      uint32           `json:"code"`
	Log       string           `json:"log,omitempty"`
	TxID      string           `json:"tx_id,omitempty"`
	Type      types.TxType     `json:"type,omitempty"`
	Signer    types.AccountID  `json:"signer,omitempty"`
	Hash      *types.Hash      `json:"hash,omitempty"`
	Timestamp *types.Timestamp `json:"timestamp,omitempty"`
}

func (r Result) IsOK() bool {
	return r.Code == CodeTypeOK
}

// DeliveryLog remembers which transaction IDs have been delivered. A claim
// older than expireBefore may be forgotten.
type DeliveryLog interface {
	TxDelivered(ctx context.Context, id string) (bool, error)
	ClaimTx(ctx context.Context, id string, at, expireBefore time.Time) (bool, error)
	ReleaseTx(ctx context.Context, id string) error
}

// Executor validates and applies signed transactions against one ledger.
type Executor struct {
	ledger    *ledger.Ledger
	maxSkew   time.Duration
	now       func() time.Time
	tracer    trace.Tracer
	delivered DeliveryLog
}

// New creates an executor for l. Delivered IDs are kept in memory until
// SetDeliveryLog installs a durable log.
func New(l *ledger.Ledger) *Executor {
	return &Executor{
		ledger:    l,
		maxSkew:   DefaultMaxSkew,
		now:       time.Now,
		tracer:    otel.Tracer("timelock.mini/tlm/executor"),
		delivered: newMemoryLog(),
	}
}

// SetDeliveryLog replaces the delivered-ID log, so replay rejection
// survives restarts.
func (e *Executor) SetDeliveryLog(dl DeliveryLog) {
	if dl != nil {
		e.delivered = dl
	}
}

type decoded struct {
	signer types.AccountID
	tx     *types.Transaction
}

// CheckTx validates raw without applying it.
func (e *Executor) CheckTx(raw []byte) Result {
	_, res := e.check(context.Background(), raw)
	return res
}

func (e *Executor) check(ctx context.Context, raw []byte) (*decoded, Result) {
	var signedTx types.SignedTransaction
	if err := json.Unmarshal(raw, &signedTx); err != nil {
		return nil, Result{Code: CodeTypeEncodingError, Log: "failed to decode signed tx"}
	}

	if !signedTx.Verify() {
		return nil, Result{Code: CodeTypeAuthError, Log: "invalid signature"}
	}

	tx, err := signedTx.GetTransaction()
	if err != nil {
		return nil, Result{Code: CodeTypeEncodingError, Log: "failed to decode inner tx"}
	}

	res := Result{TxID: tx.ID, Type: tx.Type, Signer: signedTx.Signer()}
	switch tx.Type {
	case types.TxStampHash, types.TxSetPrice, types.TxWithdraw, types.TxDeposit:
	default:
		res.Code, res.Log = CodeTypeInvalidTx, "unknown transaction type"
		return nil, res
	}
	if tx.ID == "" {
		res.Code, res.Log = CodeTypeInvalidTx, "transaction id is required"
		return nil, res
	}

	now := e.now()
	if skew := now.Sub(tx.Timestamp); skew > e.maxSkew || skew < -e.maxSkew {
		res.Code, res.Log = CodeTypeInvalidTx, fmt.Sprintf("transaction timestamp outside %s window", e.maxSkew)
		return nil, res
	}

	replayed, err := e.delivered.TxDelivered(ctx, tx.ID)
	if err != nil {
		log.Printf("ERROR: delivery log lookup for %s failed: %v", tx.ID, err)
		res.Code, res.Log = CodeTypeInternal, "delivery log unavailable"
		return nil, res
	}
	if replayed {
		res.Code, res.Log = CodeTypeInvalidTx, "transaction already delivered"
		return nil, res
	}

	return &decoded{signer: res.Signer, tx: tx}, res
}

// DeliverTx validates raw and applies it to the ledger.
func (e *Executor) DeliverTx(ctx context.Context, raw []byte) Result {
	ctx, span := e.tracer.Start(ctx, "executor.DeliverTx")
	defer span.End()

	d, res := e.check(ctx, raw)
	span.SetAttributes(
		attribute.String("tx.id", res.TxID),
		attribute.String("tx.type", string(res.Type)),
		attribute.String("tx.signer", string(res.Signer)),
	)
	if d == nil {
		span.SetStatus(codes.Error, res.Log)
		return res
	}

	now := e.now()
	claimed, err := e.delivered.ClaimTx(ctx, d.tx.ID, now, now.Add(-2*e.maxSkew))
	if err != nil {
		log.Printf("ERROR: claiming tx %s failed: %v", d.tx.ID, err)
		res.Code, res.Log = CodeTypeInternal, "delivery log unavailable"
		span.SetStatus(codes.Error, res.Log)
		return res
	}
	if !claimed {
		res.Code, res.Log = CodeTypeInvalidTx, "transaction already delivered"
		span.SetStatus(codes.Error, res.Log)
		return res
	}

	res = e.dispatch(ctx, d, res)
	if res.Code == CodeTypeInternal || res.Code == CodeTypeEncodingError {
		// Nothing was applied; the same transaction may be retried.
		if err := e.delivered.ReleaseTx(context.WithoutCancel(ctx), d.tx.ID); err != nil {
			log.Printf("WARN: releasing tx %s failed: %v", d.tx.ID, err)
		}
	}
	span.SetAttributes(attribute.Int("tx.code", int(res.Code)))
	if !res.IsOK() {
		span.SetStatus(codes.Error, res.Log)
	}
	return res
}

func (e *Executor) dispatch(ctx context.Context, d *decoded, res Result) Result {
	switch d.tx.Type {
	case types.TxStampHash:
		var payload types.StampPayload
		if err := d.tx.DecodePayload(&payload); err != nil {
			res.Code, res.Log = CodeTypeEncodingError, "failed to decode StampHash payload"
			return res
		}
		call := ledger.Call{Caller: d.signer, Value: payload.Value}
		res.Hash = &payload.Hash
		if err := e.ledger.StampHash(ctx, call, payload.Hash, payload.FileSize); err != nil {
			return withError(res, err)
		}
		if ts, ok := e.ledger.GetTimestamp(payload.Hash); ok {
			res.Timestamp = &ts
		}
		log.Printf("INFO: Stamped %s (%d bytes) for %s", payload.Hash, payload.FileSize, d.signer.Short())

	case types.TxSetPrice:
		var payload types.SetPricePayload
		if err := d.tx.DecodePayload(&payload); err != nil {
			res.Code, res.Log = CodeTypeEncodingError, "failed to decode SetPrice payload"
			return res
		}
		if err := e.ledger.SetPricePerByte(ctx, d.signer, payload.NewPrice); err != nil {
			return withError(res, err)
		}
		log.Printf("INFO: Price per byte set to %s", payload.NewPrice)

	case types.TxWithdraw:
		var payload types.WithdrawPayload
		if err := d.tx.DecodePayload(&payload); err != nil {
			res.Code, res.Log = CodeTypeEncodingError, "failed to decode Withdraw payload"
			return res
		}
		if err := e.ledger.Withdraw(ctx, d.signer, payload.Amount); err != nil {
			return withError(res, err)
		}
		log.Printf("INFO: Withdrew %s to %s", payload.Amount, d.signer.Short())

	case types.TxDeposit:
		var payload types.DepositPayload
		if err := d.tx.DecodePayload(&payload); err != nil || payload.To == "" {
			res.Code, res.Log = CodeTypeEncodingError, "failed to decode Deposit payload"
			return res
		}
		if err := e.ledger.Deposit(ctx, d.signer, payload.To, payload.Amount); err != nil {
			return withError(res, err)
		}
		log.Printf("INFO: Deposited %s for %s", payload.Amount, payload.To.Short())
	}

	res.Code = CodeTypeOK
	return res
}

func withError(res Result, err error) Result {
	res.Code = CodeForError(err)
	res.Log = err.Error()
	return res
}

// CodeForError maps a ledger error to its result code.
func CodeForError(err error) uint32 {
	switch ledger.CodeOf(err) {
	case ledger.CodeInsufficientPayment:
		return CodeTypeInsufficientPayment
	case ledger.CodeHashAlreadyExists:
		return CodeTypeHashAlreadyExists
	case ledger.CodeOnlyOwner:
		return CodeTypeOnlyOwner
	case ledger.CodeInvalidFileSize:
		return CodeTypeInvalidFileSize
	case ledger.CodeTransferFailed:
		return CodeTypeTransferFailed
	case ledger.CodeInsufficientFunds:
		return CodeTypeInsufficientFunds
	default:
		return CodeTypeInternal
	}
}

// memoryLog is the default DeliveryLog. It does not survive restarts.
type memoryLog struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemoryLog() *memoryLog {
	return &memoryLog{seen: make(map[string]time.Time)}
}

func (m *memoryLog) TxDelivered(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[id]
	return ok, nil
}

func (m *memoryLog) ClaimTx(_ context.Context, id string, at, expireBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; ok {
		return false, nil
	}
	for k, claimed := range m.seen {
		if claimed.Before(expireBefore) {
			delete(m.seen, k)
		}
	}
	m.seen[id] = at
	return true, nil
}

func (m *memoryLog) ReleaseTx(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.seen, id)
	m.mu.Unlock()
	return nil
}
