package types

import "github.com/google/uuid"

// EventKind names an observable ledger notification.
type EventKind string

const (
	EventHashStamped     EventKind = "hash_stamped"
	EventPaymentReceived EventKind = "payment_received"
	EventPriceUpdated    EventKind = "price_updated"
	EventWithdrawn       EventKind = "withdrawn"
	EventDeposited       EventKind = "deposited"
)

// Event is an append-only audit record emitted by a successful ledger call.
// Exactly one of the kind-specific bodies is set. Seq is assigned by the
// journal when the event is persisted and is zero for unjournaled ledgers.
type Event struct {
	ID              string           `json:"id"`
	Seq             uint64           `json:"seq,omitempty"`
	Kind            EventKind        `json:"kind"`
	Time            Timestamp        `json:"time"`
	HashStamped     *HashStamped     `json:"hash_stamped,omitempty"`
	PaymentReceived *PaymentReceived `json:"payment_received,omitempty"`
	PriceUpdated    *PriceUpdated    `json:"price_updated,omitempty"`
	Withdrawn       *Withdrawn       `json:"withdrawn,omitempty"`
	Deposited       *Deposited       `json:"deposited,omitempty"`
}

// HashStamped records the first registration of a hash.
type HashStamped struct {
	Hash      Hash      `json:"hash"`
	Timestamp Timestamp `json:"timestamp"`
	Submitter AccountID `json:"submitter"`
}

// PaymentReceived records the full value attached to a registration.
type PaymentReceived struct {
	From     AccountID `json:"from"`
	Amount   Amount    `json:"amount"`
	FileSize uint64    `json:"file_size"`
}

// PriceUpdated records an owner price change.
type PriceUpdated struct {
	OldPrice Amount `json:"old_price"`
	NewPrice Amount `json:"new_price"`
}

// Withdrawn records a successful transfer of held value to the owner.
type Withdrawn struct {
	To     AccountID `json:"to"`
	Amount Amount    `json:"amount"`
}

// Deposited records value credited to an account's spendable funds.
type Deposited struct {
	To      AccountID `json:"to"`
	Amount  Amount    `json:"amount"`
	Balance Amount    `json:"balance"`
}

func newEvent(kind EventKind, at Timestamp) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Time: at}
}

func NewHashStampedEvent(hash Hash, ts Timestamp, submitter AccountID) Event {
	e := newEvent(EventHashStamped, ts)
	e.HashStamped = &HashStamped{Hash: hash, Timestamp: ts, Submitter: submitter}
	return e
}

func NewPaymentReceivedEvent(at Timestamp, from AccountID, amount Amount, fileSize uint64) Event {
	e := newEvent(EventPaymentReceived, at)
	e.PaymentReceived = &PaymentReceived{From: from, Amount: amount, FileSize: fileSize}
	return e
}

func NewPriceUpdatedEvent(at Timestamp, oldPrice, newPrice Amount) Event {
	e := newEvent(EventPriceUpdated, at)
	e.PriceUpdated = &PriceUpdated{OldPrice: oldPrice, NewPrice: newPrice}
	return e
}

func NewWithdrawnEvent(at Timestamp, to AccountID, amount Amount) Event {
	e := newEvent(EventWithdrawn, at)
	e.Withdrawn = &Withdrawn{To: to, Amount: amount}
	return e
}

func NewDepositedEvent(at Timestamp, to AccountID, amount, balance Amount) Event {
	e := newEvent(EventDeposited, at)
	e.Deposited = &Deposited{To: to, Amount: amount, Balance: balance}
	return e
}
