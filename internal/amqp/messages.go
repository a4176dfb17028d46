package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind tells consumers what happened to the ledger.
type EventKind string

const (
	EventCreated        EventKind = "created"
	EventUpdated        EventKind = "updated"
	EventDeleted        EventKind = "deleted"
	EventAccountDeleted EventKind = "account_deleted"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventCreated, EventUpdated, EventDeleted, EventAccountDeleted:
		return true
	}
	return false
}

// LedgerEvent is published after a ledger mutation has committed. It carries
// identifiers only; consumers read current state from the store.
type LedgerEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	Kind          EventKind `json:"kind"`
	Owner         string    `json:"owner"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	AccountIDs    []int64   `json:"account_ids"`
	// Year of the affected transaction's date, zero for account events.
	Year       int       `json:"year,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewLedgerEvent stamps a fresh event id and the current time. Duplicate
// account ids are collapsed.
func NewLedgerEvent(kind EventKind, owner string, transactionID int64, year int, accountIDs ...int64) LedgerEvent {
	seen := make(map[int64]bool, len(accountIDs))
	ids := make([]int64, 0, len(accountIDs))
	for _, id := range accountIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return LedgerEvent{
		EventID:       uuid.New(),
		Kind:          kind,
		Owner:         owner,
		TransactionID: transactionID,
		AccountIDs:    ids,
		Year:          year,
		OccurredAt:    time.Now().UTC(),
	}
}

func (e LedgerEvent) Validate() error {
	if e.EventID == uuid.Nil {
		return errors.New("missing event id")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Owner == "" {
		return errors.New("missing owner")
	}
	if len(e.AccountIDs) == 0 {
		return errors.New("no account ids")
	}
	return nil
}

func (e LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes and validates an event body.
func LedgerEventFromJSON(data []byte) (LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return LedgerEvent{}, fmt.Errorf("decode ledger event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return LedgerEvent{}, fmt.Errorf("invalid ledger event: %w", err)
	}
	return e, nil
}
