// Package services orchestrates the ledger store, event publishing and the
// summary cache.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"wallet/internal/amqp"
	"wallet/internal/core"
	applog "wallet/internal/log"
)

// LedgerStore is the subset of the store the ledger service writes through.
type LedgerStore interface {
	CreateAccount(ctx context.Context, owner, name string, opening core.Money) (core.Account, error)
	DeleteAccount(ctx context.Context, id int64, owner string) error
	CreateCategory(ctx context.Context, owner, name string, typ core.TxType) (core.Category, error)
	DeleteCategory(ctx context.Context, id int64, owner string) error
	CreateTransaction(ctx context.Context, owner string, in core.TransactionInput) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, id int64, owner string, in core.TransactionInput) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64, owner string) (core.Transaction, error)
	GetTransaction(ctx context.Context, id int64, owner string) (core.Transaction, error)
	Close() error
}

// EventPublisher announces committed ledger changes.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event amqp.LedgerEvent) error
}

// Invalidator drops cached projections of an owner.
type Invalidator interface {
	Invalidate(owner string)
}

// LedgerService is the entry point for ledger mutations. The store commits
// first; publishing and cache invalidation follow and never fail the call.
type LedgerService struct {
	store     LedgerStore
	publisher EventPublisher
	summaries Invalidator
	logger    *applog.Logger
}

// NewLedgerService wires the service. publisher and summaries may be nil.
func NewLedgerService(store LedgerStore, publisher EventPublisher, summaries Invalidator, logger *applog.Logger) *LedgerService {
	if logger == nil {
		logger = applog.Discard()
	}
	return &LedgerService{
		store:     store,
		publisher: publisher,
		summaries: summaries,
		logger:    logger.WithComponent(applog.ComponentLedger),
	}
}

func (s *LedgerService) OpenAccount(ctx context.Context, owner, name string, opening core.Money) (core.Account, error) {
	account, err := s.store.CreateAccount(ctx, owner, name, opening)
	if err != nil {
		return core.Account{}, fmt.Errorf("open account: %w", err)
	}
	s.invalidate(owner)
	return account, nil
}

// CloseAccount deletes an account together with its transactions.
func (s *LedgerService) CloseAccount(ctx context.Context, id int64, owner string) error {
	if err := s.store.DeleteAccount(ctx, id, owner); err != nil {
		return fmt.Errorf("close account: %w", err)
	}
	s.afterCommit(ctx, amqp.NewLedgerEvent(amqp.EventAccountDeleted, owner, 0, 0, id))
	return nil
}

func (s *LedgerService) AddCategory(ctx context.Context, owner, name string, typ core.TxType) (core.Category, error) {
	category, err := s.store.CreateCategory(ctx, owner, name, typ)
	if err != nil {
		return core.Category{}, fmt.Errorf("add category: %w", err)
	}
	return category, nil
}

func (s *LedgerService) RemoveCategory(ctx context.Context, id int64, owner string) error {
	if err := s.store.DeleteCategory(ctx, id, owner); err != nil {
		return fmt.Errorf("remove category: %w", err)
	}
	return nil
}

// RecordExpense stores an expense whatever type the caller supplied.
func (s *LedgerService) RecordExpense(ctx context.Context, owner string, in core.TransactionInput) (core.Transaction, error) {
	in.Type = core.Expense
	return s.record(ctx, owner, in)
}

// RecordIncome stores an income whatever type the caller supplied.
func (s *LedgerService) RecordIncome(ctx context.Context, owner string, in core.TransactionInput) (core.Transaction, error) {
	in.Type = core.Income
	return s.record(ctx, owner, in)
}

func (s *LedgerService) record(ctx context.Context, owner string, in core.TransactionInput) (core.Transaction, error) {
	tx, err := s.store.CreateTransaction(ctx, owner, in)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("record %s: %w", in.Type, err)
	}
	s.afterCommit(ctx, amqp.NewLedgerEvent(amqp.EventCreated, owner, tx.ID, tx.Date.Year(), tx.AccountID))
	return tx, nil
}

// EditTransaction replaces every editable field, including the type.
func (s *LedgerService) EditTransaction(ctx context.Context, id int64, owner string, in core.TransactionInput) (core.Transaction, error) {
	// The previous account only feeds the event; the store reads its own
	// snapshot inside the SQL transaction.
	accounts := []int64{in.AccountID}
	if before, err := s.store.GetTransaction(ctx, id, owner); err == nil {
		accounts = append(accounts, before.AccountID)
	}

	tx, err := s.store.UpdateTransaction(ctx, id, owner, in)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("edit transaction: %w", err)
	}
	s.afterCommit(ctx, amqp.NewLedgerEvent(amqp.EventUpdated, owner, tx.ID, tx.Date.Year(), accounts...))
	return tx, nil
}

func (s *LedgerService) RemoveTransaction(ctx context.Context, id int64, owner string) error {
	tx, err := s.store.DeleteTransaction(ctx, id, owner)
	if err != nil {
		return fmt.Errorf("remove transaction: %w", err)
	}
	s.afterCommit(ctx, amqp.NewLedgerEvent(amqp.EventDeleted, owner, tx.ID, tx.Date.Year(), tx.AccountID))
	return nil
}

func (s *LedgerService) afterCommit(ctx context.Context, event amqp.LedgerEvent) {
	s.invalidate(event.Owner)
	s.publish(ctx, event)
}

func (s *LedgerService) invalidate(owner string) {
	if s.summaries != nil {
		s.summaries.Invalidate(owner)
	}
}

func (s *LedgerService) publish(ctx context.Context, event amqp.LedgerEvent) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No event publisher, skipping ledger event",
			applog.FieldEventKind, event.Kind)
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, event); err != nil {
		// The change is committed; the audit sweep catches anything missed.
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			applog.FieldError, err,
			applog.FieldErrorType, applog.ErrorTypeNetwork,
			applog.FieldEventID, event.EventID,
			applog.FieldEventKind, event.Kind,
			applog.FieldOwner, event.Owner)
	}
}

// Close closes the store and, when it holds a connection, the publisher.
func (s *LedgerService) Close() error {
	var errs []error

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if closer, ok := s.publisher.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close ledger service: %w", err)
	}
	return nil
}
