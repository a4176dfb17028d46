package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"wallet/internal/core"
	applog "wallet/internal/log"
	"wallet/internal/reconcile"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

// SQLiteRepository is the ledger store. Every mutation runs in one SQL
// transaction opened with BEGIN IMMEDIATE, so writers serialize on SQLite's
// reserved lock and balance increments cannot interleave.
type SQLiteRepository struct {
	db         *sql.DB
	queries    *Queries
	reconciler *reconcile.Reconciler
	logger     *applog.Logger
	now        func() time.Time
}

type options struct {
	busyTimeout time.Duration
	logger      *applog.Logger
	now         func() time.Time
}

// Option configures a SQLiteRepository.
type Option func(*options)

// WithBusyTimeout bounds how long a writer waits for the database lock before
// the operation fails with core.ErrConcurrency.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

func WithLogger(l *applog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// dsn builds the connection string. Pragmas are applied by the driver on
// every new connection of the pool.
func dsn(dbPath string, busyTimeout time.Duration) string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Set("_txlock", "immediate")
	return "file:" + dbPath + "?" + params.Encode()
}

func NewSQLiteRepository(dbPath string, opts ...Option) (*SQLiteRepository, error) {
	o := options{busyTimeout: defaultBusyTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = applog.Discard()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations before the pool opens so WAL mode is set on a migrated file.
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:         db,
		queries:    New(db),
		reconciler: reconcile.New(o.logger),
		logger:     o.logger.WithComponent(applog.ComponentStorage),
		now:        o.now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// withTx runs fn inside one SQL transaction and commits when fn succeeds.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.WarnContext(ctx, "Rollback failed", applog.FieldError, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

func requireOwner(owner string) error {
	if owner == "" {
		return core.ErrMissingOwner
	}
	return nil
}

// Accounts

func (r *SQLiteRepository) CreateAccount(ctx context.Context, owner, name string, opening core.Money) (core.Account, error) {
	if err := requireOwner(owner); err != nil {
		return core.Account{}, err
	}
	name, err := core.ValidateName(name)
	if err != nil {
		return core.Account{}, err
	}
	if err := core.ValidateOpening(opening); err != nil {
		return core.Account{}, err
	}

	account, err := r.queries.InsertAccount(ctx, owner, name, opening, r.now())
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", classify(err))
	}

	r.logger.InfoContext(ctx, "Account created",
		applog.FieldAccountID, account.ID,
		applog.FieldOwner, owner,
		"opening_cents", opening.Cents)
	return account, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64, owner string) (core.Account, error) {
	account, err := r.queries.GetAccount(ctx, id, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.NotFound("account", id)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", classify(err))
	}
	return account, nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context, owner string) ([]core.Account, error) {
	accounts, err := r.queries.ListAccounts(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", classify(err))
	}
	return accounts, nil
}

// RenameAccount changes the display name only; the balance is untouched.
func (r *SQLiteRepository) RenameAccount(ctx context.Context, id int64, owner, name string) (core.Account, error) {
	name, err := core.ValidateName(name)
	if err != nil {
		return core.Account{}, err
	}
	ok, err := r.queries.RenameAccount(ctx, id, owner, name)
	if err != nil {
		return core.Account{}, fmt.Errorf("rename account: %w", classify(err))
	}
	if !ok {
		return core.Account{}, core.NotFound("account", id)
	}
	return r.GetAccount(ctx, id, owner)
}

// DeleteAccount removes the account and its transactions. The balance goes
// away with the account, so no reconciliation runs.
func (r *SQLiteRepository) DeleteAccount(ctx context.Context, id int64, owner string) error {
	var removed int64
	err := r.withTx(ctx, func(q *Queries) error {
		if _, err := q.GetAccount(ctx, id, owner); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return core.NotFound("account", id)
			}
			return fmt.Errorf("get account: %w", classify(err))
		}
		n, err := q.DeleteTransactionsByAccount(ctx, id)
		if err != nil {
			return fmt.Errorf("delete account transactions: %w", classify(err))
		}
		removed = n
		if _, err := q.DeleteAccount(ctx, id, owner); err != nil {
			return fmt.Errorf("delete account: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Account deleted",
		applog.FieldAccountID, id,
		applog.FieldOwner, owner,
		"transactions_removed", removed)
	return nil
}

// Categories

func (r *SQLiteRepository) CreateCategory(ctx context.Context, owner, name string, typ core.TxType) (core.Category, error) {
	if err := requireOwner(owner); err != nil {
		return core.Category{}, err
	}
	name, err := core.ValidateName(name)
	if err != nil {
		return core.Category{}, err
	}
	if !typ.Valid() {
		return core.Category{}, core.ErrInvalidType
	}

	category, err := r.queries.InsertCategory(ctx, owner, name, typ)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category %q: %w", name, classify(err))
	}

	r.logger.InfoContext(ctx, "Category created",
		applog.FieldCategoryID, category.ID,
		applog.FieldOwner, owner,
		applog.FieldTxType, typ)
	return category, nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id int64, owner string) (core.Category, error) {
	category, err := r.queries.GetCategory(ctx, id, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.NotFound("category", id)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", classify(err))
	}
	return category, nil
}

// UpdateCategory renames a category and may change its type while no
// transaction references it.
func (r *SQLiteRepository) UpdateCategory(ctx context.Context, id int64, owner, name string, typ core.TxType) (core.Category, error) {
	name, err := core.ValidateName(name)
	if err != nil {
		return core.Category{}, err
	}
	if !typ.Valid() {
		return core.Category{}, core.ErrInvalidType
	}

	err = r.withTx(ctx, func(q *Queries) error {
		current, err := q.GetCategory(ctx, id, owner)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NotFound("category", id)
		}
		if err != nil {
			return fmt.Errorf("get category: %w", classify(err))
		}
		if current.Type != typ {
			refs, err := q.CountCategoryReferences(ctx, id)
			if err != nil {
				return fmt.Errorf("count category references: %w", classify(err))
			}
			if refs > 0 {
				return fmt.Errorf("change type of category %d used by %d transactions: %w", id, refs, core.ErrConflict)
			}
		}
		if _, err := q.UpdateCategory(ctx, id, owner, name, typ); err != nil {
			return fmt.Errorf("update category: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return core.Category{}, err
	}
	return core.Category{ID: id, Owner: owner, Name: name, Type: typ}, nil
}

// ListCategories returns the owner's categories, optionally of one type.
func (r *SQLiteRepository) ListCategories(ctx context.Context, owner string, typ *core.TxType) ([]core.Category, error) {
	var filter core.TxType
	if typ != nil {
		if !typ.Valid() {
			return nil, core.ErrInvalidType
		}
		filter = *typ
	}
	categories, err := r.queries.ListCategories(ctx, owner, filter)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", classify(err))
	}
	return categories, nil
}

// DeleteCategory refuses with core.ErrConflict while any transaction uses the
// category.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id int64, owner string) error {
	err := r.withTx(ctx, func(q *Queries) error {
		if _, err := q.GetCategory(ctx, id, owner); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return core.NotFound("category", id)
			}
			return fmt.Errorf("get category: %w", classify(err))
		}
		refs, err := q.CountCategoryReferences(ctx, id)
		if err != nil {
			return fmt.Errorf("count category references: %w", classify(err))
		}
		if refs > 0 {
			return fmt.Errorf("delete category %d used by %d transactions: %w", id, refs, core.ErrConflict)
		}
		if _, err := q.DeleteCategory(ctx, id, owner); err != nil {
			return fmt.Errorf("delete category: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Category deleted",
		applog.FieldCategoryID, id,
		applog.FieldOwner, owner)
	return nil
}

// Transactions

// checkReferences verifies that the account and category exist for owner and
// that the category's type matches the transaction's. Missing and foreign
// rows are reported the same way.
func checkReferences(ctx context.Context, q *Queries, owner string, in core.TransactionInput) error {
	if _, err := q.GetAccount(ctx, in.AccountID, owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrForeignReference
		}
		return fmt.Errorf("get account: %w", classify(err))
	}
	category, err := q.GetCategory(ctx, in.CategoryID, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrForeignReference
	}
	if err != nil {
		return fmt.Errorf("get category: %w", classify(err))
	}
	if category.Type != in.Type {
		return core.ErrCategoryTypeMismatch
	}
	return nil
}

func prepareInput(owner string, in core.TransactionInput) (core.TransactionInput, error) {
	if err := requireOwner(owner); err != nil {
		return in, err
	}
	in = in.Normalized()
	return in, in.Validate()
}

// CreateTransaction validates in, inserts it and adds its contribution to
// the account balance, all in one SQL transaction.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, owner string, in core.TransactionInput) (core.Transaction, error) {
	in, err := prepareInput(owner, in)
	if err != nil {
		return core.Transaction{}, err
	}

	var created core.Transaction
	err = r.withTx(ctx, func(q *Queries) error {
		if err := checkReferences(ctx, q, owner, in); err != nil {
			return err
		}
		id, err := q.InsertTransaction(ctx, owner, in, r.now())
		if err != nil {
			return fmt.Errorf("insert transaction: %w", classify(err))
		}
		if err := r.reconciler.OnCreate(ctx, q, in.Snapshot()); err != nil {
			return fmt.Errorf("reconcile created transaction %d: %w", id, classify(err))
		}
		created, err = q.GetTransaction(ctx, id, owner)
		if err != nil {
			return fmt.Errorf("reload transaction: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	r.logger.InfoContext(ctx, "Transaction created",
		applog.NewFields().
			WithOperation(applog.OpCreate).
			WithTransaction(created.ID, created.AccountID, created.Type.String(), created.Amount.Cents).
			ToSlice()...)
	return created, nil
}

// UpdateTransaction replaces the editable fields of a transaction. The stored
// row is read inside the SQL transaction and its contribution is moved to the
// new account, type and amount.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, id int64, owner string, in core.TransactionInput) (core.Transaction, error) {
	in, err := prepareInput(owner, in)
	if err != nil {
		return core.Transaction{}, err
	}

	var before, updated core.Transaction
	err = r.withTx(ctx, func(q *Queries) error {
		var err error
		before, err = q.GetTransaction(ctx, id, owner)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NotFound("transaction", id)
		}
		if err != nil {
			return fmt.Errorf("get transaction: %w", classify(err))
		}
		if err := checkReferences(ctx, q, owner, in); err != nil {
			return err
		}
		if _, err := q.UpdateTransaction(ctx, id, owner, in, r.now()); err != nil {
			return fmt.Errorf("update transaction: %w", classify(err))
		}
		if err := r.reconciler.OnUpdate(ctx, q, before.Snapshot(), in.Snapshot()); err != nil {
			return fmt.Errorf("reconcile updated transaction %d: %w", id, classify(err))
		}
		updated, err = q.GetTransaction(ctx, id, owner)
		if err != nil {
			return fmt.Errorf("reload transaction: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	r.logger.InfoContext(ctx, "Transaction updated",
		applog.NewFields().
			WithOperation(applog.OpUpdate).
			WithTransaction(updated.ID, updated.AccountID, updated.Type.String(), updated.Amount.Cents).
			ToSlice()...)
	if before.AccountID != updated.AccountID {
		r.logger.InfoContext(ctx, "Transaction moved between accounts",
			applog.FieldTransactionID, id,
			"from_account_id", before.AccountID,
			"to_account_id", updated.AccountID)
	}
	return updated, nil
}

// DeleteTransaction removes a transaction and reverses its contribution. The
// deleted row is returned so callers can describe what changed.
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id int64, owner string) (core.Transaction, error) {
	var deleted core.Transaction
	err := r.withTx(ctx, func(q *Queries) error {
		var err error
		deleted, err = q.GetTransaction(ctx, id, owner)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NotFound("transaction", id)
		}
		if err != nil {
			return fmt.Errorf("get transaction: %w", classify(err))
		}
		if _, err := q.DeleteTransaction(ctx, id, owner); err != nil {
			return fmt.Errorf("delete transaction: %w", classify(err))
		}
		if err := r.reconciler.OnDelete(ctx, q, deleted.Snapshot()); err != nil {
			return fmt.Errorf("reconcile deleted transaction %d: %w", id, classify(err))
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	r.logger.InfoContext(ctx, "Transaction deleted",
		applog.NewFields().
			WithOperation(applog.OpDelete).
			WithTransaction(deleted.ID, deleted.AccountID, deleted.Type.String(), deleted.Amount.Cents).
			ToSlice()...)
	return deleted, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64, owner string) (core.Transaction, error) {
	t, err := r.queries.GetTransaction(ctx, id, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", classify(err))
	}
	return t, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, owner string, filter core.TransactionFilter) ([]core.Transaction, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, core.ErrInvalidType
	}
	txs, err := r.queries.ListTransactions(ctx, owner, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", classify(err))
	}
	return txs, nil
}
