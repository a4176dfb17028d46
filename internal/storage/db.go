package storage

import (
	"context"
	"database/sql"
	"time"

	"wallet/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries groups the SQL statements of the ledger. Bind it to an open
// transaction with WithTx.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Accounts

const accountColumns = `id, owner, name, opening_balance_cents, balance_cents, created_at`

func scanAccount(row rowScanner) (core.Account, error) {
	var (
		a                core.Account
		opening, balance int64
		createdAt        int64
	)
	if err := row.Scan(&a.ID, &a.Owner, &a.Name, &opening, &balance, &createdAt); err != nil {
		return core.Account{}, err
	}
	a.OpeningBalance = core.Cents(opening)
	a.Balance = core.Cents(balance)
	a.CreatedAt = fromMillis(createdAt)
	return a, nil
}

const insertAccount = `
INSERT INTO accounts (owner, name, opening_balance_cents, balance_cents, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING ` + accountColumns

func (q *Queries) InsertAccount(ctx context.Context, owner, name string, opening core.Money, createdAt time.Time) (core.Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx, insertAccount, owner, name, opening.Cents, opening.Cents, millis(createdAt)))
}

const getAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ? AND owner = ?`

func (q *Queries) GetAccount(ctx context.Context, id int64, owner string) (core.Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx, getAccount, id, owner))
}

const listAccounts = `SELECT ` + accountColumns + ` FROM accounts WHERE owner = ? ORDER BY name, id`

func (q *Queries) ListAccounts(ctx context.Context, owner string) ([]core.Account, error) {
	rows, err := q.db.QueryContext(ctx, listAccounts, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const renameAccount = `UPDATE accounts SET name = ? WHERE id = ? AND owner = ?`

func (q *Queries) RenameAccount(ctx context.Context, id int64, owner, name string) (bool, error) {
	res, err := q.db.ExecContext(ctx, renameAccount, name, id, owner)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

const deleteAccount = `DELETE FROM accounts WHERE id = ? AND owner = ?`

func (q *Queries) DeleteAccount(ctx context.Context, id int64, owner string) (bool, error) {
	res, err := q.db.ExecContext(ctx, deleteAccount, id, owner)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

const adjustBalance = `UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ?`

// AdjustBalance implements reconcile.BalanceAdjuster with a server-side
// increment, so concurrent writers cannot lose each other's updates.
func (q *Queries) AdjustBalance(ctx context.Context, accountID int64, delta core.Money) (bool, error) {
	res, err := q.db.ExecContext(ctx, adjustBalance, delta.Cents, accountID)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// Categories

const categoryColumns = `id, owner, name, type`

func scanCategory(row rowScanner) (core.Category, error) {
	var (
		c   core.Category
		typ string
	)
	if err := row.Scan(&c.ID, &c.Owner, &c.Name, &typ); err != nil {
		return core.Category{}, err
	}
	c.Type = core.TxType(typ)
	return c, nil
}

const insertCategory = `
INSERT INTO categories (owner, name, type) VALUES (?, ?, ?)
RETURNING ` + categoryColumns

func (q *Queries) InsertCategory(ctx context.Context, owner, name string, typ core.TxType) (core.Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx, insertCategory, owner, name, string(typ)))
}

const getCategory = `SELECT ` + categoryColumns + ` FROM categories WHERE id = ? AND owner = ?`

func (q *Queries) GetCategory(ctx context.Context, id int64, owner string) (core.Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx, getCategory, id, owner))
}

const listCategories = `
SELECT ` + categoryColumns + ` FROM categories
WHERE owner = ? AND (? = '' OR type = ?)
ORDER BY type, name`

func (q *Queries) ListCategories(ctx context.Context, owner string, typ core.TxType) ([]core.Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories, owner, string(typ), string(typ))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const updateCategory = `UPDATE categories SET name = ?, type = ? WHERE id = ? AND owner = ?`

func (q *Queries) UpdateCategory(ctx context.Context, id int64, owner, name string, typ core.TxType) (bool, error) {
	res, err := q.db.ExecContext(ctx, updateCategory, name, string(typ), id, owner)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

const countCategoryReferences = `SELECT COUNT(*) FROM transactions WHERE category_id = ?`

func (q *Queries) CountCategoryReferences(ctx context.Context, categoryID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countCategoryReferences, categoryID).Scan(&n)
	return n, err
}

const deleteCategory = `DELETE FROM categories WHERE id = ? AND owner = ?`

func (q *Queries) DeleteCategory(ctx context.Context, id int64, owner string) (bool, error) {
	res, err := q.db.ExecContext(ctx, deleteCategory, id, owner)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}
