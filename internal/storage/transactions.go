package storage

import (
	"context"
	"strings"
	"time"

	"wallet/internal/core"
)

const transactionSelect = `
SELECT t.id, t.owner, t.account_id, a.name, t.category_id, c.name, t.type,
       t.amount_cents, t.date, t.description, t.payment_method, t.note,
       t.created_at, t.updated_at
FROM transactions t
JOIN accounts a ON a.id = t.account_id
JOIN categories c ON c.id = t.category_id`

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t                    core.Transaction
		typ, date            string
		amount               int64
		createdAt, updatedAt int64
	)
	err := row.Scan(&t.ID, &t.Owner, &t.AccountID, &t.AccountName, &t.CategoryID, &t.CategoryName,
		&typ, &amount, &date, &t.Description, &t.PaymentMethod, &t.Note, &createdAt, &updatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TxType(typ)
	t.Amount = core.Cents(amount)
	t.Date = d
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}

const insertTransaction = `
INSERT INTO transactions (owner, account_id, category_id, type, amount_cents, date,
                          description, payment_method, note, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`

func (q *Queries) InsertTransaction(ctx context.Context, owner string, in core.TransactionInput, now time.Time) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, insertTransaction,
		owner, in.AccountID, in.CategoryID, string(in.Type), in.Amount.Cents, in.Date.String(),
		in.Description, in.PaymentMethod, in.Note, millis(now), millis(now),
	).Scan(&id)
	return id, err
}

const getTransaction = transactionSelect + `
WHERE t.id = ? AND t.owner = ?`

func (q *Queries) GetTransaction(ctx context.Context, id int64, owner string) (core.Transaction, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id, owner))
}

const updateTransaction = `
UPDATE transactions
SET account_id = ?, category_id = ?, type = ?, amount_cents = ?, date = ?,
    description = ?, payment_method = ?, note = ?, updated_at = ?
WHERE id = ? AND owner = ?`

func (q *Queries) UpdateTransaction(ctx context.Context, id int64, owner string, in core.TransactionInput, now time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, updateTransaction,
		in.AccountID, in.CategoryID, string(in.Type), in.Amount.Cents, in.Date.String(),
		in.Description, in.PaymentMethod, in.Note, millis(now), id, owner)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

const deleteTransaction = `DELETE FROM transactions WHERE id = ? AND owner = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, id int64, owner string) (bool, error) {
	res, err := q.db.ExecContext(ctx, deleteTransaction, id, owner)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

const deleteTransactionsByAccount = `DELETE FROM transactions WHERE account_id = ?`

func (q *Queries) DeleteTransactionsByAccount(ctx context.Context, accountID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransactionsByAccount, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListTransactions returns the owner's transactions matching filter, newest
// first. Rows on the same date are ordered by descending id.
func (q *Queries) ListTransactions(ctx context.Context, owner string, filter core.TransactionFilter) ([]core.Transaction, error) {
	var sb strings.Builder
	sb.WriteString(transactionSelect)
	sb.WriteString("\nWHERE t.owner = ?")
	args := []any{owner}

	if filter.AccountID > 0 {
		sb.WriteString(" AND t.account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Type != "" {
		sb.WriteString(" AND t.type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.From.IsZero() {
		sb.WriteString(" AND t.date >= ?")
		args = append(args, filter.From.String())
	}
	if !filter.To.IsZero() {
		sb.WriteString(" AND t.date <= ?")
		args = append(args, filter.To.String())
	}
	sb.WriteString("\nORDER BY t.date DESC, t.id DESC")

	rows, err := q.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
