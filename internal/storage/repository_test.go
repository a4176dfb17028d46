package storage

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"wallet/internal/core"
)

const owner = "alice"

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

type fixture struct {
	repo    *SQLiteRepository
	account core.Account
	other   core.Account
	food    core.Category
	salary  core.Category
}

func newFixture(t *testing.T, opening int64) fixture {
	t.Helper()
	ctx := context.Background()
	repo := newTestRepo(t)

	account, err := repo.CreateAccount(ctx, owner, "Checking", core.Cents(opening))
	require.NoError(t, err)
	other, err := repo.CreateAccount(ctx, owner, "Savings", core.Cents(0))
	require.NoError(t, err)
	food, err := repo.CreateCategory(ctx, owner, "Food", core.Expense)
	require.NoError(t, err)
	salary, err := repo.CreateCategory(ctx, owner, "Salary", core.Income)
	require.NoError(t, err)

	return fixture{repo: repo, account: account, other: other, food: food, salary: salary}
}

func (f fixture) input(accountID int64, typ core.TxType, cents int64) core.TransactionInput {
	category := f.food.ID
	if typ == core.Income {
		category = f.salary.ID
	}
	return core.TransactionInput{
		AccountID:  accountID,
		CategoryID: category,
		Type:       typ,
		Amount:     core.Cents(cents),
		Date:       core.NewDate(2024, 3, 15),
	}
}

func (f fixture) balance(t *testing.T, accountID int64) int64 {
	t.Helper()
	a, err := f.repo.GetAccount(context.Background(), accountID, owner)
	require.NoError(t, err)
	return a.Balance.Cents
}

func TestCreateAccount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a, err := repo.CreateAccount(ctx, owner, "  Wallet  ", core.Cents(12345))
	require.NoError(t, err)
	assert.Equal(t, "Wallet", a.Name)
	assert.Equal(t, int64(12345), a.Balance.Cents)
	assert.Equal(t, int64(12345), a.OpeningBalance.Cents)

	tests := []struct {
		name    string
		owner   string
		account string
		opening int64
		want    error
	}{
		{"empty name", owner, "  ", 0, core.ErrEmptyName},
		{"negative opening", owner, "Cash", -1, core.ErrNegativeOpening},
		{"missing owner", "", "Cash", 0, core.ErrMissingOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.CreateAccount(ctx, tt.owner, tt.account, core.Cents(tt.opening))
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestRenameAccountKeepsBalance(t *testing.T) {
	f := newFixture(t, 10000)
	ctx := context.Background()

	_, err := f.repo.CreateTransaction(ctx, owner, f.input(f.account.ID, core.Expense, 2500))
	require.NoError(t, err)

	renamed, err := f.repo.RenameAccount(ctx, f.account.ID, owner, "Main")
	require.NoError(t, err)
	assert.Equal(t, "Main", renamed.Name)
	assert.Equal(t, int64(7500), renamed.Balance.Cents)

	_, err = f.repo.RenameAccount(ctx, f.account.ID, "bob", "Stolen")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCreateTransactionAdjustsBalance(t *testing.T) {
	f := newFixture(t, 10000)
	ctx := context.Background()

	tx, err := f.repo.CreateTransaction(ctx, owner, f.input(f.account.ID, core.Expense, 2550))
	require.NoError(t, err)
	assert.Equal(t, "Food", tx.CategoryName)
	assert.Equal(t, "Checking", tx.AccountName)
	assert.Equal(t, int64(7450), f.balance(t, f.account.ID))

	_, err = f.repo.CreateTransaction(ctx, owner, f.input(f.account.ID, core.Income, 100000))
	require.NoError(t, err)
	assert.Equal(t, int64(107450), f.balance(t, f.account.ID))
}

func TestCreateThenDeleteRestoresBalance(t *testing.T) {
	f := newFixture(t, 4200)
	ctx := context.Background()

	tx, err := f.repo.CreateTransaction(ctx, owner, f.input(f.account.ID, core.Expense, 1999))
	require.NoError(t, err)
	deleted, err := f.repo.DeleteTransaction(ctx, tx.ID, owner)
	require.NoError(t, err)

	assert.Equal(t, tx.ID, deleted.ID)
	assert.Equal(t, int64(4200), f.balance(t, f.account.ID))

	_, err = f.repo.GetTransaction(ctx, tx.ID, owner)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateTransaction(t *testing.T) {
	tests := []struct {
		name        string
		create      func(f fixture) core.TransactionInput
		update      func(f fixture, in core.TransactionInput) core.TransactionInput
		wantAccount int64
		wantOther   int64
	}{
		{
			name:   "unchanged values keep balance",
			create: func(f fixture) core.TransactionInput { return f.input(f.account.ID, core.Expense, 1000) },
			update: func(f fixture, in core.TransactionInput) core.TransactionInput {
				in.Description = "same money"
				return in
			},
			wantAccount: -1000,
		},
		{
			name:   "income 100 becomes expense 100",
			create: func(f fixture) core.TransactionInput { return f.input(f.account.ID, core.Income, 10000) },
			update: func(f fixture, _ core.TransactionInput) core.TransactionInput {
				return f.input(f.account.ID, core.Expense, 10000)
			},
			wantAccount: -10000,
		},
		{
			name:   "expense 50 moves to another account",
			create: func(f fixture) core.TransactionInput { return f.input(f.account.ID, core.Expense, 5000) },
			update: func(f fixture, _ core.TransactionInput) core.TransactionInput {
				return f.input(f.other.ID, core.Expense, 5000)
			},
			wantAccount: 0,
			wantOther:   -5000,
		},
		{
			name:   "amount grows",
			create: func(f fixture) core.TransactionInput { return f.input(f.account.ID, core.Expense, 1000) },
			update: func(f fixture, in core.TransactionInput) core.TransactionInput {
				in.Amount = core.Cents(1500)
				return in
			},
			wantAccount: -1500,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			ctx := context.Background()

			in := tt.create(f)
			tx, err := f.repo.CreateTransaction(ctx, owner, in)
			require.NoError(t, err)

			updated, err := f.repo.UpdateTransaction(ctx, tx.ID, owner, tt.update(f, in))
			require.NoError(t, err)
			assert.Equal(t, tx.ID, updated.ID)

			assert.Equal(t, tt.wantAccount, f.balance(t, f.account.ID))
			assert.Equal(t, tt.wantOther, f.balance(t, f.other.ID))
		})
	}
}

func TestTypeFlipMovesTwiceTheAmount(t *testing.T) {
	f := newFixture(t, 50000)
	ctx := context.Background()

	tx, err := f.repo.CreateTransaction(ctx, owner, f.input(f.account.ID, core.Income, 10000))
	require.NoError(t, err)
	before := f.balance(t, f.account.ID)

	_, err = f.repo.UpdateTransaction(ctx, tx.ID, owner, f.input(f.account.ID, core.Expense, 10000))
	require.NoError(t, err)
	assert.Equal(t, int64(-20000), f.balance(t, f.account.ID)-before)
}

func TestInvalidTransactionLeavesNoTrace(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	strangerAccount, err := f.repo.CreateAccount(ctx, "bob", "Bob's", core.Cents(0))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(in *core.TransactionInput)
		want   error
	}{
		{"zero amount", func(in *core.TransactionInput) { in.Amount = core.Cents(0) }, core.ErrInvalidAmount},
		{"negative amount", func(in *core.TransactionInput) { in.Amount = core.Cents(-5) }, core.ErrInvalidAmount},
		{"bad type", func(in *core.TransactionInput) { in.Type = "transfer" }, core.ErrInvalidType},
		{"missing date", func(in *core.TransactionInput) { in.Date = core.Date{} }, core.ErrInvalidDate},
		{"category of the other type", func(in *core.TransactionInput) { in.CategoryID = f.salary.ID }, core.ErrCategoryTypeMismatch},
		{"account of another owner", func(in *core.TransactionInput) { in.AccountID = strangerAccount.ID }, core.ErrForeignReference},
		{"unknown category", func(in *core.TransactionInput) { in.CategoryID = 9999 }, core.ErrForeignReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.input(f.account.ID, core.Expense, 100)
			tt.mutate(&in)
			_, err := f.repo.CreateTransaction(ctx, owner, in)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}

	txs, err := f.repo.ListTransactions(ctx, owner, core.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Equal(t, int64(1000), f.balance(t, f.account.ID))
}

func TestInvalidUpdateKeepsStoredRow(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	tx, err := f.repo.CreateTransaction(ctx, owner, f.input(f.account.ID, core.Expense, 700))
	require.NoError(t, err)

	bad := f.input(f.account.ID, core.Income, 700)
	bad.CategoryID = f.food.ID
	_, err = f.repo.UpdateTransaction(ctx, tx.ID, owner, bad)
	assert.ErrorIs(t, err, core.ErrCategoryTypeMismatch)

	stored, err := f.repo.GetTransaction(ctx, tx.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, core.Expense, stored.Type)
	assert.Equal(t, int64(-700), f.balance(t, f.account.ID))
}

func TestOtherOwnerSeesNotFound(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	tx, err := f.repo.CreateTransaction(ctx, owner, f.input(f.account.ID, core.Expense, 100))
	require.NoError(t, err)

	_, err = f.repo.GetTransaction(ctx, tx.ID, "bob")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.repo.UpdateTransaction(ctx, tx.ID, "bob", f.input(f.account.ID, core.Expense, 1))
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.repo.DeleteTransaction(ctx, tx.ID, "bob")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.repo.GetAccount(ctx, f.account.ID, "bob")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, f.repo.DeleteAccount(ctx, f.account.ID, "bob"), core.ErrNotFound)
	assert.ErrorIs(t, f.repo.DeleteCategory(ctx, f.food.ID, "bob"), core.ErrNotFound)

	assert.Equal(t, int64(-100), f.balance(t, f.account.ID))
}

func TestCategoryRules(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.repo.CreateCategory(ctx, owner, "Food", core.Expense)
	assert.ErrorIs(t, err, core.ErrConflict, "duplicate name and type")

	_, err = f.repo.CreateCategory(ctx, owner, "Food", core.Income)
	require.NoError(t, err, "same name with the other type is allowed")

	_, err = f.repo.CreateCategory(ctx, "bob", "Food", core.Expense)
	require.NoError(t, err, "names are unique per owner")

	_, err = f.repo.CreateTransaction(ctx, owner, f.input(f.account.ID, core.Expense, 100))
	require.NoError(t, err)

	err = f.repo.DeleteCategory(ctx, f.food.ID, owner)
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = f.repo.UpdateCategory(ctx, f.food.ID, owner, "Groceries", core.Income)
	assert.ErrorIs(t, err, core.ErrConflict)

	renamed, err := f.repo.UpdateCategory(ctx, f.food.ID, owner, "Groceries", core.Expense)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", renamed.Name)

	unused, err := f.repo.CreateCategory(ctx, owner, "Gifts", core.Expense)
	require.NoError(t, err)
	flipped, err := f.repo.UpdateCategory(ctx, unused.ID, owner, "Gifts", core.Income)
	require.NoError(t, err)
	assert.Equal(t, core.Income, flipped.Type)
	require.NoError(t, f.repo.DeleteCategory(ctx, unused.ID, owner))

	expense := core.Expense
	listed, err := f.repo.ListCategories(ctx, owner, &expense)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Groceries", listed[0].Name)

	all, err := f.repo.ListCategories(ctx, owner, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteAccountCascades(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.repo.CreateTransaction(ctx, owner, f.input(f.account.ID, core.Expense, 100))
	require.NoError(t, err)
	kept, err := f.repo.CreateTransaction(ctx, owner, f.input(f.other.ID, core.Income, 300))
	require.NoError(t, err)

	require.NoError(t, f.repo.DeleteAccount(ctx, f.account.ID, owner))

	_, err = f.repo.GetAccount(ctx, f.account.ID, owner)
	assert.ErrorIs(t, err, core.ErrNotFound)

	txs, err := f.repo.ListTransactions(ctx, owner, core.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, kept.ID, txs[0].ID)
	assert.Equal(t, int64(300), f.balance(t, f.other.ID))

	// The category is free again once its transactions are gone.
	require.NoError(t, f.repo.DeleteCategory(ctx, f.food.ID, owner))
}

func TestListTransactionsOrderAndFilters(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	add := func(accountID int64, typ core.TxType, day int) core.Transaction {
		in := f.input(accountID, typ, 100)
		in.Date = core.NewDate(2024, 3, day)
		tx, err := f.repo.CreateTransaction(ctx, owner, in)
		require.NoError(t, err)
		return tx
	}
	a := add(f.account.ID, core.Expense, 1)
	b := add(f.account.ID, core.Income, 10)
	c := add(f.other.ID, core.Expense, 10)
	d := add(f.account.ID, core.Expense, 20)

	ids := func(txs []core.Transaction) []int64 {
		out := make([]int64, len(txs))
		for i, tx := range txs {
			out[i] = tx.ID
		}
		return out
	}

	all, err := f.repo.ListTransactions(ctx, owner, core.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{d.ID, c.ID, b.ID, a.ID}, ids(all))

	byAccount, err := f.repo.ListTransactions(ctx, owner, core.TransactionFilter{AccountID: f.account.ID})
	require.NoError(t, err)
	assert.Equal(t, []int64{d.ID, b.ID, a.ID}, ids(byAccount))

	expenses, err := f.repo.ListTransactions(ctx, owner, core.TransactionFilter{Type: core.Expense})
	require.NoError(t, err)
	assert.Equal(t, []int64{d.ID, c.ID, a.ID}, ids(expenses))

	ranged, err := f.repo.ListTransactions(ctx, owner, core.TransactionFilter{
		From: core.NewDate(2024, 3, 5),
		To:   core.NewDate(2024, 3, 10),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID, b.ID}, ids(ranged))

	none, err := f.repo.ListTransactions(ctx, "bob", core.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConcurrentExpensesAreAllApplied(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	const n = 20

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := f.repo.CreateTransaction(ctx, owner, f.input(f.account.ID, core.Expense, 100))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(-n*100), f.balance(t, f.account.ID))
}

// Random create/update/delete sequences must leave every cached balance equal
// to its recomputation.
func TestRandomOperationsKeepBalancesConsistent(t *testing.T) {
	f := newFixture(t, 2500)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	accounts := []int64{f.account.ID, f.other.ID}
	types := []core.TxType{core.Income, core.Expense}

	var live []int64
	for step := 0; step < 60; step++ {
		in := f.input(accounts[rng.Intn(2)], types[rng.Intn(2)], int64(rng.Intn(50000)+1))
		switch op := rng.Intn(3); {
		case op == 0 || len(live) == 0:
			tx, err := f.repo.CreateTransaction(ctx, owner, in)
			require.NoError(t, err)
			live = append(live, tx.ID)
		case op == 1:
			_, err := f.repo.UpdateTransaction(ctx, live[rng.Intn(len(live))], owner, in)
			require.NoError(t, err)
		default:
			i := rng.Intn(len(live))
			_, err := f.repo.DeleteTransaction(ctx, live[i], owner)
			require.NoError(t, err)
			live = append(live[:i], live[i+1:]...)
		}
	}

	audits, err := f.repo.AuditOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	for _, a := range audits {
		assert.True(t, a.Consistent(), "account %d drifted by %s", a.AccountID, a.Drift())
	}
}

func TestClassifyLeavesForeignErrorsAlone(t *testing.T) {
	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))
	assert.NoError(t, classify(nil))
}

func TestLockedDatabaseReportsConcurrency(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wallet.db")
	repo, err := NewSQLiteRepository(path, WithBusyTimeout(50*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	account, err := repo.CreateAccount(ctx, owner, "Checking", core.Cents(1000))
	require.NoError(t, err)
	food, err := repo.CreateCategory(ctx, owner, "Food", core.Expense)
	require.NoError(t, err)

	// A second connection holds the write lock for the whole call.
	other, err := sql.Open("sqlite", dsn(path, 0))
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	holder, err := other.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = holder.ExecContext(ctx, `UPDATE accounts SET name = name WHERE id = ?`, account.ID)
	require.NoError(t, err)

	_, err = repo.CreateTransaction(ctx, owner, core.TransactionInput{
		AccountID:  account.ID,
		CategoryID: food.ID,
		Type:       core.Expense,
		Amount:     core.Cents(250),
		Date:       core.NewDate(2024, 3, 15),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConcurrency)
	require.NoError(t, holder.Rollback())

	got, err := repo.GetAccount(ctx, account.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance.Cents)
	txs, err := repo.ListTransactions(ctx, owner, core.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestFailedBalanceWriteRollsBackTransaction(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	_, err := f.repo.db.ExecContext(ctx, `
CREATE TRIGGER freeze_balance BEFORE UPDATE OF balance_cents ON accounts
BEGIN
	SELECT RAISE(ABORT, 'balance frozen');
END`)
	require.NoError(t, err)

	_, err = f.repo.CreateTransaction(ctx, owner, f.input(f.account.ID, core.Expense, 300))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "balance frozen")
	assert.NotErrorIs(t, err, core.ErrValidation, "the row was already written when the balance update failed")

	txs, err := f.repo.ListTransactions(ctx, owner, core.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Equal(t, int64(1000), f.balance(t, f.account.ID))
}
