// Command wallet is the administrative CLI of the ledger.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"wallet/internal/amqp"
	"wallet/internal/cache"
	"wallet/internal/cli"
	"wallet/internal/config"
	"wallet/internal/core"
	applog "wallet/internal/log"
	"wallet/internal/services"
	"wallet/internal/storage"
)

const usage = `usage: wallet <command> [flags]

commands:
  migrate                                   apply schema migrations
  open-account  -owner -name [-opening]     create an account
  close-account -owner -id                  delete an account and its transactions
  add-category  -owner -name -type          create a category
  remove-category -owner -id                delete an unused category
  expense       -owner -account -category -amount [-date -desc -payment -note]
  income        -owner -account -category -amount [-date -desc -payment -note]
  edit-tx       -owner -id [-account -category -type -amount -date -desc -payment -note]
                                            change the given fields of a transaction
  delete-tx     -owner -id                  delete a transaction
  accounts      -owner                      list accounts with balances
  transactions  -owner [-account -type -from -to]
  audit         [-owner]                    compare cached and recomputed balances
  summary       -owner [-year -month]       print the dashboard as JSON
`

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := cli.LoadAndValidateConfig(logger)
	if err := run(context.Background(), cfg, logger, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Error("Command failed",
			"command", os.Args[1],
			applog.FieldErrorType, cli.ErrorType(err),
			applog.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *applog.Logger, command string, args []string) error {
	if command == "migrate" {
		return migrate(cfg)
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	owner := fs.String("owner", "", "owner of the ledger")

	repo := cli.InitSQLite(logger, cfg)
	summaries := services.NewSummaryService(repo,
		cache.NewLRUCache[core.Dashboard](cfg.SummaryCacheSize, cfg.SummaryCacheTTL), logger)
	ledger := services.NewLedgerService(repo, newPublisher(cfg, logger), summaries, logger)
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Warn("Close failed", applog.FieldError, err)
		}
	}()

	switch command {
	case "open-account":
		name := fs.String("name", "", "account name")
		opening := fs.String("opening", "0", "opening balance, e.g. 250.00")
		if err := fs.Parse(args); err != nil {
			return err
		}
		amount, err := core.ParseMoney(*opening)
		if err != nil {
			return err
		}
		account, err := ledger.OpenAccount(ctx, *owner, *name, amount)
		if err != nil {
			return err
		}
		return printJSON(account)

	case "close-account":
		id := fs.Int64("id", 0, "account id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return ledger.CloseAccount(ctx, *id, *owner)

	case "remove-category":
		id := fs.Int64("id", 0, "category id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return ledger.RemoveCategory(ctx, *id, *owner)

	case "add-category":
		name := fs.String("name", "", "category name")
		typ := fs.String("type", "", "income or expense")
		if err := fs.Parse(args); err != nil {
			return err
		}
		txType, err := core.ParseTxType(*typ)
		if err != nil {
			return err
		}
		category, err := ledger.AddCategory(ctx, *owner, *name, txType)
		if err != nil {
			return err
		}
		return printJSON(category)

	case "expense", "income":
		in, err := parseTransactionInput(fs, args)
		if err != nil {
			return err
		}
		record := ledger.RecordExpense
		if command == "income" {
			record = ledger.RecordIncome
		}
		tx, err := record(ctx, *owner, in)
		if err != nil {
			return err
		}
		return printJSON(tx)

	case "edit-tx":
		id := fs.Int64("id", 0, "transaction id")
		for _, name := range editableFlags {
			fs.String(name, "", "new "+name)
		}
		if err := fs.Parse(args); err != nil {
			return err
		}
		changes := map[string]string{}
		fs.Visit(func(f *flag.Flag) {
			if f.Name != "owner" && f.Name != "id" {
				changes[f.Name] = f.Value.String()
			}
		})
		current, err := repo.GetTransaction(ctx, *id, *owner)
		if err != nil {
			return err
		}
		in, err := applyEdits(current.Input(), changes)
		if err != nil {
			return err
		}
		tx, err := ledger.EditTransaction(ctx, *id, *owner, in)
		if err != nil {
			return err
		}
		return printJSON(tx)

	case "delete-tx":
		id := fs.Int64("id", 0, "transaction id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return ledger.RemoveTransaction(ctx, *id, *owner)

	case "accounts":
		if err := fs.Parse(args); err != nil {
			return err
		}
		accounts, err := repo.ListAccounts(ctx, *owner)
		if err != nil {
			return err
		}
		return printJSON(accounts)

	case "transactions":
		account := fs.Int64("account", 0, "only this account")
		typ := fs.String("type", "", "only income or expense")
		from := fs.String("from", "", "first day, YYYY-MM-DD")
		to := fs.String("to", "", "last day, YYYY-MM-DD")
		if err := fs.Parse(args); err != nil {
			return err
		}
		filter := core.TransactionFilter{AccountID: *account}
		var err error
		if *typ != "" {
			if filter.Type, err = core.ParseTxType(*typ); err != nil {
				return err
			}
		}
		if *from != "" {
			if filter.From, err = core.ParseDate(*from); err != nil {
				return err
			}
		}
		if *to != "" {
			if filter.To, err = core.ParseDate(*to); err != nil {
				return err
			}
		}
		txs, err := repo.ListTransactions(ctx, *owner, filter)
		if err != nil {
			return err
		}
		return printJSON(txs)

	case "audit":
		if err := fs.Parse(args); err != nil {
			return err
		}
		var (
			audits []core.BalanceAudit
			err    error
		)
		if *owner != "" {
			audits, err = repo.AuditOwner(ctx, *owner)
		} else {
			audits, err = repo.AuditAll(ctx)
		}
		if err != nil {
			return err
		}
		drifted := 0
		for _, a := range audits {
			if !a.Consistent() {
				drifted++
			}
		}
		if err := printJSON(audits); err != nil {
			return err
		}
		if drifted > 0 {
			return fmt.Errorf("%d of %d accounts drifted", drifted, len(audits))
		}
		return nil

	case "summary":
		now := time.Now()
		year := fs.Int("year", now.Year(), "year of the dashboard")
		month := fs.Int("month", int(now.Month()), "month of the dashboard, 1-12")
		if err := fs.Parse(args); err != nil {
			return err
		}
		dashboard, err := summaries.Dashboard(ctx, *owner, *year, *month)
		if err != nil {
			return err
		}
		return printJSON(dashboard)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func migrate(cfg *config.Config) error {
	if err := storage.RunMigrations(cfg.SQLiteDBPath); err != nil {
		return err
	}
	version, dirty, err := storage.SchemaVersion(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

func parseTransactionInput(fs *flag.FlagSet, args []string) (core.TransactionInput, error) {
	account := fs.Int64("account", 0, "account id")
	category := fs.Int64("category", 0, "category id")
	amount := fs.String("amount", "", "amount, e.g. 12.50")
	date := fs.String("date", time.Now().Format("2006-01-02"), "day, YYYY-MM-DD")
	desc := fs.String("desc", "", "description")
	payment := fs.String("payment", "", "payment method")
	note := fs.String("note", "", "free-form note")
	if err := fs.Parse(args); err != nil {
		return core.TransactionInput{}, err
	}

	money, err := core.ParseAmount(*amount)
	if err != nil {
		return core.TransactionInput{}, err
	}
	day, err := core.ParseDate(*date)
	if err != nil {
		return core.TransactionInput{}, err
	}
	return core.TransactionInput{
		AccountID:     *account,
		CategoryID:    *category,
		Amount:        money,
		Date:          day,
		Description:   *desc,
		PaymentMethod: *payment,
		Note:          *note,
	}, nil
}

var editableFlags = []string{"account", "category", "type", "amount", "date", "desc", "payment", "note"}

// applyEdits overwrites the fields named in changes, keyed by flag name.
func applyEdits(in core.TransactionInput, changes map[string]string) (core.TransactionInput, error) {
	for name, value := range changes {
		var err error
		switch name {
		case "account":
			in.AccountID, err = strconv.ParseInt(value, 10, 64)
		case "category":
			in.CategoryID, err = strconv.ParseInt(value, 10, 64)
		case "type":
			in.Type, err = core.ParseTxType(value)
		case "amount":
			in.Amount, err = core.ParseAmount(value)
		case "date":
			in.Date, err = core.ParseDate(value)
		case "desc":
			in.Description = value
		case "payment":
			in.PaymentMethod = value
		case "note":
			in.Note = value
		default:
			err = fmt.Errorf("not editable")
		}
		if err != nil {
			return core.TransactionInput{}, fmt.Errorf("-%s: %w", name, err)
		}
	}
	return in, nil
}

// newPublisher connects to the broker when one is configured. A CLI run
// without a reachable broker still commits; the worker's sweep covers it.
func newPublisher(cfg *config.Config, logger *applog.Logger) services.EventPublisher {
	if !cfg.EventsEnabled() {
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Warn("AMQP unavailable, events will not be published", applog.FieldError, err)
		return nil
	}
	return client
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
