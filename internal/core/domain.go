package core

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Income  TxType = "income"
	Expense TxType = "expense"
)

const (
	maxNameLen          = 120
	maxDescriptionLen   = 255
	maxPaymentMethodLen = 50
	dateLayout          = "2006-01-02"
)

type (
	// TxType is the direction of a transaction.
	TxType string

	// Date is a calendar day in UTC.
	Date struct {
		time.Time
	}

	Account struct {
		ID             int64     `json:"id"`
		Owner          string    `json:"owner"`
		Name           string    `json:"name"`
		OpeningBalance Money     `json:"opening_balance"`
		Balance        Money     `json:"balance"`
		CreatedAt      time.Time `json:"created_at"`
	}

	Category struct {
		ID    int64  `json:"id"`
		Owner string `json:"owner"`
		Name  string `json:"name"`
		Type  TxType `json:"type"`
	}

	Transaction struct {
		ID            int64     `json:"id"`
		Owner         string    `json:"owner"`
		AccountID     int64     `json:"account_id"`
		AccountName   string    `json:"account_name,omitempty"`
		CategoryID    int64     `json:"category_id"`
		CategoryName  string    `json:"category_name,omitempty"`
		Type          TxType    `json:"type"`
		Amount        Money     `json:"amount"`
		Date          Date      `json:"date"`
		Description   string    `json:"description,omitempty"`
		PaymentMethod string    `json:"payment_method,omitempty"`
		Note          string    `json:"note,omitempty"`
		CreatedAt     time.Time `json:"created_at"`
		UpdatedAt     time.Time `json:"updated_at"`
	}

	// TransactionInput is the editable part of a transaction. Owner and ID are
	// never taken from input.
	TransactionInput struct {
		AccountID     int64
		CategoryID    int64
		Type          TxType
		Amount        Money
		Date          Date
		Description   string
		PaymentMethod string
		Note          string
	}

	// Snapshot is the part of a transaction that determines its balance
	// contribution.
	Snapshot struct {
		AccountID int64
		Type      TxType
		Amount    Money
	}

	// TransactionFilter narrows a transaction listing. Zero values mean no filter.
	TransactionFilter struct {
		AccountID int64
		Type      TxType
		From      Date
		To        Date
	}
)

func ParseTxType(s string) (TxType, error) {
	t := TxType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ErrInvalidType
	}
	return t, nil
}

func (t TxType) Valid() bool {
	return t == Income || t == Expense
}

func (t TxType) String() string {
	return string(t)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ValidateName trims and checks an account or category name.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", ErrNameTooLong
	}
	return name, nil
}

// ValidateOpening checks the balance an account is created with.
func ValidateOpening(m Money) error {
	if m.Cents < 0 {
		return ErrNegativeOpening
	}
	return nil
}

// Validate checks field-level invariants. Ownership and category/type
// agreement need the referenced rows and are checked by the store.
func (in TransactionInput) Validate() error {
	if in.AccountID <= 0 {
		return ErrMissingAccount
	}
	if in.CategoryID <= 0 {
		return ErrMissingCategory
	}
	if !in.Type.Valid() {
		return ErrInvalidType
	}
	if err := in.Amount.ValidateAmount(); err != nil {
		return err
	}
	if err := in.Date.Validate(); err != nil {
		return err
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	if utf8.RuneCountInString(in.PaymentMethod) > maxPaymentMethodLen {
		return ErrPaymentMethodTooLong
	}
	return nil
}

// Normalized returns a copy with trimmed text fields.
func (in TransactionInput) Normalized() TransactionInput {
	in.Description = strings.TrimSpace(in.Description)
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	in.Note = strings.TrimSpace(in.Note)
	return in
}

func (in TransactionInput) Snapshot() Snapshot {
	return Snapshot{AccountID: in.AccountID, Type: in.Type, Amount: in.Amount}
}

func (t Transaction) Snapshot() Snapshot {
	return Snapshot{AccountID: t.AccountID, Type: t.Type, Amount: t.Amount}
}

// Input returns the editable fields of t, for callers that change only a few.
func (t Transaction) Input() TransactionInput {
	return TransactionInput{
		AccountID:     t.AccountID,
		CategoryID:    t.CategoryID,
		Type:          t.Type,
		Amount:        t.Amount,
		Date:          t.Date,
		Description:   t.Description,
		PaymentMethod: t.PaymentMethod,
		Note:          t.Note,
	}
}
