package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Characteristic tells which side of a posting increases an account balance.
type Characteristic string

const (
	CharacteristicAsset     Characteristic = "A"
	CharacteristicLiability Characteristic = "P"
	CharacteristicOther     Characteristic = ""
)

// ParseCharacteristic maps the store's char_type codes, Cyrillic or Latin, to a Characteristic.
func ParseCharacteristic(raw string) Characteristic {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "A", "А":
		return CharacteristicAsset
	case "P", "П", "L":
		return CharacteristicLiability
	default:
		return CharacteristicOther
	}
}

// StoreCode returns the char_type code the store uses for c: Cyrillic А or П.
func (c Characteristic) StoreCode() string {
	switch c {
	case CharacteristicAsset:
		return "А"
	case CharacteristicLiability:
		return "П"
	default:
		return string(c)
	}
}

// Validity is a half-open [Start, End) interval. A zero End never expires.
type Validity struct {
	Start time.Time
	End   time.Time
}

// ValidOn reports whether the interval covers the given day.
func (v Validity) ValidOn(day time.Time) bool {
	if day.Before(v.Start) {
		return false
	}
	return v.End.IsZero() || day.Before(v.End)
}

// Account is one version of a ledger (personal) account.
type Account struct {
	ID             int64
	Number         string
	Characteristic Characteristic
	CurrencyID     int64
	CurrencyCode   string
	Validity       Validity
}

// LedgerPrefix returns the first n characters of the account number.
func (a Account) LedgerPrefix(n int) string {
	number := strings.TrimSpace(a.Number)
	if n <= 0 || len(number) < n {
		return number
	}
	return number[:n]
}

// ExchangeRate converts one currency into the base currency.
type ExchangeRate struct {
	CurrencyID int64
	Validity   Validity
	Rate       decimal.Decimal
}

// Posting is an immutable double-entry fact.
type Posting struct {
	Date            time.Time
	DebitAccountID  int64
	CreditAccountID int64
	DebitAmount     decimal.Decimal
	CreditAmount    decimal.Decimal
}

// HierarchyEntry maps a ledger account code to its chart-of-accounts chapter.
type HierarchyEntry struct {
	LedgerAccount     string
	LedgerAccountName string
	Chapter           string
	ChapterName       string
	SectionNumber     int
	SectionName       string
	Characteristic    Characteristic
	Validity          Validity
}

// DailyTurnover holds one account's debit and credit activity for a day.
type DailyTurnover struct {
	Date       time.Time
	AccountID  int64
	Debit      decimal.Decimal
	DebitBase  decimal.Decimal
	Credit     decimal.Decimal
	CreditBase decimal.Decimal
}

// DailyBalance is an account's closing balance for a day.
type DailyBalance struct {
	Date       time.Time
	AccountID  int64
	CurrencyID int64
	Out        decimal.Decimal
	OutBase    decimal.Decimal
}

// OpeningBalance is a row of the externally loaded balance snapshot.
type OpeningBalance struct {
	Date       time.Time
	AccountID  int64
	CurrencyID int64
	Out        decimal.Decimal
}

// Split divides an amount into local and foreign currency buckets.
type Split struct {
	Local   decimal.Decimal
	Foreign decimal.Decimal
	Total   decimal.Decimal
}

// Add accumulates amount into the local or foreign bucket.
func (s Split) Add(amount decimal.Decimal, local bool) Split {
	if local {
		s.Local = s.Local.Add(amount)
	} else {
		s.Foreign = s.Foreign.Add(amount)
	}
	s.Total = s.Total.Add(amount)
	return s
}

// ReportRow is one line of the regulatory report.
type ReportRow struct {
	FromDate       time.Time
	ToDate         time.Time
	Chapter        string
	LedgerAccount  string
	Characteristic Characteristic
	BalanceIn      Split
	TurnDebit      Split
	TurnCredit     Split
	BalanceOut     Split
}

// AccountBook indexes the account versions valid on a single day.
type AccountBook map[int64]Account

// NewAccountBook keeps the versions of accounts valid on day.
func NewAccountBook(accounts []Account, day time.Time) AccountBook {
	book := make(AccountBook, len(accounts))
	for _, acc := range accounts {
		if !acc.Validity.ValidOn(day) {
			continue
		}
		book[acc.ID] = acc
	}
	return book
}

// RateBook indexes exchange rates by currency for a single day.
type RateBook map[int64]decimal.Decimal

// NewRateBook keeps the rates effective on day. A later start wins when versions overlap.
func NewRateBook(rates []ExchangeRate, day time.Time) RateBook {
	book := make(RateBook, len(rates))
	starts := make(map[int64]time.Time, len(rates))
	for _, r := range rates {
		if !r.Validity.ValidOn(day) {
			continue
		}
		if prev, ok := starts[r.CurrencyID]; ok && prev.After(r.Validity.Start) {
			continue
		}
		starts[r.CurrencyID] = r.Validity.Start
		book[r.CurrencyID] = r.Rate
	}
	return book
}

// Rate returns the rate for currency, defaulting to one when absent.
func (b RateBook) Rate(currencyID int64) decimal.Decimal {
	if rate, ok := b[currencyID]; ok {
		return rate
	}
	return decimal.NewFromInt(1)
}

// RateForAccount resolves the account's currency on the book's day. Accounts
// without a valid version are treated as base currency.
func RateForAccount(accounts AccountBook, rates RateBook, accountID int64) decimal.Decimal {
	acc, ok := accounts[accountID]
	if !ok {
		return decimal.NewFromInt(1)
	}
	return rates.Rate(acc.CurrencyID)
}
