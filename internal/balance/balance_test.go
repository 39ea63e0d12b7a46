package balance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/ledger/ledgertest"
	"github.com/odyssey-erp/ledgermart/internal/runlog"
)

var (
	jan1  = time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2  = time.Date(2018, 1, 2, 0, 0, 0, 0, time.UTC)
	epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func acc(id int64, ch ledger.Characteristic) ledger.Account {
	return ledger.Account{ID: id, Number: "30102810000000000001", Characteristic: ch, CurrencyID: 643, CurrencyCode: "643", Validity: ledger.Validity{Start: epoch}}
}

func move(day time.Time, id int64, debit, credit string) ledger.DailyTurnover {
	return ledger.DailyTurnover{Date: day, AccountID: id, Debit: dec(debit), DebitBase: dec(debit), Credit: dec(credit), CreditBase: dec(credit)}
}

func TestApplyByCharacteristic(t *testing.T) {
	prev, debit, credit := dec("100"), dec("50"), dec("20")
	require.True(t, Apply(ledger.CharacteristicAsset, prev, debit, credit).Equal(dec("130")))
	require.True(t, Apply(ledger.CharacteristicLiability, prev, debit, credit).Equal(dec("70")))
	require.True(t, Apply(ledger.CharacteristicOther, prev, debit, credit).Equal(dec("100")))
}

func TestStepNewAccountStartsFromZero(t *testing.T) {
	rows, next := Step(jan1, []ledger.Account{acc(5, ledger.CharacteristicAsset)}, Carry{}, []ledger.DailyTurnover{move(jan1, 5, "10", "0")})
	require.Len(t, rows, 1)
	require.True(t, rows[0].Out.Equal(dec("10")))
	require.True(t, rows[0].OutBase.Equal(dec("10")))
	require.True(t, next[5].Out.Equal(dec("10")))
}

func TestStepKeepsIdleAndSkipsExpired(t *testing.T) {
	expired := acc(3, ledger.CharacteristicAsset)
	expired.Validity.End = jan1
	accounts := []ledger.Account{acc(1, ledger.CharacteristicLiability), expired}
	prior := Carry{1: {Out: dec("7"), OutBase: dec("7")}, 3: {Out: dec("9"), OutBase: dec("9")}}

	rows, next := Step(jan1, accounts, prior, nil)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0].AccountID)
	require.True(t, rows[0].Out.Equal(dec("7")))
	require.NotContains(t, next, int64(3))
}

func TestFoldCarriesForward(t *testing.T) {
	accounts := []ledger.Account{acc(1, ledger.CharacteristicAsset)}
	days := []Day{
		{Date: jan1, Accounts: accounts, Turnover: []ledger.DailyTurnover{move(jan1, 1, "50", "20")}},
		{Date: jan2, Accounts: accounts, Turnover: []ledger.DailyTurnover{move(jan2, 1, "0", "30")}},
	}
	rows, carry := Fold(Carry{1: {Out: dec("100"), OutBase: dec("100")}}, days)
	require.Len(t, rows, 2)
	require.True(t, rows[0].Out.Equal(dec("130")))
	require.True(t, rows[1].Out.Equal(dec("100")))
	require.True(t, carry[1].Out.Equal(dec("100")))
}

func TestFoldPartitionedMatchesFold(t *testing.T) {
	var accounts []ledger.Account
	seed := Carry{}
	for id := int64(1); id <= 23; id++ {
		ch := ledger.CharacteristicAsset
		if id%2 == 0 {
			ch = ledger.CharacteristicLiability
		}
		accounts = append(accounts, acc(id, ch))
		seed[id] = Amounts{Out: decimal.NewFromInt(id * 10), OutBase: decimal.NewFromInt(id * 20)}
	}
	var days []Day
	for i := 0; i < 10; i++ {
		day := jan1.AddDate(0, 0, i)
		var turnover []ledger.DailyTurnover
		for id := int64(1); id <= 23; id += int64(i%3 + 1) {
			turnover = append(turnover, move(day, id, decimal.NewFromInt(id+int64(i)).String(), decimal.NewFromInt(int64(i)).String()))
		}
		days = append(days, Day{Date: day, Accounts: accounts, Turnover: turnover})
	}

	want, wantCarry := Fold(seed, days)
	got, gotCarry, err := FoldPartitioned(context.Background(), seed, days, 4)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].Date, got[i].Date)
		require.Equal(t, want[i].AccountID, got[i].AccountID)
		require.True(t, want[i].Out.Equal(got[i].Out))
		require.True(t, want[i].OutBase.Equal(got[i].OutBase))
	}
	require.Len(t, gotCarry, len(wantCarry))
}

func TestSeedRowsValuesAtRate(t *testing.T) {
	rates := []ledger.ExchangeRate{{CurrencyID: 840, Rate: dec("60"), Validity: ledger.Validity{Start: epoch}}}
	snapshot := []ledger.OpeningBalance{
		{Date: jan1, AccountID: 2, CurrencyID: 840, Out: dec("3")},
		{Date: jan1, AccountID: 1, CurrencyID: 643, Out: dec("5")},
	}
	rows := SeedRows(jan1, snapshot, rates)
	require.Equal(t, int64(1), rows[0].AccountID)
	require.True(t, rows[0].OutBase.Equal(dec("5")))
	require.True(t, rows[1].OutBase.Equal(dec("180")))
}

func TestServiceRunReadsPriorDay(t *testing.T) {
	store := ledgertest.NewStore()
	store.Accounts = []ledger.Account{acc(1, ledger.CharacteristicAsset), acc(2, ledger.CharacteristicLiability)}
	store.PutBalances(jan1, ledger.DailyBalance{Date: jan1, AccountID: 1, Out: dec("100"), OutBase: dec("100")},
		ledger.DailyBalance{Date: jan1, AccountID: 2, Out: dec("100"), OutBase: dec("100")})
	store.PutTurnover(jan2, move(jan2, 1, "50", "20"), move(jan2, 2, "50", "20"))
	runs := &ledgertest.Runs{}
	svc := NewService(store, runs, nil)

	n, err := svc.Run(context.Background(), jan2)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	rows, err := store.BalancesOn(context.Background(), jan2)
	require.NoError(t, err)
	require.True(t, rows[0].Out.Equal(dec("130")))
	require.True(t, rows[1].Out.Equal(dec("70")))
	require.Equal(t, 1, runs.Count(runlog.UnitBalance, runlog.StatusSuccess))

	_, err = svc.Run(context.Background(), jan2)
	require.NoError(t, err)
	again, err := store.BalancesOn(context.Background(), jan2)
	require.NoError(t, err)
	require.Equal(t, rows, again)
}

func TestVerifyFindsDrift(t *testing.T) {
	store := ledgertest.NewStore()
	store.Accounts = []ledger.Account{acc(1, ledger.CharacteristicAsset)}
	store.PutBalances(jan1.AddDate(0, 0, -1), ledger.DailyBalance{AccountID: 1, Date: jan1.AddDate(0, 0, -1), Out: dec("10"), OutBase: dec("10")})
	store.PutTurnover(jan1, move(jan1, 1, "5", "0"))
	store.PutTurnover(jan2, move(jan2, 1, "5", "0"))
	svc := NewService(store, &ledgertest.Runs{}, nil)

	_, err := svc.Run(context.Background(), jan1)
	require.NoError(t, err)
	// jan2 stored without the prior day, as after a failed run
	store.PutBalances(jan2, ledger.DailyBalance{Date: jan2, AccountID: 1, Out: dec("5"), OutBase: dec("5")})

	v, err := svc.Verify(context.Background(), jan1, jan2, 2)
	require.NoError(t, err)
	require.Equal(t, 2, v.Checked)
	require.False(t, v.Clean())
	require.Len(t, v.Mismatches, 1)
	require.Equal(t, jan2, v.Mismatches[0].Date)
	require.True(t, v.Mismatches[0].Expected.Out.Equal(dec("20")))
	require.True(t, v.Mismatches[0].Stored.Out.Equal(dec("5")))
}
