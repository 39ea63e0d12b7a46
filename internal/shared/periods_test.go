package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEachDayCoversInclusiveRange(t *testing.T) {
	days, err := EachDay(time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2018, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, days, 31)
	require.Equal(t, "2018-01-01", FormatDate(days[0]))
	require.Equal(t, "2018-01-31", FormatDate(days[30]))
}

func TestEachDayRejectsInvertedRange(t *testing.T) {
	_, err := EachDay(time.Date(2018, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestMonthBounds(t *testing.T) {
	feb := time.Date(2020, 2, 14, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "2020-02-01", FormatDate(FirstOfMonth(feb)))
	require.Equal(t, "2020-02-29", FormatDate(LastOfMonth(feb)))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2018-01-31 ")
	require.NoError(t, err)
	require.Equal(t, time.Date(2018, 1, 31, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("31.01.2018")
	require.Error(t, err)
}
