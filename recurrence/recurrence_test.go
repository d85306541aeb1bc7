package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_Daily(t *testing.T) {
	for day := 1; day <= 10; day++ {
		today := time.Date(2026, 7, day, 0, 0, 0, 0, time.UTC)
		fires, err := Evaluate(Entry{Period: Daily}, today)
		require.NoError(t, err)
		assert.True(t, fires)
	}
}

func TestEvaluate_Weekly(t *testing.T) {
	anchor := time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC) // a Monday
	entry := Entry{Period: Weekly, Anchor: anchor}

	monday := time.Date(2026, 7, 13, 0, 0, 0, 0, time.UTC)
	fires, err := Evaluate(entry, monday)
	require.NoError(t, err)
	assert.True(t, fires)

	tuesday := time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC)
	fires, err = Evaluate(entry, tuesday)
	require.NoError(t, err)
	assert.False(t, fires)
}

func TestEvaluate_Monthly(t *testing.T) {
	anchor := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	entry := Entry{Period: Monthly, Anchor: anchor}

	matching := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	fires, err := Evaluate(entry, matching)
	require.NoError(t, err)
	assert.True(t, fires)

	notMatching := time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)
	fires, err = Evaluate(entry, notMatching)
	require.NoError(t, err)
	assert.False(t, fires)
}

func TestEvaluate_MonthlyShortMonthNeverFires(t *testing.T) {
	// Resolved open question: anchor day 31 never fires in a 30-day (or
	// shorter) month.
	anchor := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	entry := Entry{Period: Monthly, Anchor: anchor}

	for day := 1; day <= 30; day++ {
		today := time.Date(2026, 4, day, 0, 0, 0, 0, time.UTC) // April has 30 days
		fires, err := Evaluate(entry, today)
		require.NoError(t, err)
		assert.False(t, fires, "day %d of April should not fire for anchor day 31", day)
	}

	// But March (31 days) does fire on the 31st.
	fires, err := Evaluate(entry, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, fires)
}

func TestEvaluate_CronWithinToday(t *testing.T) {
	today := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	entry := Entry{Period: Cron, CronExpr: "30 7 * * *"} // 07:30 every day
	fires, err := Evaluate(entry, today)
	require.NoError(t, err)
	assert.True(t, fires)
}

func TestEvaluate_CronDayOfWeekRestriction(t *testing.T) {
	entry := Entry{Period: Cron, CronExpr: "0 7 * * 1"} // Mondays only at 07:00

	monday := time.Date(2026, 7, 13, 0, 0, 0, 0, time.UTC)
	fires, err := Evaluate(entry, monday)
	require.NoError(t, err)
	assert.True(t, fires)

	tuesday := time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC)
	fires, err = Evaluate(entry, tuesday)
	require.NoError(t, err)
	assert.False(t, fires)
}

func TestEvaluate_CronInvalidExpression(t *testing.T) {
	entry := Entry{Period: Cron, CronExpr: "not a cron expression"}
	_, err := Evaluate(entry, time.Now())
	assert.Error(t, err)
}

func TestEvaluate_UnknownPeriod(t *testing.T) {
	_, err := Evaluate(Entry{Period: Period(99)}, time.Now())
	assert.Error(t, err)
}
