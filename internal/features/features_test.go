package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

func sampleTx() domain.Transaction {
	return domain.Transaction{
		TxID:             "TX1000000001",
		Amount:           1250.5,
		TxType:           "send",
		Location:         "Nairobi",
		AccountAgeDays:   45,
		PreviousDisputes: 1,
	}
}

func TestDerive(t *testing.T) {
	t.Run("WithoutTimestamp", func(t *testing.T) {
		v := Derive(sampleTx())

		assert.Equal(t, 1250.5, v.Numeric[Amount])
		assert.Equal(t, 45.0, v.Numeric[AccountAgeDays])
		assert.Equal(t, 1.0, v.Numeric[PreviousDisputes])
		assert.Equal(t, "send", v.Categorical[TxType])
		assert.Equal(t, "Nairobi", v.Categorical[Location])

		_, hasHour := v.Numeric[Hour]
		assert.False(t, hasHour, "time features must be omitted without a timestamp")
		assert.Len(t, v.Numeric, 3)
	})

	t.Run("Weekday", func(t *testing.T) {
		tx := sampleTx()
		// 2023-06-14 is a Wednesday
		tx.Timestamp = time.Date(2023, 6, 14, 21, 30, 0, 0, time.UTC)

		v := Derive(tx)
		assert.Equal(t, 21.0, v.Numeric[Hour])
		assert.Equal(t, 2.0, v.Numeric[DayOfWeek])
		assert.Equal(t, 0.0, v.Numeric[IsWeekend])
	})

	t.Run("Weekend", func(t *testing.T) {
		tx := sampleTx()
		tx.Timestamp = time.Date(2023, 6, 18, 3, 0, 0, 0, time.UTC) // Sunday

		v := Derive(tx)
		assert.Equal(t, 6.0, v.Numeric[DayOfWeek])
		assert.Equal(t, 1.0, v.Numeric[IsWeekend])
	})

	t.Run("Idempotent", func(t *testing.T) {
		tx := sampleTx()
		tx.Timestamp = time.Date(2023, 1, 2, 8, 0, 0, 0, time.UTC)
		assert.Equal(t, Derive(tx), Derive(tx))
	})
}

func TestWeekdayMondayFirst(t *testing.T) {
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		assert.Equal(t, i, Weekday(monday.AddDate(0, 0, i)))
	}
}
