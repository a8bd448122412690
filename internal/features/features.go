// Package features derives the model feature vector from a raw transaction.
package features

import (
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Feature names.
const (
	Amount           = "amount"
	AccountAgeDays   = "account_age_days"
	PreviousDisputes = "previous_disputes"
	Hour             = "hour"
	DayOfWeek        = "day_of_week"
	IsWeekend        = "is_weekend"
	TxType           = "tx_type"
	Location         = "location"
)

// Vector is the flat feature representation of one transaction.
// Time features are present only when the transaction carries a timestamp.
type Vector struct {
	Numeric     map[string]float64
	Categorical map[string]string
}

// Schema names the columns a model consumes, in column order.
type Schema struct {
	Numeric     []string
	Categorical []string
}

var (
	// DefaultSchema is the column set the detector is trained on.
	DefaultSchema = Schema{
		Numeric:     []string{Amount, AccountAgeDays, PreviousDisputes},
		Categorical: []string{TxType, Location},
	}

	// TimeAwareSchema adds the time-of-day and calendar features.
	TimeAwareSchema = Schema{
		Numeric:     []string{Amount, AccountAgeDays, PreviousDisputes, Hour, DayOfWeek, IsWeekend},
		Categorical: []string{TxType, Location},
	}
)

// Empty reports whether the schema names no columns.
func (s Schema) Empty() bool {
	return len(s.Numeric) == 0 && len(s.Categorical) == 0
}

// Derive builds the feature vector of a transaction. It has no side effects.
func Derive(tx domain.Transaction) Vector {
	v := Vector{
		Numeric: map[string]float64{
			Amount:           tx.Amount,
			AccountAgeDays:   float64(tx.AccountAgeDays),
			PreviousDisputes: float64(tx.PreviousDisputes),
		},
		Categorical: map[string]string{
			TxType:   tx.TxType,
			Location: tx.Location,
		},
	}

	if !tx.Timestamp.IsZero() {
		dow := Weekday(tx.Timestamp)
		v.Numeric[Hour] = float64(tx.Timestamp.Hour())
		v.Numeric[DayOfWeek] = float64(dow)
		if dow >= 5 {
			v.Numeric[IsWeekend] = 1
		} else {
			v.Numeric[IsWeekend] = 0
		}
	}

	return v
}

// Weekday returns the day of week with Monday as 0 and Sunday as 6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
