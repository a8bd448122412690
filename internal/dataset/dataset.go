// Package dataset reads labeled transaction CSVs for training and evaluation.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

var requiredColumns = []string{
	"tx_id",
	"amount",
	"tx_type",
	"location",
	"account_age_days",
	"previous_disputes",
	"is_fraud",
}

// LoadFile reads a labeled CSV file.
func LoadFile(path string) ([]domain.LabeledTransaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a labeled CSV with a header row. Columns are located by name;
// unknown columns such as derived features are ignored.
func Read(r io.Reader) ([]domain.LabeledTransaction, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("dataset: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, &domain.InputError{Field: col, Reason: "column is missing"}
		}
	}
	tsName := "timestamp"
	tsCol, hasTS := idx[tsName]
	if !hasTS {
		tsName = "time"
		tsCol, hasTS = idx[tsName]
	}

	var out []domain.LabeledTransaction
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("dataset: line %d: %w", line, err)
		}

		row := rowReader{rec: rec, idx: idx, line: line}
		lt := domain.LabeledTransaction{
			Transaction: domain.Transaction{
				TxID:              row.str("tx_id"),
				SenderPhoneHash:   row.str("sender_phone_hash"),
				ReceiverPhoneHash: row.str("receiver_phone_hash"),
				DeviceIDHash:      row.str("device_id_hash"),
				Amount:            row.float("amount"),
				TxType:            row.str("tx_type"),
				Location:          row.str("location"),
				MerchantID:        row.str("merchant_id"),
				AccountAgeDays:    row.int("account_age_days"),
				PreviousDisputes:  row.int("previous_disputes"),
			},
			IsFraud: row.bool("is_fraud"),
		}
		if hasTS && row.err == nil {
			ts, err := domain.ParseTimestamp(rec[tsCol])
			if err != nil {
				row.fail(tsName, err.Error())
			}
			lt.Timestamp = ts
		}
		if row.err != nil {
			return nil, row.err
		}
		out = append(out, lt)
	}
	return out, nil
}

// rowReader converts the cells of one record and keeps the first error.
type rowReader struct {
	rec  []string
	idx  map[string]int
	line int
	err  error
}

func (r *rowReader) fail(col, reason string) {
	if r.err == nil {
		r.err = &domain.InputError{
			Field:  fmt.Sprintf("line %d column %s", r.line, col),
			Reason: reason,
		}
	}
}

func (r *rowReader) str(col string) string {
	i, ok := r.idx[col]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *rowReader) float(col string) float64 {
	v, err := strconv.ParseFloat(r.str(col), 64)
	if err != nil {
		r.fail(col, "is not a number")
		return 0
	}
	return v
}

// int accepts integral floats such as "3.0", which pandas writes for
// columns that once held missing values.
func (r *rowReader) int(col string) int {
	s := r.str(col)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		r.fail(col, "is not an integer")
		return 0
	}
	return int(f)
}

func (r *rowReader) bool(col string) bool {
	switch strings.ToLower(r.str(col)) {
	case "1", "true":
		return true
	case "0", "false":
		return false
	}
	r.fail(col, "must be 0, 1, true or false")
	return false
}

// Stats summarizes a labeled set.
type Stats struct {
	Samples      int
	FraudSamples int
}

// FraudRate returns the share of fraudulent samples.
func (s Stats) FraudRate() float64 {
	if s.Samples == 0 {
		return 0
	}
	return float64(s.FraudSamples) / float64(s.Samples)
}

// Summarize counts samples and fraud labels.
func Summarize(rows []domain.LabeledTransaction) Stats {
	s := Stats{Samples: len(rows)}
	for _, r := range rows {
		if r.IsFraud {
			s.FraudSamples++
		}
	}
	return s
}
