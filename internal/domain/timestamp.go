package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats seen in transaction feeds.
// Values without a zone are read as UTC. A blank value is the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnmarshalJSON accepts any timestamp layout ParseTimestamp knows,
// including the zone-less ISO form emitted by the data generator.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type plain Transaction
	aux := struct {
		*plain
		Timestamp *string `json:"timestamp"`
	}{plain: (*plain)(t)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timestamp == nil {
		return nil
	}
	ts, err := ParseTimestamp(*aux.Timestamp)
	if err != nil {
		return &InputError{Field: "timestamp", Reason: "is not a recognized date-time"}
	}
	t.Timestamp = ts
	return nil
}

// DecodeEmbedded decodes data into tx and then into rest, which holds the
// fields of a type embedding Transaction. Embedding types need it because
// the promoted Transaction.UnmarshalJSON would otherwise drop their own fields.
func DecodeEmbedded(data []byte, tx *Transaction, rest any) error {
	if err := tx.UnmarshalJSON(data); err != nil {
		return err
	}
	return json.Unmarshal(data, rest)
}

func (s *StoredTransaction) UnmarshalJSON(data []byte) error {
	var rest struct {
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := DecodeEmbedded(data, &s.Transaction, &rest); err != nil {
		return err
	}
	s.Status = rest.Status
	s.CreatedAt = rest.CreatedAt
	return nil
}

func (l *LabeledTransaction) UnmarshalJSON(data []byte) error {
	var rest struct {
		IsFraud bool `json:"is_fraud"`
	}
	if err := DecodeEmbedded(data, &l.Transaction, &rest); err != nil {
		return err
	}
	l.IsFraud = rest.IsFraud
	return nil
}
