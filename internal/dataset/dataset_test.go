package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

const generatorCSV = `tx_id,sender_phone_hash,receiver_phone_hash,amount,time,location,device_id_hash,account_age_days,previous_disputes,tx_type,merchant_id,is_fraud,fraud_factors,hour_of_day,day_of_week,is_weekend
TX1000000001,aa11,bb22,1520.5,2023-05-14 13:22:01,Nairobi,dd33,812,0,send,,0,none,13,6,1
TX1000000002,aa12,bb23,64000.0,2023-06-01 02:10:00,Mombasa,dd34,12,2.0,buy,M00042,1,"high_amount,new_account",2,3,0
`

func TestRead(t *testing.T) {
	rows, err := Read(strings.NewReader(generatorCSV))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, "TX1000000001", first.TxID)
	assert.Equal(t, "aa11", first.SenderPhoneHash)
	assert.Equal(t, 1520.5, first.Amount)
	assert.Equal(t, "send", first.TxType)
	assert.Equal(t, 812, first.AccountAgeDays)
	assert.Empty(t, first.MerchantID)
	assert.False(t, first.IsFraud)
	assert.Equal(t, time.Date(2023, 5, 14, 13, 22, 1, 0, time.UTC), first.Timestamp)

	second := rows[1]
	assert.Equal(t, 2, second.PreviousDisputes)
	assert.Equal(t, "M00042", second.MerchantID)
	assert.True(t, second.IsFraud)

	s := Summarize(rows)
	assert.Equal(t, 2, s.Samples)
	assert.Equal(t, 1, s.FraudSamples)
	assert.InDelta(t, 0.5, s.FraudRate(), 1e-12)
}

func TestReadTimestampColumnOptional(t *testing.T) {
	csv := "tx_id,amount,tx_type,location,account_age_days,previous_disputes,is_fraud\n" +
		"T1,100,cash,Thika,5,0,true\n"

	rows, err := Read(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Timestamp.IsZero())
	assert.True(t, rows[0].IsFraud)
}

func TestReadErrors(t *testing.T) {
	const header = "tx_id,amount,tx_type,location,account_age_days,previous_disputes,is_fraud,timestamp\n"

	tests := []struct {
		name  string
		input string
		field string
	}{
		{"MissingColumn", "tx_id,amount\nT1,5\n", "tx_type"},
		{"BadAmount", header + "T1,lots,send,Kisii,5,0,0,\n", "line 2 column amount"},
		{"FractionalAge", header + "T1,5,send,Kisii,5.5,0,0,\n", "line 2 column account_age_days"},
		{"BadLabel", header + "T1,5,send,Kisii,5,0,0,\nT2,5,send,Kisii,5,0,maybe,\n", "line 3 column is_fraud"},
		{"BadTimestamp", header + "T1,5,send,Kisii,5,0,0,yesterday\n", "line 2 column timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedInput)
			assert.Equal(t, tt.field, domain.FieldOf(err))
		})
	}

	_, err := Read(strings.NewReader(""))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synthetic_transactions.csv")
	require.NoError(t, os.WriteFile(path, []byte(generatorCSV), 0o600))

	rows, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
