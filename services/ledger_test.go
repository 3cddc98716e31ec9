package services

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collar-backtest/interfaces"
)

func TestLedgerPreservesInsertionOrder(t *testing.T) {
	ledger := NewTransactionLedger()
	day := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)

	ledger.Log(day, "TEST", 10, 100, interfaces.TransactionBuy)
	ledger.Log(day, "TEST", 10, 0.03, interfaces.TransactionCosts)
	ledger.Log(day.AddDate(0, 0, 5), "call, Maturity:30", 10, 1.25, interfaces.TransactionSell)

	records := ledger.Records()
	require.Len(t, records, 3)
	assert.Equal(t, interfaces.TransactionBuy, records[0].Type)
	assert.Equal(t, interfaces.TransactionCosts, records[1].Type)
	assert.Equal(t, "call, Maturity:30", records[2].Asset)
	assert.Equal(t, 3, ledger.Len())
}

func TestLedgerWriteCSV(t *testing.T) {
	ledger := NewTransactionLedger()
	day := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	ledger.Log(day, "TEST", 10, 99.5, interfaces.TransactionBuy)
	ledger.Log(day, "put, Maturity:180", 10, 0.04, interfaces.TransactionCosts)

	var buf bytes.Buffer
	require.NoError(t, ledger.WriteCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Date,Asset,Quantity,Price,Transaction Type", lines[0])
	assert.Equal(t, "2020-03-01,TEST,10,99.5,Buy", lines[1])
	assert.Contains(t, lines[2], "put, Maturity:180")
	assert.Contains(t, lines[2], "Transaction Costs")
}
