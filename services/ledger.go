package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"collar-backtest/interfaces"
)

// TransactionLedger is the append-only log of every trade, transaction cost
// and dividend payment of one backtest run. Records are never mutated or
// deleted and keep their insertion order.
type TransactionLedger struct {
	logger  *logrus.Logger
	records []interfaces.TransactionRecord
}

// NewTransactionLedger creates an empty ledger.
func NewTransactionLedger() *TransactionLedger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.WarnLevel)

	return &TransactionLedger{
		logger:  logger,
		records: make([]interfaces.TransactionRecord, 0),
	}
}

// SetLogLevel controls how chatty the ledger is; Debug echoes every record.
func (l *TransactionLedger) SetLogLevel(level logrus.Level) {
	l.logger.SetLevel(level)
}

// Log appends one record to the ledger.
func (l *TransactionLedger) Log(date time.Time, asset string, quantity float64, price float64, txType interfaces.TransactionType) {
	l.records = append(l.records, interfaces.TransactionRecord{
		Date:     date,
		Asset:    asset,
		Quantity: quantity,
		Price:    price,
		Type:     txType,
	})

	l.logger.WithFields(logrus.Fields{
		"date":     date.Format("2006-01-02"),
		"asset":    asset,
		"quantity": quantity,
		"price":    price,
		"type":     txType,
	}).Debug("Transaction logged")
}

// Records returns the ledger contents in insertion order. The returned slice
// must be treated as read-only.
func (l *TransactionLedger) Records() []interfaces.TransactionRecord {
	return l.records
}

// Len returns the number of records logged so far.
func (l *TransactionLedger) Len() int {
	return len(l.records)
}

// WriteCSV writes the ledger as a table for offline inspection.
func (l *TransactionLedger) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Date", "Asset", "Quantity", "Price", "Transaction Type"}); err != nil {
		return fmt.Errorf("failed to write ledger header: %w", err)
	}
	for _, r := range l.records {
		row := []string{
			r.Date.Format("2006-01-02"),
			r.Asset,
			fmt.Sprintf("%g", r.Quantity),
			fmt.Sprintf("%g", r.Price),
			string(r.Type),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write ledger row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
