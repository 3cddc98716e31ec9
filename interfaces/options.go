package interfaces

import (
	"fmt"
	"time"
)

// OptionType identifies a European call or put.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// PremiumSign returns the cash-flow sign of entering one unit of the
// position the collar holds for this option type: calls are written, so
// entering receives the premium; puts are bought, so entering pays it.
func (t OptionType) PremiumSign() float64 {
	if t == OptionCall {
		return 1
	}
	return -1
}

// MarkSign returns the sign a marked rung contributes to portfolio value.
// Short calls are a liability, long puts an asset.
func (t OptionType) MarkSign() float64 {
	return -t.PremiumSign()
}

// OptionKey identifies one rung of an option ladder within Holdings.
type OptionKey struct {
	Type      OptionType
	TenorDays int
}

// Label returns the asset label used in ledger records, e.g. "put, Maturity:180".
func (k OptionKey) Label() string {
	return fmt.Sprintf("%s, Maturity:%d", k.Type, k.TenorDays)
}

// LadderRung is one maturity slot of an option ladder. The strike and entry
// price are fixed when the rung is entered; the maturity date comes from the
// precomputed maturity calendar. Quantity is a multiple of the contract size.
type LadderRung struct {
	TenorDays  int       `json:"tenor_days"`
	Strike     float64   `json:"strike"`
	EntryPrice float64   `json:"entry_price"`
	Maturity   time.Time `json:"maturity"`
	Quantity   int64     `json:"quantity"`
}
