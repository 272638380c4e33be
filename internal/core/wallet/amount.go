package wallet

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// GrothPerCoin is the number of indivisible units per whole coin.
const GrothPerCoin = 100_000_000

// PrintableAmount renders an amount for logs as a whole-coin decimal.
func PrintableAmount(a Amount) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -8)
	return d.String() + " MN"
}
