package odds

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// Scale é a precisão das odds persistidas (NUMERIC(10,2))
const Scale = 2

var (
	// MinOdds é o menor multiplicador aceito para uma opção
	MinOdds = decimal.NewFromInt(1)
	// MaxOdds é o maior valor que cabe em NUMERIC(10,2)
	MaxOdds = decimal.RequireFromString("99999999.99")

	maxPoints = decimal.NewFromInt(math.MaxInt64)
)

// ErrPayoutOverflow indica amount * odds acima do que cabe em int64
var ErrPayoutOverflow = errors.New("payout exceeds int64 range")

// Payout calcula floor(amount * odds) em pontos inteiros
func Payout(amount int64, odds decimal.Decimal) (int64, error) {
	p := decimal.NewFromInt(amount).Mul(odds).Floor()
	if p.GreaterThan(maxPoints) {
		return 0, ErrPayoutOverflow
	}
	return p.IntPart(), nil
}

// Valid indica odds entre 1.00 e MaxOdds, com no máximo duas casas decimais
func Valid(odds decimal.Decimal) bool {
	if odds.LessThan(MinOdds) || odds.GreaterThan(MaxOdds) {
		return false
	}
	return odds.Equal(odds.Round(Scale))
}
