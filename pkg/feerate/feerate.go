// Package feerate provides the fee quotes the batch processor uses to price
// metered gas. A quote carries the network base fee and a suggested priority
// fee; the effective rate an operation pays is capped by its own fee fields.
package feerate

import (
	"context"
	"math/big"
)

// Quote is a point-in-time fee observation.
type Quote struct {
	BaseFee     *big.Int `json:"baseFee"`
	PriorityFee *big.Int `json:"priorityFee"`
}

// Source produces the current fee quote.
type Source interface {
	Current(ctx context.Context) (*Quote, error)
}

// Static always returns the same quote. Used for deterministic processing and
// in tests.
type Static struct {
	Quote Quote
}

func NewStatic(baseFee, priorityFee *big.Int) *Static {
	return &Static{Quote: Quote{
		BaseFee:     new(big.Int).Set(baseFee),
		PriorityFee: new(big.Int).Set(priorityFee),
	}}
}

func (s *Static) Current(ctx context.Context) (*Quote, error) {
	return &Quote{
		BaseFee:     new(big.Int).Set(s.Quote.BaseFee),
		PriorityFee: new(big.Int).Set(s.Quote.PriorityFee),
	}, nil
}

// EffectiveGasPrice resolves the rate an operation actually pays for one unit
// of gas: base fee plus tip, where the tip is capped by maxPriorityFeePerGas
// and the total is capped by maxFeePerGas.
func EffectiveGasPrice(q *Quote, maxFeePerGas, maxPriorityFeePerGas *big.Int) *big.Int {
	tip := new(big.Int).Set(q.PriorityFee)
	if maxPriorityFeePerGas != nil && tip.Cmp(maxPriorityFeePerGas) > 0 {
		tip.Set(maxPriorityFeePerGas)
	}

	price := new(big.Int).Add(q.BaseFee, tip)
	if maxFeePerGas != nil && price.Cmp(maxFeePerGas) > 0 {
		price.Set(maxFeePerGas)
	}
	return price
}
