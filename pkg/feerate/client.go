package feerate

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
)

// minPriorityFee keeps quotes attractive enough for inclusion on quiet chains.
var minPriorityFee = big.NewInt(2_000_000_000) // 2 gwei

// ClientSource reads fee data from an Ethereum RPC endpoint.
type ClientSource struct {
	client *ethclient.Client
}

func NewClientSource(client *ethclient.Client) *ClientSource {
	return &ClientSource{client: client}
}

func (s *ClientSource) Current(ctx context.Context) (*Quote, error) {
	tipCap, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}

	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}

	// Add a 13% buffer to the suggested tip
	buffer := new(big.Int).Div(tipCap, big.NewInt(100))
	buffer.Mul(buffer, big.NewInt(13))
	priority := new(big.Int).Add(tipCap, buffer)
	if priority.Cmp(minPriorityFee) < 0 {
		priority.Set(minPriorityFee)
	}

	base := big.NewInt(0)
	if header.BaseFee != nil {
		base.Set(header.BaseFee)
	}

	return &Quote{BaseFee: base, PriorityFee: priority}, nil
}
