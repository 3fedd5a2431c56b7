package largestfirst_selector

import (
	"sort"

	"github.com/shoal-wallet/shoal/internal/core/domain"
	"github.com/shoal-wallet/shoal/internal/core/ports"
)

type selector struct{}

// NewLargestFirstCoinSelector returns a ports.CoinSelector selecting utxos
// with a greedy largest-value-first strategy. The goal of this strategy is to
// cover the target amount with the fewest, largest inputs, trading a possibly
// big change amount for a selection that is deterministic and easy to reason
// about when estimating fees.
func NewLargestFirstCoinSelector() ports.CoinSelector {
	return &selector{}
}

func (s *selector) SelectUtxos(
	utxos []*domain.Utxo, targetAmount uint64,
) ([]*domain.Utxo, uint64, error) {
	// The given list is never reordered, the sort happens on a copy.
	// Ties between equal values keep their original input order so that
	// identical inputs always produce identical selections.
	sortedUtxos := make([]*domain.Utxo, len(utxos))
	copy(sortedUtxos, utxos)
	sort.SliceStable(sortedUtxos, func(i, j int) bool {
		return sortedUtxos[i].Value > sortedUtxos[j].Value
	})

	selectedUtxos := make([]*domain.Utxo, 0, len(sortedUtxos))
	totalAmount := uint64(0)
	for _, utxo := range sortedUtxos {
		if totalAmount >= targetAmount {
			break
		}
		selectedUtxos = append(selectedUtxos, utxo)
		totalAmount += utxo.Value
	}

	if totalAmount < targetAmount {
		return nil, 0, &ports.InsufficientFundsError{
			Target:    targetAmount,
			Available: totalAmount,
		}
	}

	return selectedUtxos, totalAmount, nil
}
