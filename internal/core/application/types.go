package application

import (
	"strings"

	"github.com/shoal-wallet/shoal/internal/core/domain"
	"github.com/shoal-wallet/shoal/internal/core/ports"
	largestfirst_selector "github.com/shoal-wallet/shoal/internal/infrastructure/coin-selector/largest-first"
)

const (
	CoinSelectionStrategyLargestFirst = iota
)

var (
	coinSelectorByType = map[int]CoinSelectorFactory{
		CoinSelectionStrategyLargestFirst: largestfirst_selector.NewLargestFirstCoinSelector,
	}

	DefaultCoinSelector = largestfirst_selector.NewLargestFirstCoinSelector()
)

// UtxoInfo holds the spendable and locked views of the utxo set.
type UtxoInfo struct {
	Spendable Utxos
	Locked    Utxos
}

type BalanceInfo domain.Balance

type Utxos []*domain.Utxo

func (u Utxos) Keys() []domain.UtxoKey {
	keys := make([]domain.UtxoKey, 0, len(u))
	for _, utxo := range u {
		keys = append(keys, utxo.Key())
	}
	return keys
}

type UtxosInfo []domain.UtxoInfo

func (u UtxosInfo) Keys() []domain.UtxoKey {
	keys := make([]domain.UtxoKey, 0, len(u))
	for _, utxo := range u {
		keys = append(keys, utxo.Key())
	}
	return keys
}

type UtxoKeys []domain.UtxoKey

func (u UtxoKeys) String() string {
	str := make([]string, 0, len(u))
	for _, key := range u {
		str = append(str, key.String())
	}
	return strings.Join(str, ", ")
}

// CoinSelectorFactory is the factory of ports.CoinSelector implementations.
type CoinSelectorFactory func() ports.CoinSelector
