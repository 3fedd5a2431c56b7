package ports

import (
	"fmt"

	"github.com/shoal-wallet/shoal/internal/core/domain"
)

// CoinSelector is the abstraction for any kind of service intended to return
// a subset of the given utxos covering the target amount based on a specific
// strategy. Implementations must consume only the key and value of the given
// utxos, never mutate the given list, and be pure so that they are safe for
// concurrent use.
type CoinSelector interface {
	// SelectUtxos implements a certain coin selection strategy. It returns
	// the selected utxos in selection order and the sum of their values,
	// guaranteed to be >= targetAmount, or an *InsufficientFundsError if the
	// whole utxo set can't cover the target.
	SelectUtxos(
		utxos []*domain.Utxo, targetAmount uint64,
	) (selectedUtxos []*domain.Utxo, totalAmount uint64, err error)
}

// InsufficientFundsError is returned by a coin selector whenever the
// cumulative value of the given utxos is strictly lower than the target
// amount. It carries the requested target and the maximum achievable total
// so that callers can report a precise shortfall and recover, for example by
// retrying with a smaller target.
type InsufficientFundsError struct {
	Target    uint64
	Available uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf(
		"insufficient funds: target amount %d, max available %d",
		e.Target, e.Available,
	)
}

// Shortfall returns the amount missing to cover the target.
func (e *InsufficientFundsError) Shortfall() uint64 {
	return e.Target - e.Available
}
