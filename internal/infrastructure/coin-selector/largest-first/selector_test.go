package largestfirst_selector_test

import (
	"encoding/hex"
	"errors"
	"math/rand"
	"testing"

	"github.com/shoal-wallet/shoal/internal/core/domain"
	"github.com/shoal-wallet/shoal/internal/core/ports"
	largestfirst_selector "github.com/shoal-wallet/shoal/internal/infrastructure/coin-selector/largest-first"
	"github.com/stretchr/testify/require"
)

func TestSelectUtxos(t *testing.T) {
	t.Parallel()

	selector := largestfirst_selector.NewLargestFirstCoinSelector()

	t.Run("single_utxo_covers_target", func(t *testing.T) {
		utxos := newUtxos(500000, 300000, 200000)

		selected, total, err := selector.SelectUtxos(utxos, 400000)
		require.NoError(t, err)
		require.Len(t, selected, 1)
		require.Equal(t, uint64(500000), selected[0].Value)
		require.Equal(t, uint64(500000), total)
	})

	t.Run("multiple_utxos_cover_target", func(t *testing.T) {
		utxos := newUtxos(100000, 100000, 100000)

		selected, total, err := selector.SelectUtxos(utxos, 250000)
		require.NoError(t, err)
		require.Len(t, selected, 3)
		require.Equal(t, uint64(300000), total)
	})

	t.Run("zero_target", func(t *testing.T) {
		selected, total, err := selector.SelectUtxos(nil, 0)
		require.NoError(t, err)
		require.Empty(t, selected)
		require.Zero(t, total)

		selected, total, err = selector.SelectUtxos(newUtxos(100000), 0)
		require.NoError(t, err)
		require.Empty(t, selected)
		require.Zero(t, total)
	})

	t.Run("target_amount_not_reached", func(t *testing.T) {
		utxos := newUtxos(50000)

		selected, total, err := selector.SelectUtxos(utxos, 100000)
		require.Error(t, err)
		require.Nil(t, selected)
		require.Zero(t, total)

		var insufficientFunds *ports.InsufficientFundsError
		require.True(t, errors.As(err, &insufficientFunds))
		require.Equal(t, uint64(100000), insufficientFunds.Target)
		require.Equal(t, uint64(50000), insufficientFunds.Available)
		require.Equal(t, uint64(50000), insufficientFunds.Shortfall())

		selected, total, err = selector.SelectUtxos(nil, 100000)
		require.Error(t, err)
		require.Nil(t, selected)
		require.Zero(t, total)
	})
}

func TestSelectUtxosIsDeterministic(t *testing.T) {
	t.Parallel()

	selector := largestfirst_selector.NewLargestFirstCoinSelector()
	utxos := newUtxos(200000, 100000, 200000, 300000, 100000)

	selected, total, err := selector.SelectUtxos(utxos, 550000)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		otherSelected, otherTotal, err := selector.SelectUtxos(utxos, 550000)
		require.NoError(t, err)
		require.Equal(t, total, otherTotal)
		require.Len(t, otherSelected, len(selected))
		for j := range selected {
			require.Equal(t, selected[j].Key(), otherSelected[j].Key())
		}
	}

	// Equal values keep their input order.
	require.Equal(t, uint64(300000), selected[0].Value)
	require.Equal(t, utxos[0].Key(), selected[1].Key())
	require.Equal(t, utxos[2].Key(), selected[2].Key())
}

func TestSelectUtxosDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	selector := largestfirst_selector.NewLargestFirstCoinSelector()
	utxos := newUtxos(100000, 300000, 200000)
	originalKeys := make([]domain.UtxoKey, 0, len(utxos))
	for _, u := range utxos {
		originalKeys = append(originalKeys, u.Key())
	}

	_, _, err := selector.SelectUtxos(utxos, 400000)
	require.NoError(t, err)

	for i, u := range utxos {
		require.Equal(t, originalKeys[i], u.Key())
	}
}

func TestSelectUtxosGreedyOrder(t *testing.T) {
	t.Parallel()

	selector := largestfirst_selector.NewLargestFirstCoinSelector()

	values := make([]uint64, 20)
	var sum uint64
	for i := range values {
		values[i] = uint64(rand.Intn(1000000) + 1)
		sum += values[i]
	}
	utxos := newUtxos(values...)

	selected, total, err := selector.SelectUtxos(utxos, sum/2)
	require.NoError(t, err)
	require.GreaterOrEqual(t, total, sum/2)

	// Every selected utxo is worth at least as much as the next one and as
	// any candidate left unselected.
	for i := 1; i < len(selected); i++ {
		require.GreaterOrEqual(t, selected[i-1].Value, selected[i].Value)
	}
	smallestSelected := selected[len(selected)-1].Value
	selectedKeys := make(map[domain.UtxoKey]struct{})
	for _, u := range selected {
		selectedKeys[u.Key()] = struct{}{}
	}
	for _, u := range utxos {
		if _, ok := selectedKeys[u.Key()]; !ok {
			require.GreaterOrEqual(t, smallestSelected, u.Value)
		}
	}
}

func newUtxos(values ...uint64) []*domain.Utxo {
	utxos := make([]*domain.Utxo, 0, len(values))
	for i, value := range values {
		utxos = append(utxos, &domain.Utxo{
			UtxoKey: domain.UtxoKey{
				TxID: randomHex(32),
				VOut: uint32(i),
			},
			Value: value,
		})
	}
	return utxos
}

func randomHex(byteLen int) string {
	buf := make([]byte, byteLen)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
