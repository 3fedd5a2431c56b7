package dbbadger_test

import (
	"context"
	"encoding/hex"
	"math/rand"
	"testing"
	"time"

	"github.com/shoal-wallet/shoal/internal/core/domain"
	dbbadger "github.com/shoal-wallet/shoal/internal/infrastructure/storage/db/badger"
	"github.com/stretchr/testify/require"
)

var (
	ctx  = context.Background()
	txid = hex.EncodeToString(make([]byte, 32))
)

func TestUtxoRepository(t *testing.T) {
	// An empty datadir makes the db run in-memory.
	repoManager, err := dbbadger.NewRepoManager("", nil)
	require.NoError(t, err)
	t.Cleanup(repoManager.Close)

	repo := repoManager.UtxoRepository()
	// Drain the event channel to not block the repository.
	go func() {
		for range repo.GetEventChannel() {
		}
	}()

	newUtxos, utxoKeys := randomUtxos(3)

	t.Run("add_and_get_utxos", func(t *testing.T) {
		count, err := repo.AddUtxos(ctx, newUtxos)
		require.NoError(t, err)
		require.Equal(t, len(newUtxos), count)

		count, err = repo.AddUtxos(ctx, newUtxos)
		require.NoError(t, err)
		require.Zero(t, count)

		utxos, err := repo.GetAllUtxos(ctx)
		require.NoError(t, err)
		require.Len(t, utxos, len(newUtxos))

		utxos, err = repo.GetSpendableUtxos(ctx)
		require.NoError(t, err)
		require.Empty(t, utxos)

		utxos, err = repo.GetLockedUtxos(ctx)
		require.NoError(t, err)
		require.Empty(t, utxos)

		utxos, err = repo.GetUtxosByKey(ctx, utxoKeys)
		require.NoError(t, err)
		require.Len(t, utxos, len(newUtxos))

		otherKeys := []domain.UtxoKey{randomKey()}
		utxos, err = repo.GetUtxosByKey(ctx, otherKeys)
		require.NoError(t, err)
		require.Empty(t, utxos)
	})

	t.Run("get_balance", func(t *testing.T) {
		balance, err := repo.GetBalance(ctx)
		require.NoError(t, err)
		require.NotNil(t, balance)
		require.Zero(t, balance.Confirmed)
		require.Zero(t, balance.Locked)
		require.Equal(t, totalValue(newUtxos), balance.Unconfirmed)
	})

	t.Run("confirm_utxos", func(t *testing.T) {
		count, err := repo.ConfirmUtxos(ctx, utxoKeys, randomStatus())
		require.NoError(t, err)
		require.Equal(t, len(utxoKeys), count)

		count, err = repo.ConfirmUtxos(ctx, utxoKeys, randomStatus())
		require.NoError(t, err)
		require.Zero(t, count)

		utxos, err := repo.GetSpendableUtxos(ctx)
		require.NoError(t, err)
		require.Len(t, utxos, len(utxoKeys))

		balance, err := repo.GetBalance(ctx)
		require.NoError(t, err)
		require.Equal(t, totalValue(newUtxos), balance.Confirmed)
		require.Zero(t, balance.Unconfirmed)
	})

	t.Run("lock_and_unlock_utxos", func(t *testing.T) {
		now := time.Now()
		count, err := repo.LockUtxos(
			ctx, utxoKeys, now.Unix(), now.Add(-time.Second).Unix(),
		)
		require.NoError(t, err)
		require.Equal(t, len(utxoKeys), count)

		count, err = repo.LockUtxos(
			ctx, utxoKeys, now.Unix(), now.Add(-time.Second).Unix(),
		)
		require.NoError(t, err)
		require.Zero(t, count)

		utxos, err := repo.GetLockedUtxos(ctx)
		require.NoError(t, err)
		require.Len(t, utxos, len(utxoKeys))

		utxos, err = repo.GetSpendableUtxos(ctx)
		require.NoError(t, err)
		require.Empty(t, utxos)

		count, err = repo.UnlockUtxos(ctx, utxoKeys)
		require.NoError(t, err)
		require.Equal(t, len(utxoKeys), count)

		utxos, err = repo.GetSpendableUtxos(ctx)
		require.NoError(t, err)
		require.Len(t, utxos, len(utxoKeys))
	})

	t.Run("spend_utxos", func(t *testing.T) {
		count, err := repo.SpendUtxos(ctx, utxoKeys[:1], randomStatus())
		require.NoError(t, err)
		require.Equal(t, 1, count)

		count, err = repo.SpendUtxos(ctx, utxoKeys[:1], randomStatus())
		require.NoError(t, err)
		require.Zero(t, count)

		utxos, err := repo.GetSpendableUtxos(ctx)
		require.NoError(t, err)
		require.Len(t, utxos, len(utxoKeys)-1)
	})

	t.Run("delete_utxos", func(t *testing.T) {
		err := repo.DeleteUtxos(ctx, utxoKeys)
		require.NoError(t, err)

		utxos, err := repo.GetAllUtxos(ctx)
		require.NoError(t, err)
		require.Empty(t, utxos)
	})

	t.Run("add_utxos_with_high_vout", func(t *testing.T) {
		// Outpoints of the same tx differing only in the high bytes of the
		// vout are distinct utxos, not duplicates.
		highVoutUtxos := []*domain.Utxo{
			{
				UtxoKey: domain.UtxoKey{TxID: txid, VOut: 1},
				Value:   100000,
			},
			{
				UtxoKey: domain.UtxoKey{TxID: txid, VOut: 257},
				Value:   200000,
			},
		}
		count, err := repo.AddUtxos(ctx, highVoutUtxos)
		require.NoError(t, err)
		require.Equal(t, len(highVoutUtxos), count)

		utxos, err := repo.GetAllUtxos(ctx)
		require.NoError(t, err)
		require.Len(t, utxos, len(highVoutUtxos))
	})
}

func randomUtxos(num int) ([]*domain.Utxo, []domain.UtxoKey) {
	utxos := make([]*domain.Utxo, 0, num)
	keys := make([]domain.UtxoKey, 0, num)
	for i := 0; i < num; i++ {
		key := domain.UtxoKey{
			TxID: txid,
			VOut: uint32(i),
		}
		utxos = append(utxos, &domain.Utxo{
			UtxoKey: key,
			Value:   uint64(rand.Intn(1000000) + 1),
			Script:  randomBytes(26),
		})
		keys = append(keys, key)
	}
	return utxos, keys
}

func randomKey() domain.UtxoKey {
	return domain.UtxoKey{
		TxID: randomHex(32),
		VOut: 0,
	}
}

func randomStatus() domain.UtxoStatus {
	return domain.UtxoStatus{
		Txid:        randomHex(32),
		BlockHeight: uint64(rand.Intn(1000) + 1),
		BlockTime:   time.Now().Unix(),
		BlockHash:   randomHex(32),
	}
}

func randomHex(byteLen int) string {
	return hex.EncodeToString(randomBytes(byteLen))
}

func randomBytes(byteLen int) []byte {
	buf := make([]byte, byteLen)
	rand.Read(buf)
	return buf
}

func totalValue(utxos []*domain.Utxo) uint64 {
	var total uint64
	for _, u := range utxos {
		total += u.Value
	}
	return total
}
