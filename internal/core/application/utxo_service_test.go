package application_test

import (
	"context"
	"encoding/hex"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shoal-wallet/shoal/internal/core/application"
	"github.com/shoal-wallet/shoal/internal/core/domain"
	"github.com/shoal-wallet/shoal/internal/core/ports"
	"github.com/shoal-wallet/shoal/internal/infrastructure/storage/db/inmemory"
	"github.com/stretchr/testify/require"
)

var (
	ctx                   = context.Background()
	coinSelectionStrategy = application.CoinSelectionStrategyLargestFirst
	utxoExpiryDuration    = 2 * time.Second
)

func TestUtxoService(t *testing.T) {
	repoManager := inmemory.NewRepoManager()
	svc := application.NewUtxoService(repoManager, utxoExpiryDuration)

	count, err := svc.AddUtxos(ctx, randomConfirmedUtxos(400000, 300000, 200000))
	require.NoError(t, err)
	require.Equal(t, 3, count)

	balance, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(900000), balance.Confirmed)
	require.Zero(t, balance.Unconfirmed)
	require.Zero(t, balance.Locked)

	selectedUtxos, total, change, expirationDate, err := svc.SelectUtxos(
		ctx, 600000, coinSelectionStrategy,
	)
	require.NoError(t, err)
	require.Len(t, selectedUtxos, 2)
	require.Equal(t, uint64(700000), total)
	require.Equal(t, uint64(100000), change)
	require.Greater(t, expirationDate, time.Now().Unix())

	// The selected utxos must now be locked and out of the spendable set.
	utxoInfo, err := svc.GetUtxos(ctx)
	require.NoError(t, err)
	require.Len(t, utxoInfo.Locked, 2)
	require.Len(t, utxoInfo.Spendable, 1)

	// Selecting more than what's left must fail without locking anything.
	_, _, _, _, err = svc.SelectUtxos(ctx, 300000, coinSelectionStrategy)
	require.Error(t, err)

	var insufficientFunds *ports.InsufficientFundsError
	require.True(t, errors.As(err, &insufficientFunds))
	require.Equal(t, uint64(300000), insufficientFunds.Target)
	require.Equal(t, uint64(200000), insufficientFunds.Available)

	// The locked utxos are eventually unlocked once the expiry time comes.
	time.Sleep(utxoExpiryDuration + time.Second)

	utxoInfo, err = svc.GetUtxos(ctx)
	require.NoError(t, err)
	require.Empty(t, utxoInfo.Locked)
	require.Len(t, utxoInfo.Spendable, 3)
}

func TestUtxoServiceSkipsUnlockingSpentUtxos(t *testing.T) {
	repoManager := inmemory.NewRepoManager()
	svc := application.NewUtxoService(repoManager, utxoExpiryDuration)

	count, err := svc.AddUtxos(ctx, randomConfirmedUtxos(100000))
	require.NoError(t, err)
	require.Equal(t, 1, count)

	selectedUtxos, _, _, _, err := svc.SelectUtxos(
		ctx, 50000, coinSelectionStrategy,
	)
	require.NoError(t, err)
	require.Len(t, selectedUtxos, 1)

	count, err = svc.SpendUtxos(
		ctx, application.Utxos(selectedUtxos).Keys(), randomStatus(),
	)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	time.Sleep(utxoExpiryDuration + time.Second)

	utxoInfo, err := svc.GetUtxos(ctx)
	require.NoError(t, err)
	require.Empty(t, utxoInfo.Locked)
	require.Empty(t, utxoInfo.Spendable)
}

func TestUtxoServiceUnlocksAlreadyExpiredLocks(t *testing.T) {
	repoManager := inmemory.NewRepoManager()
	svc := application.NewUtxoService(repoManager, utxoExpiryDuration)

	newUtxos := randomConfirmedUtxos(100000)
	count, err := svc.AddUtxos(ctx, newUtxos)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// Lock with a timestamp older than the expiry duration, like a lock
	// survived across a restart. The spawned unlocker must handle the
	// elapsed expiry time and still unlock the utxo.
	now := time.Now()
	lockTime := now.Add(-time.Minute)
	count, err = repoManager.UtxoRepository().LockUtxos(
		ctx, application.Utxos(newUtxos).Keys(),
		lockTime.Unix(), lockTime.Add(utxoExpiryDuration).Unix(),
	)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	time.Sleep(6 * time.Second)

	utxoInfo, err := svc.GetUtxos(ctx)
	require.NoError(t, err)
	require.Empty(t, utxoInfo.Locked)
	require.Len(t, utxoInfo.Spendable, 1)
}

func randomConfirmedUtxos(values ...uint64) []*domain.Utxo {
	utxos := make([]*domain.Utxo, 0, len(values))
	for i, value := range values {
		utxos = append(utxos, &domain.Utxo{
			UtxoKey: domain.UtxoKey{
				TxID: randomHex(32),
				VOut: uint32(i),
			},
			Value:           value,
			Script:          randomBytes(26),
			ConfirmedStatus: randomStatus(),
		})
	}
	return utxos
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
