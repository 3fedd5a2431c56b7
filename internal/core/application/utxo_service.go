package application

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shoal-wallet/shoal/internal/core/domain"
	"github.com/shoal-wallet/shoal/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// UtxoService is responsible for operations related to the wallet utxo set:
//   - Add utxos fed by an external wallet-state provider, and update their
//     status once they get confirmed or spent.
//   - Get info about the owned utxos and their cumulative balance.
//   - Select a subset of the spendable utxos to cover a target amount. The
//     selected utxos are temporary locked to prevent double spending them.
//
// The service registers 1 handler for the following utxo event:
//   - domain.UtxoLocked - whenever one or more utxos are locked, the service
//     spawns a so-called unlocker, a goroutine waiting for X seconds before
//     unlocking them if necessary. The operation is just skipped if the utxos
//     have been spent meanwhile.
//
// The service guarantees that any locked utxo is eventually unlocked ASAP
// after the waiting time expires.
// Therefore, at startup, it makes sure to unlock any still-locked utxo that
// can be unlocked, and to spawn the required number of unlockers for those
// whose waiting time didn't expire yet.
type UtxoService struct {
	repoManager        ports.RepoManager
	utxoExpiryDuration time.Duration

	log func(format string, a ...interface{})
}

func NewUtxoService(
	repoManager ports.RepoManager, utxoExpiryDuration time.Duration,
) *UtxoService {
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("utxo service: %s", format)
		log.Debugf(format, a...)
	}
	svc := &UtxoService{repoManager, utxoExpiryDuration, logFn}
	svc.registerHandlerForUtxoEvents()

	go svc.scheduleUtxoUnlocker()

	return svc
}

// SelectUtxos runs the coin selection strategy over the spendable utxos and
// locks the selected ones for the configured expiry duration. It returns the
// selected utxos in selection order, their total amount, the change amount
// exceeding the target, and the unix date when the selected utxos will be
// unlocked if not spent meanwhile.
func (us *UtxoService) SelectUtxos(
	ctx context.Context, targetAmount uint64, coinSelectionStrategy int,
) (Utxos, uint64, uint64, int64, error) {
	spendableUtxos, err := us.repoManager.UtxoRepository().GetSpendableUtxos(ctx)
	if err != nil {
		return nil, 0, 0, -1, err
	}

	coinSelector := DefaultCoinSelector
	if factory, ok := coinSelectorByType[coinSelectionStrategy]; ok {
		coinSelector = factory()
	}

	utxos, totalAmount, err := coinSelector.SelectUtxos(spendableUtxos, targetAmount)
	if err != nil {
		return nil, 0, 0, -1, err
	}
	change := totalAmount - targetAmount

	now := time.Now()
	lockExpiration := now.Add(us.utxoExpiryDuration)
	keys := Utxos(utxos).Keys()
	count, err := us.repoManager.UtxoRepository().LockUtxos(
		ctx, keys, now.Unix(), lockExpiration.Unix(),
	)
	if err != nil {
		return nil, 0, 0, -1, err
	}
	if count > 0 {
		us.log("locked %d utxo(s) (%s)", count, UtxoKeys(keys))
	}

	return utxos, totalAmount, change, lockExpiration.Unix(), nil
}

func (us *UtxoService) GetUtxos(ctx context.Context) (*UtxoInfo, error) {
	spendableUtxos, err := us.repoManager.UtxoRepository().GetSpendableUtxos(ctx)
	if err != nil {
		return nil, err
	}
	lockedUtxos, err := us.repoManager.UtxoRepository().GetLockedUtxos(ctx)
	if err != nil {
		return nil, err
	}
	return &UtxoInfo{
		Spendable: spendableUtxos,
		Locked:    lockedUtxos,
	}, nil
}

func (us *UtxoService) GetBalance(ctx context.Context) (*BalanceInfo, error) {
	balance, err := us.repoManager.UtxoRepository().GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	return (*BalanceInfo)(balance), nil
}

func (us *UtxoService) AddUtxos(
	ctx context.Context, utxos []*domain.Utxo,
) (int, error) {
	return us.repoManager.UtxoRepository().AddUtxos(ctx, utxos)
}

func (us *UtxoService) ConfirmUtxos(
	ctx context.Context, utxoKeys []domain.UtxoKey, status domain.UtxoStatus,
) (int, error) {
	return us.repoManager.UtxoRepository().ConfirmUtxos(ctx, utxoKeys, status)
}

func (us *UtxoService) SpendUtxos(
	ctx context.Context, utxoKeys []domain.UtxoKey, status domain.UtxoStatus,
) (int, error) {
	return us.repoManager.UtxoRepository().SpendUtxos(ctx, utxoKeys, status)
}

func (us *UtxoService) UnlockUtxos(
	ctx context.Context, utxoKeys []domain.UtxoKey,
) (int, error) {
	return us.repoManager.UtxoRepository().UnlockUtxos(ctx, utxoKeys)
}

func (us *UtxoService) registerHandlerForUtxoEvents() {
	us.repoManager.RegisterHandlerForUtxoEvent(
		domain.UtxoLocked, func(event domain.UtxoEvent) {
			keys := UtxosInfo(event.Utxos).Keys()
			us.spawnUtxoUnlocker(keys)
		},
	)
}

// scheduleUtxoUnlocker waits 5 seconds before whether unlocking or spawning
// an unlocker for all the locked utxos.
// Since this method is called when the service is istantiated, the idea is to
// give the wallet-state provider enough time to notify about utxos spent
// while the service was down.
func (us *UtxoService) scheduleUtxoUnlocker() {
	time.Sleep(5 * time.Second)

	ctx := context.Background()
	utxoRepo := us.repoManager.UtxoRepository()

	utxos, _ := utxoRepo.GetLockedUtxos(ctx)
	if len(utxos) <= 0 {
		return
	}

	utxosToUnlock := make([]domain.UtxoKey, 0, len(utxos))
	utxosToSpawnUnlocker := make([]domain.UtxoKey, 0, len(utxos))
	for _, u := range utxos {
		if u.CanUnlock() {
			utxosToUnlock = append(utxosToUnlock, u.Key())
		} else {
			utxosToSpawnUnlocker = append(utxosToSpawnUnlocker, u.Key())
		}
	}

	if len(utxosToUnlock) > 0 {
		count, err := utxoRepo.UnlockUtxos(ctx, utxosToUnlock)
		if err != nil {
			utxosToSpawnUnlocker = append(utxosToSpawnUnlocker, utxosToUnlock...)
		}
		if count > 0 {
			us.log("unlocked %d utxo(s) (%s)", count, UtxoKeys(utxosToUnlock))
		}
	}
	if len(utxosToSpawnUnlocker) > 0 {
		us.spawnUtxoUnlocker(utxosToSpawnUnlocker)
	}
}

// spawnUtxoUnlocker groups the locked utxos identified by the given keys by
// their locking timestamps, and then creates a goroutine for each group in
// order to unlock the utxos if they are still locked when their expiration
// time comes.
func (us *UtxoService) spawnUtxoUnlocker(utxoKeys []domain.UtxoKey) {
	ctx := context.Background()
	utxos, _ := us.repoManager.UtxoRepository().GetUtxosByKey(ctx, utxoKeys)

	utxosByLockTimestamp := make(map[int64][]domain.UtxoKey)
	for _, u := range utxos {
		utxosByLockTimestamp[u.LockTimestamp] = append(
			utxosByLockTimestamp[u.LockTimestamp], u.Key(),
		)
	}

	for timestamp := range utxosByLockTimestamp {
		keys := utxosByLockTimestamp[timestamp]
		unlockTime := us.utxoExpiryDuration - time.Since(time.Unix(timestamp, 0))
		// The lock of the given utxos might be already expired, for example
		// if unlocking them failed at startup. Retry shortly in that case,
		// a ticker requires a positive interval.
		if unlockTime <= 0 {
			unlockTime = 5 * time.Second
		}
		t := time.NewTicker(unlockTime)
		go func(keys []domain.UtxoKey, t *time.Ticker) {
			us.log("spawning unlocker for utxo(s) %s", UtxoKeys(keys))
			us.log(fmt.Sprintf(
				"utxo(s) will be eventually unlocked in ~%.0f seconds",
				math.Round(unlockTime.Seconds()/10)*10,
			))

			for range t.C {
				utxos, _ := us.repoManager.UtxoRepository().GetUtxosByKey(ctx, keys)
				utxosToUnlock := make([]domain.UtxoKey, 0, len(utxos))
				spentUtxos := make([]domain.UtxoKey, 0, len(utxos))
				for _, u := range utxos {
					if u.IsSpent() {
						spentUtxos = append(spentUtxos, u.Key())
					} else if u.IsLocked() {
						utxosToUnlock = append(utxosToUnlock, u.Key())
					}
				}

				if len(utxosToUnlock) > 0 {
					// In case of errors here, the ticker is possibly reset to a shortest
					// duration to keep retrying to unlock the locked utxos as soon as
					// possible.
					count, err := us.repoManager.UtxoRepository().UnlockUtxos(
						ctx, utxosToUnlock,
					)
					if err != nil {
						shortDuration := 5 * time.Second
						if shortDuration < unlockTime {
							t.Reset(shortDuration)
						}
						continue
					}

					if count > 0 {
						us.log("unlocked %d utxo(s) %s", count, UtxoKeys(keys))
					}
					t.Stop()
					return
				}
				if len(spentUtxos) > 0 {
					us.log(
						"utxo(s) %s have been spent, skipping unlocking",
						UtxoKeys(spentUtxos),
					)
					t.Stop()
					return
				}
			}
		}(keys, t)
	}
}
