package postgresdb

import (
	"context"
	"sync"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/shoal-wallet/shoal/internal/core/domain"
)

const (
	insertUtxoQuery = `INSERT INTO utxo (
		tx_id, vout, value, script, lock_timestamp, lock_expiry_timestamp,
		spent_txid, spent_block_height, spent_block_time, spent_block_hash,
		confirmed_block_height, confirmed_block_time, confirmed_block_hash
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	selectUtxoColumns = `SELECT
		tx_id, vout, value, script, lock_timestamp, lock_expiry_timestamp,
		spent_txid, spent_block_height, spent_block_time, spent_block_hash,
		confirmed_block_height, confirmed_block_time, confirmed_block_hash
	FROM utxo`

	selectUtxoByKeyQuery = selectUtxoColumns + ` WHERE tx_id = $1 AND vout = $2`

	selectSpendableUtxosQuery = selectUtxoColumns + ` WHERE
		spent_txid = '' AND spent_block_height = 0 AND spent_block_time = 0 AND
		(confirmed_block_height > 0 OR confirmed_block_time > 0 OR confirmed_block_hash <> '') AND
		lock_timestamp = 0`

	selectLockedUtxosQuery = selectUtxoColumns + ` WHERE
		spent_txid = '' AND spent_block_height = 0 AND spent_block_time = 0 AND
		lock_timestamp > 0`

	updateUtxoQuery = `UPDATE utxo SET
		lock_timestamp = $3, lock_expiry_timestamp = $4,
		spent_txid = $5, spent_block_height = $6, spent_block_time = $7,
		spent_block_hash = $8, confirmed_block_height = $9,
		confirmed_block_time = $10, confirmed_block_hash = $11
	WHERE tx_id = $1 AND vout = $2`

	deleteUtxoQuery = `DELETE FROM utxo WHERE tx_id = $1 AND vout = $2`

	deleteAllUtxosQuery = `DELETE FROM utxo`
)

type utxoRepositoryPg struct {
	pgxPool          *pgxpool.Pool
	chLock           *sync.Mutex
	chEvents         chan domain.UtxoEvent
	externalChEvents chan domain.UtxoEvent
}

func NewUtxoRepositoryPgImpl(pgxPool *pgxpool.Pool) domain.UtxoRepository {
	return newUtxoRepositoryPgImpl(pgxPool)
}

func newUtxoRepositoryPgImpl(pgxPool *pgxpool.Pool) *utxoRepositoryPg {
	return &utxoRepositoryPg{
		pgxPool:          pgxPool,
		chLock:           &sync.Mutex{},
		chEvents:         make(chan domain.UtxoEvent),
		externalChEvents: make(chan domain.UtxoEvent),
	}
}

func (u *utxoRepositoryPg) AddUtxos(
	ctx context.Context, utxos []*domain.Utxo,
) (int, error) {
	count := 0
	utxosInfo := make([]domain.UtxoInfo, 0, len(utxos))
	for _, v := range utxos {
		if _, err := u.pgxPool.Exec(
			ctx, insertUtxoQuery,
			v.TxID, int32(v.VOut), int64(v.Value), v.Script,
			v.LockTimestamp, v.LockExpiryTimestamp,
			v.SpentStatus.Txid, int64(v.SpentStatus.BlockHeight),
			v.SpentStatus.BlockTime, v.SpentStatus.BlockHash,
			int64(v.ConfirmedStatus.BlockHeight), v.ConfirmedStatus.BlockTime,
			v.ConfirmedStatus.BlockHash,
		); err != nil {
			if pqErr, ok := err.(*pgconn.PgError); pqErr != nil && ok && pqErr.Code == uniqueViolation {
				continue
			}
			return 0, err
		}

		utxosInfo = append(utxosInfo, v.Info())
		count++
	}

	if len(utxosInfo) > 0 {
		go u.publishEvent(domain.UtxoEvent{
			EventType: domain.UtxoAdded,
			Utxos:     utxosInfo,
		})
	}

	return count, nil
}

func (u *utxoRepositoryPg) GetUtxosByKey(
	ctx context.Context, utxoKeys []domain.UtxoKey,
) ([]*domain.Utxo, error) {
	utxos := make([]*domain.Utxo, 0, len(utxoKeys))
	for _, key := range utxoKeys {
		utxo, err := u.getUtxo(ctx, key)
		if err != nil {
			return nil, err
		}
		if utxo == nil {
			continue
		}
		utxos = append(utxos, utxo)
	}

	return utxos, nil
}

func (u *utxoRepositoryPg) GetAllUtxos(
	ctx context.Context,
) ([]*domain.Utxo, error) {
	return u.findUtxos(ctx, selectUtxoColumns)
}

func (u *utxoRepositoryPg) GetSpendableUtxos(
	ctx context.Context,
) ([]*domain.Utxo, error) {
	return u.findUtxos(ctx, selectSpendableUtxosQuery)
}

func (u *utxoRepositoryPg) GetLockedUtxos(
	ctx context.Context,
) ([]*domain.Utxo, error) {
	return u.findUtxos(ctx, selectLockedUtxosQuery)
}

func (u *utxoRepositoryPg) GetBalance(
	ctx context.Context,
) (*domain.Balance, error) {
	utxos, err := u.GetAllUtxos(ctx)
	if err != nil {
		return nil, err
	}

	balance := &domain.Balance{}
	for _, utxo := range utxos {
		if utxo.IsSpent() {
			continue
		}

		if utxo.IsLocked() {
			balance.Locked += utxo.Value
		} else {
			if utxo.IsConfirmed() {
				balance.Confirmed += utxo.Value
			} else {
				balance.Unconfirmed += utxo.Value
			}
		}
	}

	return balance, nil
}

func (u *utxoRepositoryPg) SpendUtxos(
	ctx context.Context, utxoKeys []domain.UtxoKey, status domain.UtxoStatus,
) (int, error) {
	count := 0
	utxosInfo := make([]domain.UtxoInfo, 0, len(utxoKeys))
	for _, key := range utxoKeys {
		utxo, err := u.getUtxo(ctx, key)
		if err != nil {
			return -1, err
		}
		if utxo == nil || utxo.IsSpent() {
			continue
		}

		if err := utxo.Spend(status); err != nil {
			return -1, err
		}
		if err := u.updateUtxo(ctx, utxo); err != nil {
			return -1, err
		}

		utxosInfo = append(utxosInfo, utxo.Info())
		count++
	}

	if count > 0 {
		go u.publishEvent(domain.UtxoEvent{
			EventType: domain.UtxoSpent,
			Utxos:     utxosInfo,
		})
	}

	return count, nil
}

func (u *utxoRepositoryPg) ConfirmUtxos(
	ctx context.Context, utxoKeys []domain.UtxoKey, status domain.UtxoStatus,
) (int, error) {
	count := 0
	utxosInfo := make([]domain.UtxoInfo, 0, len(utxoKeys))
	for _, key := range utxoKeys {
		utxo, err := u.getUtxo(ctx, key)
		if err != nil {
			return -1, err
		}
		if utxo == nil || utxo.IsConfirmed() {
			continue
		}

		if err := utxo.Confirm(status); err != nil {
			return -1, err
		}
		if err := u.updateUtxo(ctx, utxo); err != nil {
			return -1, err
		}

		utxosInfo = append(utxosInfo, utxo.Info())
		count++
	}

	if count > 0 {
		go u.publishEvent(domain.UtxoEvent{
			EventType: domain.UtxoConfirmed,
			Utxos:     utxosInfo,
		})
	}

	return count, nil
}

func (u *utxoRepositoryPg) LockUtxos(
	ctx context.Context, utxoKeys []domain.UtxoKey, timestamp, expiryTimestamp int64,
) (int, error) {
	count := 0
	utxosInfo := make([]domain.UtxoInfo, 0, len(utxoKeys))
	for _, key := range utxoKeys {
		utxo, err := u.getUtxo(ctx, key)
		if err != nil {
			return -1, err
		}
		if utxo == nil || utxo.IsLocked() {
			continue
		}

		utxo.Lock(timestamp, expiryTimestamp)
		if err := u.updateUtxo(ctx, utxo); err != nil {
			return -1, err
		}

		utxosInfo = append(utxosInfo, utxo.Info())
		count++
	}

	if count > 0 {
		go u.publishEvent(domain.UtxoEvent{
			EventType: domain.UtxoLocked,
			Utxos:     utxosInfo,
		})
	}

	return count, nil
}

func (u *utxoRepositoryPg) UnlockUtxos(
	ctx context.Context, utxoKeys []domain.UtxoKey,
) (int, error) {
	count := 0
	utxosInfo := make([]domain.UtxoInfo, 0, len(utxoKeys))
	for _, key := range utxoKeys {
		utxo, err := u.getUtxo(ctx, key)
		if err != nil {
			return -1, err
		}
		if utxo == nil || !utxo.IsLocked() {
			continue
		}

		utxo.Unlock()
		if err := u.updateUtxo(ctx, utxo); err != nil {
			return -1, err
		}

		utxosInfo = append(utxosInfo, utxo.Info())
		count++
	}

	if count > 0 {
		go u.publishEvent(domain.UtxoEvent{
			EventType: domain.UtxoUnlocked,
			Utxos:     utxosInfo,
		})
	}

	return count, nil
}

func (u *utxoRepositoryPg) DeleteUtxos(
	ctx context.Context, utxoKeys []domain.UtxoKey,
) error {
	for _, key := range utxoKeys {
		if _, err := u.pgxPool.Exec(
			ctx, deleteUtxoQuery, key.TxID, int32(key.VOut),
		); err != nil {
			return err
		}
	}
	return nil
}

func (u *utxoRepositoryPg) GetEventChannel() chan domain.UtxoEvent {
	return u.externalChEvents
}

func (u *utxoRepositoryPg) getUtxo(
	ctx context.Context, key domain.UtxoKey,
) (*domain.Utxo, error) {
	row := u.pgxPool.QueryRow(ctx, selectUtxoByKeyQuery, key.TxID, int32(key.VOut))
	utxo, err := scanUtxo(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return utxo, nil
}

func (u *utxoRepositoryPg) findUtxos(
	ctx context.Context, query string,
) ([]*domain.Utxo, error) {
	rows, err := u.pgxPool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	utxos := make([]*domain.Utxo, 0)
	for rows.Next() {
		utxo, err := scanUtxo(rows)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, utxo)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return utxos, nil
}

func (u *utxoRepositoryPg) updateUtxo(
	ctx context.Context, utxo *domain.Utxo,
) error {
	_, err := u.pgxPool.Exec(
		ctx, updateUtxoQuery,
		utxo.TxID, int32(utxo.VOut),
		utxo.LockTimestamp, utxo.LockExpiryTimestamp,
		utxo.SpentStatus.Txid, int64(utxo.SpentStatus.BlockHeight),
		utxo.SpentStatus.BlockTime, utxo.SpentStatus.BlockHash,
		int64(utxo.ConfirmedStatus.BlockHeight), utxo.ConfirmedStatus.BlockTime,
		utxo.ConfirmedStatus.BlockHash,
	)
	return err
}

func (u *utxoRepositoryPg) publishEvent(event domain.UtxoEvent) {
	u.chLock.Lock()
	defer u.chLock.Unlock()

	u.chEvents <- event
	// send over channel without blocking in case nobody is listening.
	select {
	case u.externalChEvents <- event:
	default:
	}
}

func (u *utxoRepositoryPg) reset() {
	u.pgxPool.Exec(context.Background(), deleteAllUtxosQuery)
}

func (u *utxoRepositoryPg) close() {
	close(u.chEvents)
	close(u.externalChEvents)
}

func scanUtxo(row pgx.Row) (*domain.Utxo, error) {
	var txid string
	var vout int32
	var value int64
	var script []byte
	var lockTimestamp, lockExpiryTimestamp int64
	var spentTxid, spentBlockHash, confirmedBlockHash string
	var spentBlockHeight, confirmedBlockHeight int64
	var spentBlockTime, confirmedBlockTime int64

	if err := row.Scan(
		&txid, &vout, &value, &script, &lockTimestamp, &lockExpiryTimestamp,
		&spentTxid, &spentBlockHeight, &spentBlockTime, &spentBlockHash,
		&confirmedBlockHeight, &confirmedBlockTime, &confirmedBlockHash,
	); err != nil {
		return nil, err
	}

	return &domain.Utxo{
		UtxoKey: domain.UtxoKey{
			TxID: txid,
			VOut: uint32(vout),
		},
		Value:               uint64(value),
		Script:              script,
		LockTimestamp:       lockTimestamp,
		LockExpiryTimestamp: lockExpiryTimestamp,
		SpentStatus: domain.UtxoStatus{
			Txid:        spentTxid,
			BlockHeight: uint64(spentBlockHeight),
			BlockTime:   spentBlockTime,
			BlockHash:   spentBlockHash,
		},
		ConfirmedStatus: domain.UtxoStatus{
			BlockHeight: uint64(confirmedBlockHeight),
			BlockTime:   confirmedBlockTime,
			BlockHash:   confirmedBlockHash,
		},
	}, nil
}
