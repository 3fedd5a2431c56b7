package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

// UtxoKey represents the key of an Utxo, composed by its txid and vout.
type UtxoKey struct {
	TxID string
	VOut uint32
}

func (k UtxoKey) Hash() string {
	buf, _ := hex.DecodeString(k.TxID)
	buf = binary.BigEndian.AppendUint32(buf, k.VOut)
	return hex.EncodeToString(btcutil.Hash160(buf))
}

func (k UtxoKey) String() string {
	return fmt.Sprintf("{%s: %d}", k.TxID, k.VOut)
}

// UtxoInfo holds a light view of the utxo, used when publishing events.
type UtxoInfo struct {
	UtxoKey
	Value           uint64
	Script          []byte
	SpentStatus     UtxoStatus
	ConfirmedStatus UtxoStatus
}

func (i UtxoInfo) Key() UtxoKey {
	return i.UtxoKey
}

// Balance holds info about the balance of a list of utxos.
type Balance struct {
	Confirmed   uint64
	Unconfirmed uint64
	Locked      uint64
}

func (b *Balance) Total() uint64 {
	return b.Confirmed + b.Unconfirmed + b.Locked
}

type UtxoStatus struct {
	Txid        string
	BlockHeight uint64
	BlockTime   int64
	BlockHash   string
}

// Utxo is the data structure representing an unspent transaction output with
// extra info like whether it is spent/unspent, confirmed/unconfirmed or
// locked/unlocked. Value is expressed in the smallest unit of the currency
// and is the only field, along with the key, consumed by coin selection.
type Utxo struct {
	UtxoKey
	Value               uint64
	Script              []byte
	LockTimestamp       int64
	LockExpiryTimestamp int64
	SpentStatus         UtxoStatus
	ConfirmedStatus     UtxoStatus
}

// IsSpent returns whether the utxo have been spent.
func (u *Utxo) IsSpent() bool {
	return u.SpentStatus != UtxoStatus{}
}

// IsConfirmed returns whether the utxo is confirmed.
func (u *Utxo) IsConfirmed() bool {
	return u.ConfirmedStatus != UtxoStatus{}
}

// IsLocked returns whether the utxo is locked.
func (u *Utxo) IsLocked() bool {
	return u.LockTimestamp > 0
}

// CanUnlock returns whether a locked utxo can be unlocked.
func (u *Utxo) CanUnlock() bool {
	if !u.IsLocked() {
		return true
	}
	return time.Now().After(time.Unix(u.LockExpiryTimestamp, 0))
}

// Key returns the UtxoKey of the current utxo.
func (u *Utxo) Key() UtxoKey {
	return u.UtxoKey
}

// Info returns a light view of the current utxo.
func (u *Utxo) Info() UtxoInfo {
	return UtxoInfo{
		u.Key(), u.Value, u.Script, u.SpentStatus, u.ConfirmedStatus,
	}
}

// Spend marks the utxo as spent. The status must come with the id of the
// spending tx, while its block info is optional since the spending tx might
// still be unconfirmed.
func (u *Utxo) Spend(status UtxoStatus) error {
	if u.IsSpent() {
		return nil
	}

	if status.Txid == "" {
		return fmt.Errorf("missing txid")
	}
	u.SpentStatus = status
	u.LockTimestamp = 0
	return nil
}

// Confirm marks the utxo as confirmed.
func (u *Utxo) Confirm(status UtxoStatus) error {
	if u.IsConfirmed() {
		return nil
	}

	emptyStatus := UtxoStatus{}
	if status == emptyStatus {
		return fmt.Errorf("status must not be empty")
	}
	if status.BlockHeight == 0 && status.BlockTime == 0 && status.BlockHash == "" {
		return fmt.Errorf("missing block info")
	}
	u.ConfirmedStatus = status
	u.ConfirmedStatus.Txid = ""
	return nil
}

// Lock marks the current utxo as locked.
func (u *Utxo) Lock(timestamp, expiryTimestamp int64) {
	if !u.IsLocked() {
		u.LockTimestamp = timestamp
		u.LockExpiryTimestamp = expiryTimestamp
	}
}

// Unlock marks the current locked utxo as unlocked.
func (u *Utxo) Unlock() {
	if !u.CanUnlock() {
		return
	}

	u.LockTimestamp = 0
	u.LockExpiryTimestamp = 0
}
