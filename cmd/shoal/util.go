package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	appconfig "github.com/shoal-wallet/shoal/internal/app-config"
	"github.com/shoal-wallet/shoal/internal/config"
	"github.com/shoal-wallet/shoal/internal/core/application"
	"github.com/shoal-wallet/shoal/internal/core/domain"
	postgresdb "github.com/shoal-wallet/shoal/internal/infrastructure/storage/db/postgres"
)

const satsPerBtc = 100000000

var colorRed = string("\033[31m")

func getUtxoService() (*application.UtxoService, func(), error) {
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	dbType := config.GetString(config.DatabaseTypeKey)
	appCfg := &appconfig.AppConfig{
		Version:            version,
		Commit:             commit,
		Date:               date,
		UtxoExpiryDuration: time.Duration(
			config.GetInt(config.UtxoExpiryDurationKey),
		) * time.Second,
		RepoManagerType:   dbType,
		RepoManagerConfig: repoManagerConfig(dbType),
	}
	if err := appCfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %s", err)
	}

	cleanup := func() { appCfg.RepoManager().Close() }
	return appCfg.UtxoService(), cleanup, nil
}

func repoManagerConfig(dbType string) interface{} {
	switch dbType {
	case "postgres":
		return postgresdb.DbConfig{
			DbUser:             config.GetString(config.DbUserKey),
			DbPassword:         config.GetString(config.DbPassKey),
			DbHost:             config.GetString(config.DbHostKey),
			DbPort:             config.GetInt(config.DbPortKey),
			DbName:             config.GetString(config.DbNameKey),
			MigrationSourceURL: config.GetString(config.DbMigrationPath),
		}
	case "badger":
		return filepath.Join(config.GetDatadir(), config.DbLocation)
	default:
		return nil
	}
}

func parseUtxoKey(txid, vout string) (domain.UtxoKey, error) {
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return domain.UtxoKey{}, fmt.Errorf("invalid txid: %s", err)
	}
	parsedVout, err := strconv.ParseUint(vout, 10, 32)
	if err != nil {
		return domain.UtxoKey{}, fmt.Errorf("invalid vout: %s", err)
	}
	return domain.UtxoKey{TxID: txid, VOut: uint32(parsedVout)}, nil
}

// btcAmount renders an amount in satoshis as a fixed 8-decimals BTC string.
func btcAmount(sats uint64) string {
	return decimal.NewFromInt(int64(sats)).
		DivRound(decimal.NewFromInt(satsPerBtc), 8).
		StringFixed(8)
}

func jsonResponse(data interface{}) (string, error) {
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize response: %s", err)
	}
	return string(buf), nil
}

func printErr(err error) {
	msg := fmt.Sprintf("%s%s", colorRed, capitalize(err.Error()))
	fmt.Fprintln(os.Stderr, msg)
}

func capitalize(s string) string {
	ss := strings.ToUpper(s[0:1])
	ss += s[1:]
	return ss
}

func formatVersion() string {
	return fmt.Sprintf(
		"\nVersion: %s\nCommit: %s\nDate: %s", version, commit, date,
	)
}
