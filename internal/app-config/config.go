package appconfig

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/shoal-wallet/shoal/internal/config"
	"github.com/shoal-wallet/shoal/internal/core/application"
	"github.com/shoal-wallet/shoal/internal/core/ports"
	dbbadger "github.com/shoal-wallet/shoal/internal/infrastructure/storage/db/badger"
	"github.com/shoal-wallet/shoal/internal/infrastructure/storage/db/inmemory"
	postgresdb "github.com/shoal-wallet/shoal/internal/infrastructure/storage/db/postgres"
)

// AppConfig is the struct holding all configuration options for the utxo
// application service. This data structure acts also as a factory of the
// service and of the repository manager used by it.
// Public config args:
//   - UtxoExpiryDuration - (required) The duration in seconds for the app service to wait until unlocking one or more previously locked utxo.
//   - RepoManagerType - (required) One of the supported repository manager types.
//   - RepoManagerConfig - (optional) Custom config args for the repository manager based on its type.
type AppConfig struct {
	Version string
	Commit  string
	Date    string

	UtxoExpiryDuration time.Duration

	RepoManagerType   string
	RepoManagerConfig interface{}

	rm      ports.RepoManager
	utxoSvc *application.UtxoService
}

func (c *AppConfig) Validate() error {
	if c.UtxoExpiryDuration == 0 {
		return fmt.Errorf("missing utxo expiry duration")
	}
	if len(c.RepoManagerType) == 0 {
		return fmt.Errorf("missing repo manager type")
	}
	if _, ok := config.SupportedDbs[c.RepoManagerType]; !ok {
		return fmt.Errorf(
			"repo manager type not supported, must be one of: %s",
			config.SupportedDbs,
		)
	}
	if _, err := c.repoManager(); err != nil {
		return err
	}

	return nil
}

func (c *AppConfig) RepoManager() ports.RepoManager {
	return c.rm
}

func (c *AppConfig) UtxoService() *application.UtxoService {
	return c.utxoService()
}

func (c *AppConfig) repoManager() (ports.RepoManager, error) {
	if c.rm != nil {
		return c.rm, nil
	}

	switch c.RepoManagerType {
	case "inmemory":
		c.rm = inmemory.NewRepoManager()
		return c.rm, nil
	case "badger":
		if c.RepoManagerConfig == nil {
			return nil, fmt.Errorf("missing repo manager config args")
		}
		datadir, ok := c.RepoManagerConfig.(string)
		if !ok {
			return nil, fmt.Errorf("invalid repo manager config type, must be string")
		}
		rm, err := dbbadger.NewRepoManager(datadir, log.New())
		if err != nil {
			return nil, err
		}
		c.rm = rm
		return c.rm, nil
	case "postgres":
		dbConfig, ok := c.RepoManagerConfig.(postgresdb.DbConfig)
		if !ok {
			return nil, fmt.Errorf("invalid repo manager config type, must be postgresdb.DbConfig")
		}

		rm, err := postgresdb.NewRepoManager(dbConfig)
		if err != nil {
			return nil, err
		}

		c.rm = rm
		return c.rm, nil
	default:
		return nil, fmt.Errorf("unknown repo manager type")
	}
}

func (c *AppConfig) utxoService() *application.UtxoService {
	if c.utxoSvc != nil {
		return c.utxoSvc
	}

	rm, _ := c.repoManager()
	c.utxoSvc = application.NewUtxoService(rm, c.UtxoExpiryDuration)
	return c.utxoSvc
}

func (c *AppConfig) BuildInfo() string {
	version := "dev"
	if c.Version != "" {
		version = c.Version
	}
	commit := "none"
	if c.Commit != "" {
		commit = c.Commit
	}
	date := "unknown"
	if c.Date != "" {
		date = c.Date
	}
	return fmt.Sprintf("version: %s commit: %s date: %s", version, commit, date)
}
