package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/storage/badger"
)

// NewResultStorage opens the results database. An empty path disables
// persistence and returns nil; the run report is still written to disk.
func NewResultStorage(logger arbor.ILogger, config *common.Config) (*badger.ResultStorage, error) {
	if config.Storage.Badger.Path == "" {
		logger.Info().Msg("Results database disabled (storage.badger.path is empty)")
		return nil, nil
	}
	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", config.Storage.Badger.Path).Msg("Results database initialized")
	return badger.NewResultStorage(db, logger), nil
}
