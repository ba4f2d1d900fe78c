package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/models"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
	"github.com/sirupsen/logrus"
)

// RetentionSweeper erases stored ID files once their retention horizon
// passes and clears the related ledger fields. upload_error is history and
// stays. Designed for one daily run; a run that finds nothing is normal.
type RetentionSweeper struct {
	Repo          models.OrderMetadataRepository
	Store         utils.SecureStore
	Logger        *logrus.Logger
	RetentionDays int
}

func NewRetentionSweeper(repo models.OrderMetadataRepository, store utils.SecureStore, logger *logrus.Logger, retentionDays int) *RetentionSweeper {
	return &RetentionSweeper{
		Repo:          repo,
		Store:         store,
		Logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Sweep processes each expired ledger independently: one erase failure is
// logged and skipped, never aborting the run.
func (s *RetentionSweeper) Sweep(ctx context.Context, now time.Time) {
	// 0 means retain indefinitely
	if s.RetentionDays == 0 {
		return
	}

	cutoff := now.AddDate(0, 0, -s.RetentionDays)
	ledgers, err := s.Repo.ListExpired(ctx, cutoff)
	if err != nil {
		config.LogError(s.Logger, "retention", "Sweep", "listing expired ledgers", nil, err)
		return
	}

	var erased int
	for _, ledger := range ledgers {
		if err := s.Store.Erase(ctx, ledger.StoragePath); err != nil {
			config.LogError(s.Logger, "retention", "Sweep", "erasing file", ledger.OrderID, err)
			continue
		}
		if err := s.Repo.ClearFileFields(ctx, ledger.OrderID); err != nil {
			config.LogError(s.Logger, "retention", "Sweep", "clearing ledger", ledger.OrderID, err)
			continue
		}
		erased++
	}

	if len(ledgers) > 0 {
		s.Logger.WithFields(logrus.Fields{
			"module":  "retention",
			"expired": len(ledgers),
			"erased":  erased,
		}).Info("retention sweep finished")
	}
}
