package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/parlorhq/parlor/internal/repository"
	"github.com/parlorhq/parlor/pkg/log"
)

// sweepTimeout bounds a single receipt sweep against the database.
const sweepTimeout = time.Minute

// Janitor owns the scheduled database cleanup jobs. Read receipts
// reference messages by id without a foreign key, so pruned or deleted
// messages leave orphan receipt rows behind until a sweep removes them.
type Janitor struct {
	messages repository.MessageRepository
	cron     *cron.Cron
}

// NewJanitor creates a janitor backed by the given message repository.
func NewJanitor(messages repository.MessageRepository) *Janitor {
	return &Janitor{
		messages: messages,
		cron:     cron.New(),
	}
}

// Start registers the receipt sweep on the given cron spec and starts
// the scheduler. Specs accept the standard five-field syntax plus
// descriptors such as "@hourly" and "@every 30m".
func (j *Janitor) Start(spec string) error {
	if _, err := j.cron.AddFunc(spec, j.runReceiptSweep); err != nil {
		return fmt.Errorf("schedule receipt sweep %q: %w", spec, err)
	}
	j.cron.Start()
	log.L().Info().Str("spec", spec).Msg("receipt sweep scheduled")
	return nil
}

// Stop halts the scheduler and waits for any running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) runReceiptSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	removed, err := j.SweepReceipts(ctx)
	if err != nil {
		log.L().Error().Err(err).Msg("receipt sweep failed")
		return
	}
	if removed > 0 {
		log.L().Info().Int64("removed", removed).Msg("swept orphan read receipts")
	}
}

// SweepReceipts deletes read receipts whose message no longer exists
// and returns the number removed.
func (j *Janitor) SweepReceipts(ctx context.Context) (int64, error) {
	return j.messages.DeleteOrphanReceipts(ctx)
}
