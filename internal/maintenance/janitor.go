// internal/maintenance/janitor.go
package maintenance

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/jason-s-yu/lobbyhub/internal/store"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Lobbies closes lobbies past their expiry.
type Lobbies interface {
	DetectExpired(ctx context.Context) ([]lobby.ExpiredLobby, error)
}

// Presence runs cleanup for users whose presence lapsed.
type Presence interface {
	SweepStale(ctx context.Context) (int, error)
}

// Report is what one pass changed.
type Report struct {
	ExpiredLobbies int   `json:"expiredLobbies"`
	StalePresence  int   `json:"stalePresence"`
	PurgedRates    int64 `json:"purgedRateEvents"`
}

// Janitor is the scheduled trigger for lifecycle work nothing else drives:
// lobby expiry, lapsed presence and the rate-limit ledger.
type Janitor struct {
	lobbies   Lobbies
	presence  Presence
	store     store.Store
	clock     clock.Clock
	logger    *logrus.Logger
	retention time.Duration
}

func NewJanitor(lobbies Lobbies, presence Presence, s store.Store, clk clock.Clock, logger *logrus.Logger, retention time.Duration) *Janitor {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &Janitor{lobbies: lobbies, presence: presence, store: s, clock: clk, logger: logger, retention: retention}
}

// RunOnce runs every step even if an earlier one fails. The report counts what
// succeeded; the error combines the failures.
func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	var errs error

	expired, err := j.lobbies.DetectExpired(ctx)
	rep.ExpiredLobbies = len(expired)
	errs = multierr.Append(errs, err)

	n, err := j.presence.SweepStale(ctx)
	rep.StalePresence = n
	errs = multierr.Append(errs, err)

	err = j.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		rep.PurgedRates, err = tx.PurgeRateEvents(ctx, j.clock.Now().Add(-j.retention))
		return err
	})
	errs = multierr.Append(errs, err)

	fields := logrus.Fields{
		"expired_lobbies": rep.ExpiredLobbies,
		"stale_presence":  rep.StalePresence,
		"purged_rates":    rep.PurgedRates,
	}
	if errs != nil {
		j.logger.WithFields(fields).WithError(errs).Warn("cleanup pass finished with errors")
	} else if rep != (Report{}) {
		j.logger.WithFields(fields).Info("cleanup pass")
	}
	return rep, errs
}

// Run calls RunOnce every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := j.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// failures are already logged; the next tick retries
			j.RunOnce(ctx)
		}
	}
}
