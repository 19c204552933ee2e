package dronesdk

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var retrySleep = time.Second

// Retryable is a sensor driver that can be reopened after a failure.
type Retryable interface {
	Open() error
	Close() error
	Start(ctx context.Context) error
	Name() string
}

// Runner is implemented by connections that need a background goroutine
// to read from their device.
type Runner interface {
	Run(ctx context.Context) error
}

// Retry opens r and keeps it started, closing and reopening it after any
// error, until the context ends.
func Retry(ctx context.Context, r Retryable) error {
	errStarting := errors.New("starting")
	err := errStarting
	for {
		select {
		case <-ctx.Done():
			if cErr := r.Close(); cErr != nil {
				log.WithField("err", cErr).Warnf("%s: unable to close", r.Name())
			}
			return ctx.Err()
		default:
		}
		if err != nil {
			if err != errStarting {
				log.WithField("err", err).Errorf("%s: reconnecting due to error", r.Name())
				if err = r.Close(); err != nil {
					log.WithField("err", err).Warnf("%s: unable to close", r.Name())
				}
				sleep(ctx, retrySleep)
			}
			err = r.Open()
			if err != nil {
				continue
			}
			log.Infof("%s: connected", r.Name())
		}
		err = r.Start(ctx)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
