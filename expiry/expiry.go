// Package expiry periodically expires nodes that have not been accessed
// within a configured time-to-live.
package expiry

import (
	"context"
	"fmt"
	"github.com/ejacobg/nodegraph/async"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"io"
	"time"
)

// Config encapsulates the settings for configuring the expiry service.
type Config struct {
	// The repository to expire nodes from.
	Repository *async.Repository

	// The classifiers whose nodes are subject to expiry.
	Classifiers []graph.Classifier

	// Nodes idle for longer than TTL are removed.
	TTL time.Duration

	// The time between subsequent sweeps.
	Interval time.Duration

	// A clock instance for generating time-related events. If not specified,
	// the default wall-clock will be used instead.
	Clock clock.Clock

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Repository == nil {
		err = multierror.Append(err, fmt.Errorf("node repository has not been provided"))
	}
	if len(cfg.Classifiers) == 0 {
		err = multierror.Append(err, fmt.Errorf("no classifiers have been specified"))
	}
	if cfg.TTL <= 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for ttl"))
	}
	if cfg.Interval <= 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for sweep interval"))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		cfg.Logger = logrus.NewEntry(l)
	}
	return err
}

// Service runs ExpireAll for every configured classifier once per interval.
type Service struct {
	cfg Config
}

// NewService creates a new expiry service instance with the specified config.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("expiry service: config validation failed: %w", err)
	}
	return &Service{cfg: cfg}, nil
}

// Name implements service.Service
func (svc *Service) Name() string { return "expiry" }

// Run implements service.Service. Failed sweeps are logged and retried on
// the next interval.
func (svc *Service) Run(ctx context.Context) error {
	svc.cfg.Logger.WithFields(logrus.Fields{
		"ttl":      svc.cfg.TTL.String(),
		"interval": svc.cfg.Interval.String(),
	}).Info("starting service")
	defer svc.cfg.Logger.Info("stopped service")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-svc.cfg.Clock.After(svc.cfg.Interval):
			_ = svc.Sweep(ctx)
		}
	}
}

// Sweep expires all configured classifiers concurrently and waits for the
// results. A failure for one classifier does not affect the others.
func (svc *Service) Sweep(ctx context.Context) error {
	futures := make([]*async.Future[struct{}], len(svc.cfg.Classifiers))
	for i, c := range svc.cfg.Classifiers {
		futures[i] = svc.cfg.Repository.ExpireAll(ctx, c, svc.cfg.TTL)
	}

	var err error
	for i, f := range futures {
		if _, expErr := f.Wait(ctx); expErr != nil {
			svc.cfg.Logger.WithFields(logrus.Fields{
				"classifier": svc.cfg.Classifiers[i].String(),
				"err":        expErr,
			}).Error("expiry sweep failed")
			err = multierror.Append(err, fmt.Errorf("%s: %w", svc.cfg.Classifiers[i], expErr))
		}
	}
	if err == nil {
		svc.cfg.Logger.WithField("classifiers", len(svc.cfg.Classifiers)).Debug("completed expiry sweep")
	}
	return err
}
