package main

import (
	"context"
	"fmt"
	"github.com/ejacobg/nodegraph/async"
	"github.com/ejacobg/nodegraph/badger"
	"github.com/ejacobg/nodegraph/cdb"
	"github.com/ejacobg/nodegraph/expiry"
	"github.com/ejacobg/nodegraph/frontend"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/ejacobg/nodegraph/inmem"
	"github.com/ejacobg/nodegraph/metrics"
	"github.com/ejacobg/nodegraph/redis"
	"github.com/ejacobg/nodegraph/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"io"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"
)

var (
	appName = "nodegraphd"
	appSha  = "populated-at-link-time"
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	logger := rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := makeApp(rootLogger, logger).Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func makeApp(rootLogger *logrus.Logger, logger *logrus.Entry) *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSha
	app.Usage = "Serve and expire a graph of classified nodes"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "node-repository-uri",
			Value:  "in-memory://",
			EnvVar: "NODE_REPOSITORY_URI",
			Usage:  "The URI for connecting to the node repository (supported URIs: in-memory://, redis://[:password@]host:port[/db])",
		},
		cli.StringFlag{
			Name:   "node-data-uri",
			Value:  "in-memory://",
			EnvVar: "NODE_DATA_URI",
			Usage:  "The URI for connecting to the node payload store (supported URIs: in-memory://, redis://host:port, postgresql://user@host:26257/nodegraph?sslmode=disable, badger:///path/to/dir)",
		},
		cli.StringFlag{
			Name:   "frontend-listen-addr",
			Value:  ":8080",
			EnvVar: "FRONTEND_LISTEN_ADDR",
			Usage:  "The address to listen for incoming front-end requests",
		},
		cli.DurationFlag{
			Name:   "frontend-request-timeout",
			Value:  5 * time.Second,
			EnvVar: "FRONTEND_REQUEST_TIMEOUT",
			Usage:  "The maximum time to wait for the node repository while serving a request",
		},
		cli.StringSliceFlag{
			Name:   "frontend-edge-classifier",
			EnvVar: "FRONTEND_EDGE_CLASSIFIERS",
			Usage:  "A type:category whose nodes are rendered with their edges (repeatable)",
		},
		cli.StringSliceFlag{
			Name:   "frontend-data-classifier",
			EnvVar: "FRONTEND_DATA_CLASSIFIERS",
			Usage:  "A type:category whose nodes are rendered with their payload (repeatable)",
		},
		cli.StringSliceFlag{
			Name:   "expiry-classifier",
			EnvVar: "EXPIRY_CLASSIFIERS",
			Usage:  "A type:category whose idle nodes are expired (repeatable); expiry is disabled when none is given",
		},
		cli.DurationFlag{
			Name:   "expiry-ttl",
			Value:  24 * time.Hour,
			EnvVar: "EXPIRY_TTL",
			Usage:  "The time after which idle nodes are expired",
		},
		cli.DurationFlag{
			Name:   "expiry-interval",
			Value:  10 * time.Minute,
			EnvVar: "EXPIRY_INTERVAL",
			Usage:  "The time between subsequent expiry sweeps",
		},
		cli.DurationFlag{
			Name:   "eviction-window",
			EnvVar: "EVICTION_WINDOW",
			Usage:  "Evict in-memory nodes idle for longer than this window (0 disables eviction)",
		},
		cli.IntFlag{
			Name:   "executor-workers",
			Value:  runtime.NumCPU(),
			EnvVar: "EXECUTOR_WORKERS",
			Usage:  "The maximum number of concurrent repository operations (defaults to number of CPUs)",
		},
		cli.StringFlag{
			Name:   "log-level",
			Value:  "info",
			EnvVar: "LOG_LEVEL",
			Usage:  "The log level (debug, info, warn, error)",
		},
	}
	app.Action = func(appCtx *cli.Context) error {
		level, err := logrus.ParseLevel(appCtx.String("log-level"))
		if err != nil {
			return err
		}
		rootLogger.SetLevel(level)
		return runMain(appCtx, logger)
	}
	return app
}

func runMain(appCtx *cli.Context, logger *logrus.Entry) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.WithField("err", err).Warn("failed to release resource")
			}
		}
	}()

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	svcGroup, err := setupServices(ctx, appCtx, logger, &closers)
	if err != nil {
		return err
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM)
		select {
		case s := <-sigCh:
			logger.WithField("signal", s.String()).Infof("shutting down due to signal")
			cancelFn()
		case <-ctx.Done():
		}
	}()

	return svcGroup.Run(ctx)
}

func setupServices(ctx context.Context, appCtx *cli.Context, logger *logrus.Entry, closers *[]io.Closer) (service.Group, error) {
	// Retrieve a suitable node repository and payload store implementation
	// and plug them into the service configurations.
	nodeRepo, err := getNodeRepository(ctx, appCtx, logger, closers)
	if err != nil {
		return nil, err
	}
	nodeData, err := getNodeData(ctx, appCtx.String("node-data-uri"), logger, closers)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	workers := appCtx.Int("executor-workers")
	if workers <= 0 {
		return nil, fmt.Errorf("invalid value for --executor-workers: %d", workers)
	}
	exec := async.NewExecutor(workers)
	*closers = append(*closers, exec)
	repo := async.NewRepository(metrics.NewRepository(nodeRepo, reg), exec)

	var svc service.Service
	var svcGroup service.Group

	var converters []frontend.Converter
	edgeClassifiers, err := parseClassifiers(appCtx.StringSlice("frontend-edge-classifier"))
	if err != nil {
		return nil, err
	}
	for _, c := range edgeClassifiers {
		converters = append(converters, frontend.EdgeConverter{For: c})
	}
	dataClassifiers, err := parseClassifiers(appCtx.StringSlice("frontend-data-classifier"))
	if err != nil {
		return nil, err
	}
	for _, c := range dataClassifiers {
		converters = append(converters, frontend.DataConverter{For: c, Data: nodeData})
	}

	frontendCfg := frontend.Config{
		Repository:     repo,
		Converters:     frontend.NewConverters(converters...),
		ListenAddr:     appCtx.String("frontend-listen-addr"),
		RequestTimeout: appCtx.Duration("frontend-request-timeout"),
		Gatherer:       reg,
		Logger:         logger.WithField("service", "front-end"),
	}
	if svc, err = frontend.NewService(frontendCfg); err == nil {
		svcGroup = append(svcGroup, svc)
	} else {
		return nil, err
	}

	expiryClassifiers, err := parseClassifiers(appCtx.StringSlice("expiry-classifier"))
	if err != nil {
		return nil, err
	}
	if len(expiryClassifiers) == 0 {
		logger.Info("no expiry classifiers specified; expiry disabled")
		return svcGroup, nil
	}

	expiryCfg := expiry.Config{
		Repository:  repo,
		Classifiers: expiryClassifiers,
		TTL:         appCtx.Duration("expiry-ttl"),
		Interval:    appCtx.Duration("expiry-interval"),
		Logger:      logger.WithField("service", "expiry"),
	}
	if svc, err = expiry.NewService(expiryCfg); err == nil {
		svcGroup = append(svcGroup, svc)
	} else {
		return nil, err
	}

	return svcGroup, nil
}

func parseClassifiers(list []string) ([]graph.Classifier, error) {
	out := make([]graph.Classifier, 0, len(list))
	for _, s := range list {
		c, err := graph.ParseClassifier(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func getNodeRepository(ctx context.Context, appCtx *cli.Context, logger *logrus.Entry, closers *[]io.Closer) (graph.NodeRepository, error) {
	nodeRepoURI := appCtx.String("node-repository-uri")
	if nodeRepoURI == "" {
		return nil, fmt.Errorf("node repository URI must be specified with --node-repository-uri")
	}

	uri, err := url.Parse(nodeRepoURI)
	if err != nil {
		return nil, fmt.Errorf("could not parse node repository URI: %w", err)
	}

	switch uri.Scheme {
	case "in-memory":
		logger.Info("using in-memory node repository")
		repo, err := inmem.NewRepository(inmem.Config{
			EvictionWindow: appCtx.Duration("eviction-window"),
			Logger:         logger.WithField("backend", "in-memory"),
		})
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, repo)
		return repo, nil
	case "redis", "rediss":
		logger.Info("using redis node repository")
		rdb, err := redis.NewClient(ctx, nodeRepoURI)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, rdb)
		repo, err := redis.NewRepository(rdb, redis.Config{
			Logger: logger.WithField("backend", "redis"),
		})
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported node repository URI scheme: %q", uri.Scheme)
	}
}

func getNodeData(ctx context.Context, nodeDataURI string, logger *logrus.Entry, closers *[]io.Closer) (graph.DataRepository, error) {
	if nodeDataURI == "" {
		return nil, fmt.Errorf("node data URI must be specified with --node-data-uri")
	}

	uri, err := url.Parse(nodeDataURI)
	if err != nil {
		return nil, fmt.Errorf("could not parse node data URI: %w", err)
	}

	switch uri.Scheme {
	case "in-memory":
		logger.Info("using in-memory node data store")
		return inmem.NewDataRepository(), nil
	case "redis", "rediss":
		logger.Info("using redis node data store")
		rdb, err := redis.NewClient(ctx, nodeDataURI)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, rdb)
		return redis.NewDataRepository(rdb), nil
	case "postgresql":
		logger.Info("using CDB node data store")
		store, err := cdb.NewDataRepository(ctx, nodeDataURI)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, store)
		return store, nil
	case "badger":
		logger.WithField("dir", uri.Path).Info("using badger node data store")
		store, err := badger.NewDataRepository(uri.Path)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, store)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported node data URI scheme: %q", uri.Scheme)
	}
}
