// Package frontend serves JSON renderings of nodes over HTTP.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ejacobg/nodegraph/async"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	collectionEndpoint = "/nodes/{type}/{category}"
	nodeEndpoint       = "/nodes/{type}/{category}/{id}"
	metricsEndpoint    = "/metrics"
)

// errNotFound marks lookups that should be reported with a 404.
var errNotFound = errors.New("not found")

// Config encapsulates the settings for configuring the front-end service.
type Config struct {
	// The repository used to look up nodes.
	Repository *async.Repository

	// The converters used to render nodes, keyed by classifier.
	Converters Converters

	// The address to listen for incoming requests.
	ListenAddr string

	// The maximum time to wait for the repository while serving a request.
	RequestTimeout time.Duration

	// The source of the metrics exposed on /metrics. Defaults to the
	// default prometheus registry.
	Gatherer prometheus.Gatherer

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Repository == nil {
		err = multierror.Append(err, fmt.Errorf("node repository has not been provided"))
	}
	if cfg.ListenAddr == "" {
		err = multierror.Append(err, fmt.Errorf("listen address has not been specified"))
	}
	if cfg.RequestTimeout <= 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for request timeout"))
	}
	if cfg.Converters == nil {
		cfg.Converters = Converters{}
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		cfg.Logger = logrus.NewEntry(l)
	}
	return err
}

// Service implements the node rendering front-end.
type Service struct {
	cfg    Config
	router *mux.Router
}

// NewService creates a new front-end service instance with the specified
// config.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("front-end service: config validation failed: %w", err)
	}

	svc := &Service{
		router: mux.NewRouter(),
		cfg:    cfg,
	}

	svc.router.HandleFunc(collectionEndpoint, svc.renderCollection).Methods("GET")
	svc.router.HandleFunc(nodeEndpoint, svc.renderNode).Methods("GET")
	svc.router.Handle(metricsEndpoint, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	svc.router.NotFoundHandler = http.HandlerFunc(svc.renderNotFound)

	return svc, nil
}

// Name implements service.Service
func (svc *Service) Name() string { return "front-end" }

// Run implements service.Service
func (svc *Service) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", svc.cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	srv := &http.Server{
		Addr:    svc.cfg.ListenAddr,
		Handler: svc.router,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	svc.cfg.Logger.WithField("addr", svc.cfg.ListenAddr).Info("starting front-end server")
	if err = srv.Serve(l); errors.Is(err, http.ErrServerClosed) {
		// Ignore error when the server shuts down.
		err = nil
	}

	return err
}

// ServeHTTP implements http.Handler.
func (svc *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svc.router.ServeHTTP(w, r)
}

func (svc *Service) renderNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p := graph.NewProperties(vars["id"], vars["type"], vars["category"])

	// Get touches the node; nodes nobody can render are left alone.
	if _, ok := svc.cfg.Converters[p.Classifier]; !ok {
		svc.renderError(w, r, fmt.Errorf("no converter for %s: %w", p.Classifier, errNotFound))
		return
	}

	ctx, cancelFn := context.WithTimeout(r.Context(), svc.cfg.RequestTimeout)
	defer cancelFn()

	n, err := svc.cfg.Repository.Get(ctx, p).Wait(ctx)
	if err == nil && n.IsZero() {
		err = errNotFound
	}

	var body interface{}
	if err == nil {
		body, err = svc.convert(ctx, n)
	}
	if err != nil {
		svc.renderError(w, r, err)
		return
	}

	svc.renderJSON(w, r, body)
}

func (svc *Service) renderCollection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	c := graph.Classifier{Type: vars["type"], Category: vars["category"]}

	ctx, cancelFn := context.WithTimeout(r.Context(), svc.cfg.RequestTimeout)
	defer cancelFn()

	if _, ok := svc.cfg.Converters[c]; !ok {
		svc.renderError(w, r, fmt.Errorf("no converter for %s: %w", c, errNotFound))
		return
	}

	list, err := svc.cfg.Repository.Lookup(ctx, c).Wait(ctx)
	if err != nil {
		svc.renderError(w, r, err)
		return
	}
	graph.SortProperties(list)

	// Fetch all members concurrently, then render in order.
	futures := make([]*async.Future[graph.Node], len(list))
	for i, p := range list {
		futures[i] = svc.cfg.Repository.Get(ctx, p)
	}

	bodies := []interface{}{}
	for _, f := range futures {
		n, err := f.Wait(ctx)
		if err != nil {
			svc.renderError(w, r, err)
			return
		}
		if n.IsZero() {
			// Removed since the lookup.
			continue
		}

		body, err := svc.convert(ctx, n)
		if errors.Is(err, errNotFound) {
			continue
		} else if err != nil {
			svc.renderError(w, r, err)
			return
		}
		bodies = append(bodies, body)
	}

	svc.renderJSON(w, r, bodies)
}

// convert renders n with the converter registered for its classifier.
func (svc *Service) convert(ctx context.Context, n graph.Node) (interface{}, error) {
	c := n.Properties().Classifier
	converter, ok := svc.cfg.Converters[c]
	if !ok {
		return nil, fmt.Errorf("no converter for %s: %w", c, errNotFound)
	}

	body, err := converter.Convert(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", n.Properties(), err)
	} else if body == nil {
		return nil, fmt.Errorf("convert %s: %w", n.Properties(), errNotFound)
	}
	return body, nil
}

func (svc *Service) renderJSON(w http.ResponseWriter, r *http.Request, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		svc.cfg.Logger.WithFields(logrus.Fields{"err": err, "path": r.URL.Path}).Error("failed to render response")
	}
}

func (svc *Service) renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errNotFound), errors.Is(err, graph.ErrInvalidNode):
		svc.renderNotFound(w, r)
	default:
		svc.cfg.Logger.WithFields(logrus.Fields{"err": err, "path": r.URL.Path}).Error("failed to serve request")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
	}
}

func (svc *Service) renderNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(http.StatusNotFound)})
}
