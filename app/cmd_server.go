package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/sci-ndp/ndp-catalog-adapter/api"
	"github.com/sci-ndp/ndp-catalog-adapter/broker"
	"github.com/sci-ndp/ndp-catalog-adapter/catalog"
	"github.com/sci-ndp/ndp-catalog-adapter/dataset"
	"github.com/sci-ndp/ndp-catalog-adapter/s3"
	"github.com/sci-ndp/ndp-catalog-adapter/search"
	"github.com/sci-ndp/ndp-catalog-adapter/version"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewCmdServer(logger logrus.FieldLogger, config *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the application server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.WithField("v", version.VERSION).Info("Starting server...")
			return doServer(logger, config)
		},
	}
}

func doServer(logger logrus.FieldLogger, config *Config) error {
	router, handler, err := server(logger, config, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	var g run.Group
	{
		ln, err := net.Listen("tcp", config.Server.APIAddr)
		if err != nil {
			return err
		}
		logger.WithField("addr", ln.Addr().String()).Info("API server listening")

		srv := &http.Server{Handler: handler}
		g.Add(func() error {
			if err := srv.Serve(ln); err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	{
		ln, err := net.Listen("tcp", config.Server.AdminAddr)
		if err != nil {
			return err
		}
		logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")

		g.Add(func() error {
			return http.Serve(ln, adminMux())
		}, func(error) {
			ln.Close()
		})
	}
	{
		cancel := make(chan struct{})

		g.Add(func() error {
			err := interrupt(cancel, func() { router.Log(logger) })
			logger.Warn("Shutting down...")
			return err
		}, func(error) {
			close(cancel)
		})
	}

	return g.Run()
}

func adminMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	// Prometheus metrics.
	mux.Handle("/metrics", promhttp.Handler())

	// Profiling data.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))

	return mux
}

// server wires the services behind the HTTP API.
func server(logger logrus.FieldLogger, config *Config, reg prometheus.Registerer) (*catalog.Router, http.Handler, error) {
	metrics := catalog.NewMetrics(reg)

	var router *catalog.Router
	{
		httpClient := &http.Client{Timeout: config.Catalog.Timeout}
		router = catalog.NewRouter(config.Backends(), func(sel catalog.Selector, u *url.URL, apiKey string) catalog.Client {
			return catalog.Instrument(catalog.NewClient(u, apiKey, httpClient, config.Catalog.UserAgent), sel, metrics)
		})
		router.Log(logger.WithField("component", "catalog"))
	}

	prober := broker.NewKafkaProber(logger.WithField("component", "broker"), config.Broker())

	opts := []dataset.Option{dataset.WithRollback(config.Dataset.RollbackPartialCreate)}
	if config.Kafka.VerifyTopics {
		opts = append(opts, dataset.WithTopicProber(prober))
	}
	if config.S3.VerifyObjects {
		sess, err := awsSession(logger, config.S3.Profile, config.S3.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, dataset.WithObjectStorage(s3.New(sess)))
	}

	datasets := dataset.New(logger.WithField("component", "dataset"), router, opts...)
	searches := search.New(logger.WithField("component", "search"), router)

	return router, api.New(logger.WithField("component", "api"), datasets, searches, prober), nil
}

type logrusProxy struct {
	logger logrus.FieldLogger
}

func (l logrusProxy) Log(args ...interface{}) {
	l.logger.WithField("client", "aws").Debug(args...)
}

// awsSession returns a session using NewSessionWithOptions meaning that it
// relies on the SDK defaults but also the user config files and environment.
//
// AWS_S3_FORCE_PATH_STYLE is not read by the SDK itself; it is needed by
// S3-compatible stores such as MinIO.
func awsSession(logger logrus.FieldLogger, profile, endpoint string) (*session.Session, error) {
	options := session.Options{}
	if profile != "" {
		options.Profile = profile
	}
	if endpoint != "" {
		options.Config.WithEndpoint(endpoint)
	}
	if res, ok := os.LookupEnv("AWS_S3_FORCE_PATH_STYLE"); ok {
		enabled, _ := strconv.ParseBool(res)
		options.Config.WithS3ForcePathStyle(enabled)
	}
	if logrus.GetLevel() == logrus.DebugLevel {
		options.Config.WithCredentialsChainVerboseErrors(true)
	}
	options.Config.WithLogger(logrusProxy{logger: logger})
	return session.NewSessionWithOptions(options)
}
