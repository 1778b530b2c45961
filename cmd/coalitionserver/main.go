package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/imagvfx/coalition"
	"github.com/imagvfx/coalition/api"
	"github.com/imagvfx/coalition/farmrpc"
	"github.com/imagvfx/coalition/lib/task"
	"github.com/imagvfx/coalition/service"
	"github.com/imagvfx/coalition/service/sqldb"
	"github.com/imagvfx/coalition/xmlrpc"
)

// shutdownTimeout is how long the server waits for ongoing requests when it stops.
const shutdownTimeout = 5 * time.Second

func configureLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

func main() {
	configureLogging()
	// .env is optional.
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = run(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	log.Info("bye")
}

// run serves a farm until ctx is done.
func run(ctx context.Context, cfg *Config) error {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	var services service.Services
	if cfg.DB.Driver != "" {
		db, err := sqldb.Open(cfg.DB.Driver, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		services = sqldb.NewServices(db)
	}
	var wgrps []*coalition.WorkerGroup
	if cfg.Workers.Groups != "" {
		wgrps, err = loadWorkerGroups(cfg.Workers.Groups)
		if err != nil {
			return err
		}
	}
	farm, err := coalition.NewFarm(services, wgrps)
	if err != nil {
		return err
	}
	farm.SetLiveness(cfg.Workers.Liveness)

	tasks := task.NewBackgroundTaskManager("coalition_", prometheus.DefaultRegisterer)
	err = tasks.Register(func() {
		n, err := farm.SweepWorkers(time.Now())
		if err != nil {
			log.Errorf("sweep workers: %v", err)
			return
		}
		if n != 0 {
			log.WithField("workers", n).Info("workers went offline")
		}
	}, cfg.Workers.Sweep, "sweep_workers")
	if err != nil {
		return errors.Wrap(err, "register sweep task")
	}
	defer tasks.StopAll(shutdownTimeout)

	router := api.NewRouter(farm)
	router.Handle("/xmlrpc", xmlrpc.NewHandler(farm)).Methods("POST")
	httpSrv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := farmrpc.NewGRPCServer(farm)

	httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return errors.Wrap(err, "listen http")
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		httpLis.Close()
		return errors.Wrap(err, "listen grpc")
	}
	log.WithFields(log.Fields{"http": httpLis.Addr(), "grpc": grpcLis.Addr()}).Info("coalition is serving")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := httpSrv.Serve(httpLis)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return grpcSrv.Serve(grpcLis)
	})
	if cfg.Workers.Groups != "" {
		g.Go(func() error {
			return watchWorkerGroups(ctx, cfg.Workers.Groups, farm)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		grpcSrv.GracefulStop()
		return err
	})
	return g.Wait()
}
