// Command coalitionworker runs jobs of a coalition farm.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/imagvfx/coalition/farmrpc"
)

type options struct {
	farm      string
	name      string
	affinity  string
	heartbeat time.Duration
	poll      time.Duration
	attempts  uint
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "coalitionworker",
		Short:        "Run jobs of a coalition farm",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	hostname, _ := os.Hostname()
	fs := cmd.Flags()
	fs.StringVar(&opts.farm, "farm", "localhost:19212", "grpc address of the farm")
	fs.StringVar(&opts.name, "name", hostname, "name of the worker")
	fs.StringVar(&opts.affinity, "affinity", "", "affinity of the worker. keeps the one decided by the farm when empty")
	fs.DurationVar(&opts.heartbeat, "heartbeat", 10*time.Second, "interval of heartbeats while running a job")
	fs.DurationVar(&opts.poll, "poll", 5*time.Second, "interval to ask a job when the farm has nothing to do")
	fs.UintVar(&opts.attempts, "attempts", 10, "number of tries of a call, when the farm is unreachable")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level")
	return cmd
}

func serve(ctx context.Context, opts *options) error {
	level, err := log.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if opts.name == "" {
		return errors.New("worker needs a name")
	}
	conn, err := grpc.Dial(opts.farm, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return errors.Wrap(err, "dial farm")
	}
	defer conn.Close()

	w := &worker{
		name:      opts.name,
		affinity:  opts.affinity,
		client:    farmrpc.NewClient(conn),
		heartbeat: opts.heartbeat,
		poll:      opts.poll,
		attempts:  opts.attempts,
		log: log.WithFields(log.Fields{
			"worker":  opts.name,
			"session": xid.New().String(),
		}),
	}
	return w.run(ctx)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	err := newRootCmd().ExecuteContext(context.Background())
	if err != nil {
		log.Fatal(err)
	}
}
