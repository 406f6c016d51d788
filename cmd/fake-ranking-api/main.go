// Command fake-ranking-api serves generated division leaderboards so that
// ladder can be run locally without the real ranking API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/okian/ladder/internal/fakeapi"
	"github.com/okian/ladder/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "fake-ranking-api",
		Usage: "serve generated GetDivisionLeaderboard responses",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":9090", EnvVars: []string{"FAKE_RANKING_ADDR"}},
			&cli.IntFlag{Name: "size", Value: fakeapi.DefaultSize, Usage: "rows per leaderboard"},
			&cli.DurationFlag{Name: "interval", Value: fakeapi.DefaultInterval, Usage: "how often time_posted advances"},
			&cli.Uint64Flag{Name: "seed", Usage: "vary generated player names"},
		},
		Action: run,
	}
	if err := app.RunContext(ctx, os.Args); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if err := logger.Init(); err != nil {
		return err
	}
	log := logger.Named("fake-ranking-api")

	gen := fakeapi.NewGenerator(
		fakeapi.WithSize(c.Int("size")),
		fakeapi.WithInterval(c.Duration("interval")),
		fakeapi.WithSeed(c.Uint64("seed")),
	)
	srv := &http.Server{
		Addr:              c.String("addr"),
		Handler:           fakeapi.Handler(gen),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-c.Context.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Info(c.Context, "serving fake leaderboards",
		logger.String("addr", srv.Addr),
		logger.String("path", fakeapi.Path),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
