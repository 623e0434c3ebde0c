/*
Copyright 2025 Pacewatch Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command crawler runs the split-timing crawler: it watches the
// enabled marathons, collects participant splits from the timing
// providers and stores them in the shared sqlite database.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gravitational/trace"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pacewatch/pacewatch/lib/assets"
	"github.com/pacewatch/pacewatch/lib/browser"
	"github.com/pacewatch/pacewatch/lib/config"
	"github.com/pacewatch/pacewatch/lib/engine"
	"github.com/pacewatch/pacewatch/lib/fetch"
	"github.com/pacewatch/pacewatch/lib/httpclient"
	"github.com/pacewatch/pacewatch/lib/scheduler"
	"github.com/pacewatch/pacewatch/lib/storage"
)

type options struct {
	adaptive bool
	skipInit bool
	envFile  string
	debug    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("crawler exited", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "crawler",
		Short:         "Marathon split-timing crawler",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawler(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.adaptive, "adaptive", false,
		"back off failing marathons exponentially")
	cmd.Flags().BoolVar(&opts.skipInit, "skip-init", false,
		"skip database schema initialization and migration")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env",
		"environment file loaded before configuration")
	cmd.Flags().BoolVar(&opts.debug, "debug", false,
		"enable debug logging")
	return cmd
}

func runCrawler(ctx context.Context, opts options) error {
	setupLogger(opts.debug)

	// The env file is optional; a missing one is not an error.
	if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load env file", "path", opts.envFile, "error", err)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return trace.Wrap(err)
	}

	st, err := storage.New(storage.Config{Path: cfg.DBPath})
	if err != nil {
		return trace.Wrap(err)
	}
	defer st.Close()
	if !opts.skipInit {
		if err := st.Init(ctx); err != nil {
			return trace.Wrap(err)
		}
		if err := st.Migrate(ctx); err != nil {
			return trace.Wrap(err)
		}
	}

	httpClient, err := httpclient.New(httpclient.Config{
		MaxWorkers:    cfg.MaxWorkers,
		VerifyForHost: cfg.VerifyForHost,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	browserWorker, err := browser.New(browser.Config{ChromePath: cfg.ChromePath})
	if err != nil {
		return trace.Wrap(err)
	}
	defer browserWorker.Close()

	fetcher, err := fetch.New(fetch.Config{
		HTTP:          httpClient,
		Browser:       browserWorker,
		CacheTTL:      cfg.CacheTTL,
		VerifyForHost: cfg.VerifyForHost,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	downloader, err := assets.NewDownloader(assets.Config{
		HTTP:    httpClient,
		CertDir: cfg.CertDir(),
	})
	if err != nil {
		return trace.Wrap(err)
	}

	var sched engine.Scheduler
	if opts.adaptive {
		slog.Info("using adaptive scheduler")
		if sched, err = scheduler.NewAdaptive(scheduler.Config{}); err != nil {
			return trace.Wrap(err)
		}
	} else {
		if sched, err = scheduler.New(scheduler.Config{}); err != nil {
			return trace.Wrap(err)
		}
	}

	eng, err := engine.New(engine.Config{
		Storage:    st,
		Fetcher:    fetcher,
		Scheduler:  sched,
		Downloader: downloader,
		MaxWorkers: cfg.MaxWorkers,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(eng.Run(ctx))
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug || os.Getenv("CRAWLER_DEBUG") == "1" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: level})))
}
