// Command gateway runs the reverse-proxy gateway and its companion
// subcommands: start the server, validate a configuration file without
// running it, write a starter configuration file, or poll a running
// gateway's health endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/keygate/internal/config"
	"github.com/wudi/keygate/internal/gateway"
	"github.com/wudi/keygate/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		runStart(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "init":
		runInit(os.Args[2:])
	case "monitor":
		runMonitor(os.Args[2:])
	case "-version", "--version", "version":
		fmt.Printf("keygate %s (built %s)\n", version, buildTime)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gateway <start|validate|init|monitor> [flags]")
}

func runStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("c", "config.toml", "path to configuration file")
	watch := fs.Bool("watch", false, "watch the configuration file and reload on change")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Parse(args)

	logger, closer, err := logging.New(logging.Config{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if closer != nil {
		defer closer.Close()
	}
	logging.SetGlobal(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	g, err := gateway.New(cfg, version, client)
	if err != nil {
		logging.Error("failed to build gateway", zap.Error(err))
		os.Exit(1)
	}

	if *watch {
		w, err := config.NewWatcher(*configPath, 200*time.Millisecond)
		if err != nil {
			logging.Error("failed to start config watcher", zap.Error(err))
			os.Exit(1)
		}
		w.OnReload(func(newCfg *config.Config) {
			if err := g.Reload(newCfg); err != nil {
				logging.Error("config reload failed", zap.Error(err))
			}
		})
		go w.Start()
		defer w.Stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logging.Info("starting gateway",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Int("listeners", len(cfg.EffectiveListeners())),
		zap.Int("routes", len(cfg.Routes)),
	)

	if err := g.Run(ctx); err != nil {
		logging.Error("gateway exited with error", zap.Error(err))
		os.Exit(1)
	}
	logging.Info("gateway stopped")
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("c", "config.toml", "path to configuration file")
	fs.Parse(args)

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("configuration is valid")
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	outPath := fs.String("o", "config.toml", "path to write the starter configuration")
	force := fs.Bool("force", false, "overwrite an existing file at the output path")
	fs.Parse(args)

	if !*force {
		if _, err := os.Stat(*outPath); err == nil {
			fmt.Fprintf(os.Stderr, "%s already exists, refusing to overwrite (use --force)\n", *outPath)
			os.Exit(1)
		}
	}

	if err := os.WriteFile(*outPath, []byte(starterConfig), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	fmt.Printf("wrote starter configuration to %s\n", *outPath)
}

const starterConfig = `[[servers]]
host = "0.0.0.0"
port = 8080

[metrics]
enabled = true
path = "/metrics"

[health]
enabled = true
path = "/health"

[[routes]]
name = "example"
path = "/api/*"
target = "http://localhost:3001"
strip_prefix = true
api_key_pool = "default"

[api_key_pools.default]
strategy = "round_robin"
header_name = "Authorization"

[[api_key_pools.default.keys]]
key = "replace-with-a-real-upstream-key"
`
