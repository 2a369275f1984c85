package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tipjar/cmd/internal/passphrase"
	"tipjar/config"
	"tipjar/core/events"
	"tipjar/core/runtime"
	"tipjar/core/state"
	"tipjar/crypto"
	"tipjar/native/faucet"
	"tipjar/native/system"
	"tipjar/native/tipjar"
	"tipjar/observability"
	"tipjar/observability/logging"
	telemetry "tipjar/observability/otel"
	"tipjar/rpc"
	"tipjar/storage"
)

const (
	operatorPassEnv = "TIPJAR_OPERATOR_PASS"
	environmentEnv  = "TIPJAR_ENV"
	serviceName     = "tipjard"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "tipjard: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	passSource := passphrase.NewSource(operatorPassEnv, "operator keystore")
	cfg, err := config.Load(configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv(environmentEnv))
	if env == "" {
		env = cfg.Telemetry.Environment
	}
	logger, logCloser := logging.Setup(serviceName, env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    env,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	n, err := newNode(cfg, db, logger)
	if err != nil {
		return err
	}
	logger.Info("tipjard starting",
		slog.String("program", n.programID.String()),
		slog.String("address", cfg.RPCAddress),
		logging.MaskPath("keystore", cfg.OperatorKeystorePath))

	if err := n.server.Serve(ctx, cfg.RPCAddress); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("tipjard stopped")
	return nil
}

type node struct {
	programID   crypto.Address
	executor    *runtime.Executor
	broadcaster *events.Broadcaster
	faucet      *faucet.Faucet
	server      *rpc.Server
}

// newNode wires state, programs, faucet and the RPC server over db and
// applies the genesis allocations on first start.
func newNode(cfg *config.Config, db storage.Database, logger *slog.Logger) (*node, error) {
	programID, err := cfg.ProgramAddress()
	if err != nil {
		return nil, err
	}
	allocs, err := cfg.GenesisAllocations()
	if err != nil {
		return nil, err
	}

	manager := state.NewManager(db)
	applied, err := manager.ApplyGenesis(allocs)
	if err != nil {
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info("genesis applied", slog.Int("accounts", len(allocs)))
	}

	broadcaster := events.NewBroadcaster()
	broadcaster.OnDrop = observability.Events().RecordDropped

	rent := cfg.RentSchedule()
	exec, err := runtime.NewExecutor(manager, runtime.Config{
		Rent:        rent,
		Parallelism: cfg.Runtime.Parallelism,
		LockTimeout: cfg.LockTimeout(),
		Logger:      logger,
		Emitter:     events.Multi{broadcaster, tipjar.NewMetricsEmitter()},
	}, system.NewProgram(), tipjar.NewProgram(programID, rent))
	if err != nil {
		return nil, fmt.Errorf("build executor: %w", err)
	}

	drops := faucet.New(cfg.FaucetConfig(), exec, faucet.NewStore(db), logger)

	server, err := rpc.NewServer(rpc.ServerConfig{
		ProgramID:   programID,
		Executor:    exec,
		Faucet:      drops,
		Broadcaster: broadcaster,
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RPC.RequestsPerMinute,
			Burst:             cfg.RPC.Burst,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &node{
		programID:   programID,
		executor:    exec,
		broadcaster: broadcaster,
		faucet:      drops,
		server:      server,
	}, nil
}
