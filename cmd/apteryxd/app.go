package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apteryx "github.com/isaac129/apteryx"
	"github.com/isaac129/apteryx/internal/svcfields"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("APTERYX_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "apteryxd")

	cmd := newRootCommand(baseLogger)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			svcfields.Tag(baseLogger, svcfields.Path("cli", "root")).Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := apteryx.DefaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, apteryx.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "apteryxd",
		Short:         "apteryxd is a process-shared, path-addressed configuration and state database",
		SilenceErrors: true,
		Example: `
  # Listen on the default socket
  apteryxd

  # Listen on a custom socket with gob encoding
  apteryxd --socket /tmp/apteryxd.sock --codec gob

  # Enable Prometheus metrics and pprof
  apteryxd --metrics-listen :9342 --pprof-listen :9343
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.Tag(logger, svcfields.Path("cli", "root"))
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			svcfields.Tag(logger, svcfields.Path("server", "lifecycle", "init")).Info(
				"starting apteryxd",
				"pid", os.Getpid(),
			)

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			cfg := bindConfig()

			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			if cfg.Debug {
				logLevel = "debug"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
			}

			srv, stop, err := apteryx.StartServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			cliLogger.Info("listening", "socket", srv.Addr())

			stopFile, err := apteryx.WatchFile(configFile, func(debug bool, rpcTimeout time.Duration) {
				cliLogger.Info("config file changed; new values are not applied to the running server", "debug", debug, "rpc_timeout", rpcTimeout)
			})
			if err != nil {
				return err
			}
			defer stopFile()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return stop(shutdownCtx)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.apteryx/"+apteryx.DefaultConfigFileName+")")
	flags.String("socket", apteryx.DefaultSocket, "daemon listen socket")
	flags.String("client-socket-dir", apteryx.DefaultClientSocketDir, "directory documented as holding client callback sockets")
	flags.String("codec", apteryx.DefaultCodec, "wire codec (json or gob)")
	flags.Duration("rpc-timeout", apteryx.DefaultRPCTimeout, "bound on every daemon<->client RPC")
	flags.Int("workers", apteryx.DefaultWorkers, "worker pool size for inbound RPC dispatch")
	flags.Bool("debug", false, "enable verbose logging")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	flags.String("metrics-listen", "", "Prometheus scrape endpoint (empty disables)")
	flags.String("pprof-listen", "", "pprof endpoint (empty disables)")
	flags.Bool("runtime-metrics", false, "export Go runtime metrics alongside the daemon's own metrics")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	names := []string{
		"config", "socket", "client-socket-dir", "codec", "rpc-timeout", "workers", "debug",
		"otlp-endpoint", "metrics-listen", "pprof-listen", "runtime-metrics", "log-level",
	}
	for _, name := range names {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("apteryx")
	viper.AutomaticEnv()

	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newDumpCommand())
	return cmd
}

func bindConfig() apteryx.Config {
	return apteryx.Config{
		Socket:          viper.GetString("socket"),
		ClientSocketDir: viper.GetString("client-socket-dir"),
		Codec:           viper.GetString("codec"),
		RPCTimeout:      viper.GetDuration("rpc-timeout"),
		Workers:         viper.GetInt("workers"),
		Debug:           viper.GetBool("debug"),
		OTLPEndpoint:    viper.GetString("otlp-endpoint"),
		MetricsListen:   viper.GetString("metrics-listen"),
		PprofListen:     viper.GetString("pprof-listen"),
		RuntimeMetrics:  viper.GetBool("runtime-metrics"),
	}
}
