package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apteryx "github.com/isaac129/apteryx"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage apteryxd configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

type configDefaults struct {
	Socket          string `yaml:"socket"`
	ClientSocketDir string `yaml:"client-socket-dir"`
	Codec           string `yaml:"codec"`
	RPCTimeout      string `yaml:"rpc-timeout"`
	Workers         int    `yaml:"workers"`
	Debug           bool   `yaml:"debug"`
	OTLPEndpoint    string `yaml:"otlp-endpoint"`
	MetricsListen   string `yaml:"metrics-listen"`
	PprofListen     string `yaml:"pprof-listen"`
	RuntimeMetrics  bool   `yaml:"runtime-metrics"`
	LogLevel        string `yaml:"log-level"`
}

func defaultConfigYAML() ([]byte, error) {
	defaults := configDefaults{
		Socket:          apteryx.DefaultSocket,
		ClientSocketDir: apteryx.DefaultClientSocketDir,
		Codec:           apteryx.DefaultCodec,
		RPCTimeout:      apteryx.DefaultRPCTimeout.String(),
		Workers:         apteryx.DefaultWorkers,
		Debug:           false,
		OTLPEndpoint:    "",
		MetricsListen:   "",
		PprofListen:     "",
		RuntimeMetrics:  false,
		LogLevel:        "info",
	}
	out, err := yaml.Marshal(&defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default apteryxd configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			if outPath == "" {
				dir, err := apteryx.DefaultConfigDir()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = filepath.Join(dir, apteryx.DefaultConfigFileName)
			}

			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				fmt.Fprint(cmd.OutOrStdout(), string(data))
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "output path for generated config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}
