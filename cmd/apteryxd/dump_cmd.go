package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apteryxclient "github.com/isaac129/apteryx/client"
)

// newDumpCommand connects to a running daemon as an ordinary client and
// prints every entry under a path, finishing with a humanized total size.
// It exists for operators poking at a live daemon from a shell, not for
// programmatic use.
func newDumpCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump entries under a path from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cli, err := apteryxclient.Open(apteryxclient.Config{
				DaemonSocket: viper.GetString("socket"),
				Codec:        viper.GetString("codec"),
				RPCTimeout:   viper.GetDuration("rpc-timeout"),
			})
			if err != nil {
				return fmt.Errorf("connect to daemon: %w", err)
			}
			defer cli.Close()

			type entry struct {
				path  string
				value []byte
			}
			var entries []entry
			if err := cli.Dump(ctx, path, func(p string, v []byte) {
				entries = append(entries, entry{path: p, value: v})
			}); err != nil {
				return fmt.Errorf("dump %s: %w", path, err)
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

			var total uint64
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %q (%s)\n", e.path, e.value, humanize.Bytes(uint64(len(e.value))))
				total += uint64(len(e.value))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries, %s total\n", len(entries), humanize.Bytes(total))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "/", "directory to dump")
	return cmd
}
