package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/contentid"
)

var putChunkedCmd = &cobra.Command{
	Use:   "put-chunked <namespace> [file]",
	Short: "Store content as hashsplit chunks and print its content id",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := rbs.NewNamespaceID(args[0])
		if err != nil {
			return err
		}
		weight, _ := cmd.Flags().GetInt("weight")

		in := cmd.InOrStdin()
		if len(args) > 1 && args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return errors.Wrapf(err, "opening %s", args[1])
			}
			defer f.Close()
			in = f
		}

		return withEnv(cmd, func(ctx context.Context, e *env) error {
			id, err := contentid.WriteChunked(ctx, e.resolver(), e.blobs, ns, in, weight)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", id)
			return nil
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <namespace> <content-id>",
	Short: "Print the chunk refs of a content id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := rbs.NewNamespaceID(args[0])
		if err != nil {
			return err
		}
		id, err := rbs.RefFromHex(args[1])
		if err != nil {
			return err
		}
		cat, _ := cmd.Flags().GetBool("cat")
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			if cat {
				return contentid.ReadResolved(ctx, e.resolver(), ns, id, cmd.OutOrStdout())
			}
			chunks, err := e.resolver().Resolve(ctx, ns, id)
			if err != nil {
				return err
			}
			for _, chunk := range chunks {
				printf(cmd, "%s\n", chunk)
			}
			return nil
		})
	},
}

func init() {
	putChunkedCmd.Flags().Int("weight", 0, "candidate weight (higher is preferred)")
	resolveCmd.Flags().Bool("cat", false, "write the resolved content instead of the chunk list")

	rootCmd.AddCommand(putChunkedCmd, resolveCmd)
}
