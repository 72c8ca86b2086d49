package main

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bobg/rbs"
)

var putCmd = &cobra.Command{
	Use:   "put <namespace> <bucket> <key> [file]",
	Short: "Store an object, reading from file or stdin",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, bucket, key, err := objectArgs(args)
		if err != nil {
			return err
		}
		data, err := readInput(cmd, args[3:])
		if err != nil {
			return err
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			ref, cursor, err := e.objects().Put(ctx, ns, bucket, key, data)
			if err != nil {
				return err
			}
			printf(cmd, "%s %s %s\n", ref, cursor.Bucket, cursor.Event)
			return nil
		})
	},
}

var putRefCmd = &cobra.Command{
	Use:   "put-ref <namespace> <bucket> <key> <blob>",
	Short: "Record an already-stored blob as an object",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, bucket, key, err := objectArgs(args)
		if err != nil {
			return err
		}
		blob, err := rbs.RefFromHex(args[3])
		if err != nil {
			return err
		}
		finalized, _ := cmd.Flags().GetBool("finalized")
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			_, err := e.objects().PutRef(ctx, ns, bucket, key, blob, finalized)
			return err
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <namespace> <bucket> <key>",
	Short: "Write an object's content to stdout",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, bucket, key, err := objectArgs(args)
		if err != nil {
			return err
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			_, data, err := e.objects().Get(ctx, ns, bucket, key)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return errors.Wrap(err, "writing object to stdout")
		})
	},
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize <namespace> <bucket> <key> <blob>",
	Short: "Mark an object as finalized",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, bucket, key, err := objectArgs(args)
		if err != nil {
			return err
		}
		blob, err := rbs.RefFromHex(args[3])
		if err != nil {
			return err
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			_, err := e.objects().Finalize(ctx, ns, bucket, key, blob)
			return err
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <namespace> <bucket> <key>",
	Short: "Delete an object",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, bucket, key, err := objectArgs(args)
		if err != nil {
			return err
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			_, err := e.objects().Delete(ctx, ns, bucket, key)
			return err
		})
	},
}

var evictCmd = &cobra.Command{
	Use:   "evict <namespace>",
	Short: "Delete the least recently accessed objects of a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := rbs.NewNamespaceID(args[0])
		if err != nil {
			return err
		}
		keep, _ := cmd.Flags().GetInt("keep")
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			n, err := e.objects().Evict(ctx, ns, keep)
			if err != nil {
				return err
			}
			printf(cmd, "evicted %d objects\n", n)
			return nil
		})
	},
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return data, errors.Wrap(err, "reading stdin")
	}
	data, err := os.ReadFile(args[0])
	return data, errors.Wrapf(err, "reading %s", args[0])
}

func init() {
	putRefCmd.Flags().Bool("finalized", false, "record the object as finalized")
	evictCmd.Flags().Int("keep", 0, "number of objects to keep")

	rootCmd.AddCommand(putCmd, putRefCmd, getCmd, finalizeCmd, deleteCmd, evictCmd)
}
