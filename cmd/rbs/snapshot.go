package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/replication"
	"github.com/bobg/rbs/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Build and inspect snapshots",
}

var snapshotBuildCmd = &cobra.Command{
	Use:   "build <namespace>",
	Short: "Build a snapshot of a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := rbs.NewNamespaceID(args[0])
		if err != nil {
			return err
		}
		snapNS, err := snapshotNamespace()
		if err != nil {
			return err
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			ref, err := e.builder().BuildSnapshot(ctx, ns, snapNS)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", ref)
			return nil
		})
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list <namespace>",
	Short: "List the snapshots of a namespace, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := rbs.NewNamespaceID(args[0])
		if err != nil {
			return err
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			return e.meta.Log.GetSnapshots(ctx, ns, func(info replication.SnapshotInfo) error {
				printf(cmd, "%s %s\n", info.Blob, info.CreatedAt.UTC().Format(time.RFC3339))
				return nil
			})
		})
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <namespace> [snapshot]",
	Short: "Print a snapshot (default: the latest) as JSON",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := rbs.NewNamespaceID(args[0])
		if err != nil {
			return err
		}
		snapNS, err := snapshotNamespace()
		if err != nil {
			return err
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			var ref rbs.Ref
			if len(args) > 1 {
				if ref, err = rbs.RefFromHex(args[1]); err != nil {
					return err
				}
			} else {
				info, err := replication.LatestSnapshot(ctx, e.meta.Log, ns)
				if err != nil {
					return err
				}
				ref = info.Blob
			}
			s, err := snapshot.Load(ctx, e.blobs, snapNS, ref)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		})
	},
}

var snapshotServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build snapshots of every namespace periodically",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		snapNS, err := snapshotNamespace()
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			svc := &snapshot.Service{
				Builder:           e.builder(),
				SnapshotNamespace: snapNS,
				Interval:          interval,
			}
			return svc.Run(ctx)
		})
	},
}

func (e *env) builder() *snapshot.Builder {
	return &snapshot.Builder{
		Refs:            e.meta.Refs,
		Log:             e.meta.Log,
		Blobs:           e.blobs,
		MaxSnapshots:    viper.GetInt("max_snapshots"),
		BucketRetention: viper.GetDuration("bucket_retention"),
		LockDir:         viper.GetString("lock_dir"),
	}
}

func init() {
	snapshotServeCmd.Flags().Duration("interval", snapshot.DefaultInterval, "time between rounds")

	snapshotCmd.AddCommand(snapshotBuildCmd, snapshotListCmd, snapshotShowCmd, snapshotServeCmd)
	rootCmd.AddCommand(snapshotCmd)
}
