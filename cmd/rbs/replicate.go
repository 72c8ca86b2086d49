package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/replicator"
	"github.com/bobg/rbs/store"
)

var replicateCmd = &cobra.Command{
	Use:   "replicate <namespace>",
	Short: "Copy a namespace from a primary's stores into the configured stores",
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
		var (
			sourceConfig, _ = cmd.Flags().GetString("source-config")
			cursorsPath, _  = cmd.Flags().GetString("cursors")
			once, _         = cmd.Flags().GetBool("once")
			interval, _     = cmd.Flags().GetDuration("interval")
		)
		if sourceConfig == "" {
			return errors.New("missing --source-config")
		}
		if cursorsPath == "" {
			return errors.New("missing --cursors")
		}

		ctx := cmd.Context()
		sv, err := readConfig(sourceConfig)
		if err != nil {
			return err
		}
		src, err := openEnvFrom(ctx, sv)
		if err != nil {
			return errors.Wrap(err, "opening source stores")
		}
		defer src.Close()

		return withEnv(cmd, func(ctx context.Context, e *env) error {
			r := &replicator.Replicator{
				Source: &replicator.LocalSource{
					Log:               src.meta.Log,
					Blobs:             src.blobs,
					SnapshotNamespace: snapNS,
				},
				Namespace: ns,
				Blobs:     e.blobs,
				Refs:      e.meta.Refs,
				Cursors:   &replicator.FileCursors{Path: cursorsPath},
				Interval:  interval,
			}
			if !once {
				return r.Run(ctx)
			}
			for {
				n, err := r.Step(ctx)
				if err != nil {
					return err
				}
				if n == 0 {
					return nil
				}
			}
		})
	},
}

var syncBlobsCmd = &cobra.Command{
	Use:   "sync-blobs <namespace> <config> <config> [config...]",
	Short: "Make the blob stores of several configs hold the same blobs in a namespace",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := rbs.NewNamespaceID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var stores []rbs.BlobStore
		for _, path := range args[1:] {
			v, err := readConfig(path)
			if err != nil {
				return err
			}
			s, err := store.FromConfig(ctx, v.GetStringMap("blobs"))
			if err != nil {
				return errors.Wrapf(err, "creating blob store from %s", path)
			}
			stores = append(stores, s)
		}
		return store.Sync(ctx, ns, stores)
	},
}

func readConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	err := v.ReadInConfig()
	return v, errors.Wrapf(err, "reading config %s", path)
}

func init() {
	replicateCmd.Flags().String("source-config", "", "config file naming the primary's stores")
	replicateCmd.Flags().String("cursors", "", "file in which to keep the replication cursor")
	replicateCmd.Flags().Bool("once", false, "catch up once and exit instead of polling")
	replicateCmd.Flags().Duration("interval", replicator.DefaultInterval, "time between polls after catching up")

	rootCmd.AddCommand(replicateCmd, syncBlobsCmd)
}
