// Command rbs is a command-line interface to a replicated object store.
//
// Stores are described by a config file (YAML, JSON, or TOML) with two maps,
// "blobs" and "meta", each naming a backend in its "type" key:
//
//	blobs:
//	  type: file
//	  root: /var/lib/rbs/blobs
//	meta:
//	  type: sqlite3
//	  conn: /var/lib/rbs/meta.db
//
// Settings may also come from RBS_-prefixed environment variables.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/contentid"
	"github.com/bobg/rbs/objects"
	"github.com/bobg/rbs/snapshot"
	"github.com/bobg/rbs/store"
	_ "github.com/bobg/rbs/store/bt"
	_ "github.com/bobg/rbs/store/compress"
	_ "github.com/bobg/rbs/store/file"
	_ "github.com/bobg/rbs/store/gcs"
	_ "github.com/bobg/rbs/store/logging"
	_ "github.com/bobg/rbs/store/lru"
	_ "github.com/bobg/rbs/store/mem"
	_ "github.com/bobg/rbs/store/pg"
	_ "github.com/bobg/rbs/store/replica"
	_ "github.com/bobg/rbs/store/s3"
	_ "github.com/bobg/rbs/store/sqlite3"
)

var rootCmd = &cobra.Command{
	Use:           "rbs",
	Short:         "Replicated content-addressed object store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("rbs failed", "err", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		return setupLogging()
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./rbs.yaml or ~/.config/rbs/rbs.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn, or error")
	flags.String("snapshot-namespace", "snapshots", "namespace holding snapshot blobs")

	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("snapshot_namespace", flags.Lookup("snapshot-namespace"))
}

func initConfig() error {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "rbs"))
	}
	cfg := rootCmd.PersistentFlags().Lookup("config").Value.String()
	return loadConfig(viper.GetViper(), cfg, dirs...)
}

// loadConfig reads the config file cfg into v,
// or, when cfg is empty, the first rbs.* file found in dirs.
// Finding no file in dirs is not an error;
// a file that cannot be read or parsed is.
func loadConfig(v *viper.Viper, cfg string, dirs ...string) error {
	if cfg != "" {
		v.SetConfigFile(cfg)
	} else {
		v.SetConfigName("rbs")
		for _, dir := range dirs {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix("RBS")
	v.AutomaticEnv()
	v.SetDefault("inline_max", objects.DefaultInlineMax)
	v.SetDefault("max_snapshots", snapshot.DefaultMaxSnapshots)

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return errors.Wrap(err, "reading config")
}

func setupLogging() error {
	level, err := log.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return errors.Wrap(err, "parsing log level")
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
	})
	slog.SetDefault(slog.New(handler))
	return nil
}

// env is the set of stores named by the config.
type env struct {
	blobs rbs.BlobStore
	meta  *store.Meta
}

func openEnv(ctx context.Context) (*env, error) {
	return openEnvFrom(ctx, viper.GetViper())
}

func openEnvFrom(ctx context.Context, v *viper.Viper) (*env, error) {
	blobsConf := v.GetStringMap("blobs")
	if len(blobsConf) == 0 {
		return nil, errors.New(`config has no "blobs" section`)
	}
	metaConf := v.GetStringMap("meta")
	if len(metaConf) == 0 {
		return nil, errors.New(`config has no "meta" section`)
	}

	blobs, err := store.FromConfig(ctx, blobsConf)
	if err != nil {
		return nil, errors.Wrap(err, "creating blob store")
	}
	meta, err := store.MetaFromConfig(ctx, metaConf)
	if err != nil {
		return nil, errors.Wrap(err, "creating metadata stores")
	}
	return &env{blobs: blobs, meta: meta}, nil
}

func (e *env) Close() error {
	if e.meta.Close == nil {
		return nil
	}
	return e.meta.Close()
}

func (e *env) objects() *objects.Service {
	return &objects.Service{
		Blobs:     e.blobs,
		Refs:      e.meta.Refs,
		Log:       e.meta.Log,
		InlineMax: viper.GetInt("inline_max"),
	}
}

func (e *env) resolver() *contentid.Resolver {
	return &contentid.Resolver{Store: e.meta.ContentIDs, Blobs: e.blobs}
}

// withEnv runs f with the configured stores, closing them afterward.
func withEnv(cmd *cobra.Command, f func(context.Context, *env) error) (err error) {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return f(ctx, e)
}

func snapshotNamespace() (rbs.NamespaceID, error) {
	return rbs.NewNamespaceID(viper.GetString("snapshot_namespace"))
}

// objectArgs parses the namespace, bucket, and key arguments.
func objectArgs(args []string) (rbs.NamespaceID, rbs.BucketID, rbs.KeyID, error) {
	ns, err := rbs.NewNamespaceID(args[0])
	if err != nil {
		return "", "", "", err
	}
	bucket, err := rbs.NewBucketID(args[1])
	if err != nil {
		return "", "", "", err
	}
	key, err := rbs.NewKeyID(args[2])
	if err != nil {
		return "", "", "", err
	}
	return ns, bucket, key, nil
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
