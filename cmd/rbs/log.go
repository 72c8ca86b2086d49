package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/replication"
)

var logCmd = &cobra.Command{
	Use:   "log <namespace>",
	Short: "Print replication log events after a cursor, one JSON object per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := rbs.NewNamespaceID(args[0])
		if err != nil {
			return err
		}
		var (
			bucket, _ = cmd.Flags().GetString("bucket")
			event, _  = cmd.Flags().GetString("event")
			count, _  = cmd.Flags().GetInt("count")
		)
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			page, err := replication.ReadIncremental(ctx, e.meta.Log, ns, replication.IncrementalRequest{
				LastBucket: bucket,
				LastEvent:  event,
				Count:      count,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, ev := range page.Events {
				if err = enc.Encode(eventJSON(ev)); err != nil {
					return err
				}
			}
			return enc.Encode(map[string]string{
				"next_bucket": page.Next.Bucket,
				"next_event":  cursorEvent(page.Next),
			})
		})
	},
}

type jsonEvent struct {
	Bucket     rbs.BucketID `json:"bucket"`
	Key        rbs.KeyID    `json:"key"`
	Blob       *rbs.Ref     `json:"blob,omitempty"`
	Op         string       `json:"op"`
	TimeBucket string       `json:"time_bucket"`
	EventID    string       `json:"event_id"`
	Timestamp  string       `json:"timestamp"`
}

func eventJSON(ev replication.Event) jsonEvent {
	result := jsonEvent{
		Bucket:     ev.Bucket,
		Key:        ev.Key,
		Op:         ev.Op.String(),
		TimeBucket: ev.TimeBucket,
		EventID:    ev.EventID.String(),
		Timestamp:  ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"),
	}
	if ev.Op == replication.Added {
		blob := ev.Blob
		result.Blob = &blob
	}
	return result
}

func cursorEvent(c replication.Cursor) string {
	if c.IsZero() {
		return ""
	}
	return c.Event.String()
}

func init() {
	logCmd.Flags().String("bucket", "", "bucket of the cursor to read after")
	logCmd.Flags().String("event", "", "event id of the cursor to read after")
	logCmd.Flags().Int("count", 0, "maximum number of events (default: server maximum)")

	rootCmd.AddCommand(logCmd)
}
