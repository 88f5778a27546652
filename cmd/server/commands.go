package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/store"
	"homehealth-sync-service/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one manual sync cycle and print its result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		eng, err := newEngine(cmd.Context(), configFrom(cmd))
		if err != nil {
			return err
		}
		defer eng.manager.Close()

		if _, err := eng.manager.Queue().Recover(cmd.Context()); err != nil {
			return err
		}
		res, _ := eng.manager.RunCycle(cmd.Context(), sync.TriggerManual)
		fmt.Println(res.String())
		if len(res.Errors) > 0 {
			return fmt.Errorf("cycle finished with errors: %s", res.LastError())
		}
		return nil
	},
}

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Merge duplicate patient records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		eng, err := newEngine(cmd.Context(), configFrom(cmd))
		if err != nil {
			return err
		}
		defer eng.manager.Close()

		merged, err := eng.manager.DedupPatients(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("merged %d duplicate patient(s)\n", merged)
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the outbound sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		eng, err := newEngine(cmd.Context(), configFrom(cmd))
		if err != nil {
			return err
		}
		defer eng.manager.Close()

		statuses, _ := cmd.Flags().GetStringSlice("status")
		limit, _ := cmd.Flags().GetInt("limit")
		filter := store.QueueFilter{Limit: limit}
		for _, s := range statuses {
			filter.Statuses = append(filter.Statuses, model.QueueStatus(strings.TrimSpace(s)))
		}
		items, err := eng.manager.Queue().List(cmd.Context(), filter)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tKIND\tACTION\tENTITY\tRETRIES\tNEXT RETRY\tLAST ERROR")
		for _, item := range items {
			next := "-"
			if item.NextRetryAt != nil {
				next = item.NextRetryAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				item.ID, item.Status, item.EntityKind, item.Action, item.Payload.EntityID(),
				item.RetryCount, next, item.LastError)
		}
		return tw.Flush()
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Reset failed queue items to pending",
	RunE: func(cmd *cobra.Command, _ []string) error {
		eng, err := newEngine(cmd.Context(), configFrom(cmd))
		if err != nil {
			return err
		}
		defer eng.manager.Close()

		n, err := eng.manager.Queue().RetryFailed(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("requeued %d item(s)\n", n)
		return nil
	},
}

func init() {
	queueListCmd.Flags().StringSlice("status", nil, "Only list items in these statuses (pending, processing, failed, synced)")
	queueListCmd.Flags().Int("limit", 50, "Maximum number of items to list")
	queueCmd.AddCommand(queueListCmd, queueRetryCmd)
}
