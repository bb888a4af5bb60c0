package main

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-forumsync/internal/api"
	"github.com/npezzotti/go-forumsync/internal/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Print the unread message and notification counts",
	RunE:  runUnread,
}

func runUnread(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.log.Sync()

	client, err := api.NewClient(e.log.Named("api"), e.cfg.ServerURL, e.cred)
	if err != nil {
		return err
	}

	counts, err := fetchCounts(cmd.Context(), client)
	if err != nil {
		return err
	}

	newRenderer(cmd.OutOrStdout(), false).unreadTable(counts)
	return nil
}

func fetchCounts(ctx context.Context, client *api.Client) (types.Counts, error) {
	var counts types.Counts
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := client.UnreadMessageCount(ctx)
		counts.Messages = n
		return err
	})
	g.Go(func() error {
		n, err := client.UnreadNotificationCount(ctx)
		counts.Notifications = n
		return err
	})

	if err := g.Wait(); err != nil {
		return types.Counts{}, fmt.Errorf("fetch counts: %w", err)
	}
	return counts, nil
}
