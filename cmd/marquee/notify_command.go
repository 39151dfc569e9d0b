package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"marquee/internal/daemonrun"
	"marquee/internal/notifications"
)

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification utilities",
	}
	notifyCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test event to every configured notification transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(runCtx context.Context, rt *daemonrun.Runtime) error {
				sendCtx, cancel := context.WithTimeout(runCtx, 30*time.Second)
				defer cancel()
				if err := rt.Sink.Publish(sendCtx, notifications.EventTest, notifications.Payload{
					"message": "marquee notification test",
				}); err != nil {
					return fmt.Errorf("send test notification: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				return nil
			})
		},
	})
	return notifyCmd
}
