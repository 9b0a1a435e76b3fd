package cmd

import (
	"github.com/spf13/cobra"
)

var tickCmd = &cobra.Command{
	Use:   "tick [feed_type]",
	Short: "Run the scheduler for a feed type now",
	Long: `Evaluate the scheduler for one feed type and run it inline when due. By default
the cooldown is ignored; --force=false honours it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		force, _ := cmd.Flags().GetBool("force")
		out, err := client.Tick(args[0], force)
		if err != nil {
			cmd.Printf("Tick failed: %v\n", err)
			return
		}

		cmd.Printf("Feed %s: %s\n", out.FeedType, out.State)
		if out.Reason != "" {
			cmd.Printf("Reason: %s\n", out.Reason)
		}
		if out.Error != "" {
			cmd.Printf("%sError: %s%s\n", colorRed, out.Error, colorReset)
		}
		if out.Job != nil {
			printJob(cmd, *out.Job)
		}
	},
}

func init() {
	tickCmd.Flags().Bool("force", true, "Ignore the cooldown")
	rootCmd.AddCommand(tickCmd)
}
