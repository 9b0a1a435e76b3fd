package cmd

import (
	"time"

	"feedplane/pkg/api"

	"github.com/spf13/cobra"
)

// pollInterval is how often --wait re-reads the job.
var pollInterval = time.Second

var runCmd = &cobra.Command{
	Use:   "run [feed_type]",
	Short: "Queue a new job for a feed type",
	Long: `Queue a job that the worker agent picks up. Only one job per feed type can be
queued or processing at a time; a second request is rejected with a conflict.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		req := api.CreateJobRequest{FeedType: args[0]}
		productIDs, _ := cmd.Flags().GetStringSlice("product-ids")
		categories, _ := cmd.Flags().GetStringSlice("categories")
		includeHidden, _ := cmd.Flags().GetBool("include-hidden")
		if len(productIDs) > 0 {
			req.ProductIDs = productIDs
		}
		if len(categories) > 0 || includeHidden {
			req.Filter = &api.ProductFilter{IncludeHidden: includeHidden, Categories: categories}
		}

		job, err := client.CreateJob(req)
		if err != nil {
			cmd.Printf("Failed to queue job: %v\n", err)
			return
		}
		cmd.Printf("🚀 Job queued!\nID: %s\n", job.ID)

		if wait, _ := cmd.Flags().GetBool("wait"); !wait {
			return
		}
		for job.Status == "queued" || job.Status == "processing" {
			time.Sleep(pollInterval)
			if job, err = client.GetJob(job.ID); err != nil {
				cmd.Printf("Failed to poll job: %v\n", err)
				return
			}
		}
		printJob(cmd, *job)
	},
}

func init() {
	runCmd.Flags().StringSlice("product-ids", nil, "Product IDs for a product_sync batch")
	runCmd.Flags().StringSlice("categories", nil, "Restrict a catalog feed to these categories")
	runCmd.Flags().Bool("include-hidden", false, "Include hidden products in a catalog feed")
	runCmd.Flags().BoolP("wait", "w", false, "Wait for the job to finish")
	rootCmd.AddCommand(runCmd)
}
