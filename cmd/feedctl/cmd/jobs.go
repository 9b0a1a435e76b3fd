package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and remove feed jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		statuses, _ := cmd.Flags().GetStringSlice("status")
		feedType, _ := cmd.Flags().GetString("feed-type")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := client.ListJobs(ListJobsOptions{Statuses: statuses, FeedType: feedType, Limit: limit})
		if err != nil {
			cmd.Printf("Failed to list jobs: %v\n", err)
			return
		}
		if len(jobs) == 0 {
			cmd.Println("No jobs found.")
			return
		}

		cmd.Printf("Jobs (%d)\n", len(jobs))
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFEED\tSTATUS\tPROGRESS\tCREATED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s ago\n", shortID(j.ID), j.FeedType, j.Status, j.Progress, relativeTime(j.CreatedAt))
		}
		w.Flush()
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get [job_id]",
	Short: "Show a single job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		job, err := client.GetJob(args[0])
		if err != nil {
			cmd.Printf("Failed to get job: %v\n", err)
			return
		}
		printJob(cmd, *job)
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete [job_id]",
	Short: "Delete a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		if err := client.DeleteJob(args[0]); err != nil {
			cmd.Printf("Failed to delete job: %v\n", err)
			return
		}
		cmd.Printf("Job %s deleted\n", args[0])
	},
}

func init() {
	jobsListCmd.Flags().StringSlice("status", nil, "Filter by status (queued,processing,completed,failed)")
	jobsListCmd.Flags().String("feed-type", "", "Filter by feed type")
	jobsListCmd.Flags().Int("limit", 20, "Maximum number of jobs to show")

	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsDeleteCmd)
	rootCmd.AddCommand(jobsCmd)
}
