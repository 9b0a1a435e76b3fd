package cmd

import (
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show whether any job is queued or processing",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		q, err := client.Queue()
		if err != nil {
			cmd.Printf("Failed to read queue: %v\n", err)
			return
		}

		cmd.Printf("%sScope:%s       %s\n", colorDim, colorReset, q.Scope)
		if q.ShortCircuit {
			cmd.Println("Queue state is not evaluated for this scope")
			return
		}
		if q.QueueEmpty {
			cmd.Printf("%sQueue:%s       %sempty%s\n", colorDim, colorReset, colorGreen, colorReset)
		} else {
			cmd.Printf("%sQueue:%s       %sbusy%s\n", colorDim, colorReset, colorYellow, colorReset)
		}
		cmd.Printf("%sProcessing:%s  %t\n", colorDim, colorReset, q.Processing)
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
}
