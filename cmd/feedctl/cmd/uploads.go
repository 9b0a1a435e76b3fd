package cmd

import (
	"github.com/spf13/cobra"
)

var uploadStatusCmd = &cobra.Command{
	Use:   "upload-status [reference]",
	Short: "Check whether an uploaded feed file has been processed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		st, err := client.UploadStatus(args[0])
		if err != nil {
			cmd.Printf("Failed to check upload: %v\n", err)
			return
		}

		cmd.Printf("%sReference:%s   %s\n", colorDim, colorReset, st.Reference)
		cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, st.Status)
		if st.Detail != "" {
			cmd.Printf("%sDetail:%s      %s\n", colorDim, colorReset, st.Detail)
		}
	},
}

func init() {
	rootCmd.AddCommand(uploadStatusCmd)
}
