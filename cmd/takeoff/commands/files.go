package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteYes bool

var fileInfoCmd = &cobra.Command{
	Use:   "file-info <file-id>",
	Short: "Show what the service stores for an uploaded file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := app.apiClient().GetFileInfo(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		c := app.console
		c.KeyValue("File ID", info.FileID)
		c.KeyValue("Filename", info.Filename)
		c.KeyValue("Pages", fmt.Sprintf("%d", info.NumPages))
		c.KeyValue("Uploaded", info.UploadTime)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <file-id>",
	Short: "Delete an uploaded file from the service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := app.console
		if !deleteYes {
			ok, err := c.Confirm(fmt.Sprintf("Delete %s?", args[0]), false)
			if err != nil {
				return err
			}
			if !ok {
				c.Info("Nothing deleted")
				return nil
			}
		}
		msg, err := app.apiClient().DeleteFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		c.Success("%s", msg)
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(fileInfoCmd, deleteCmd)
}
