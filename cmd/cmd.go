package cmd

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "quote-engine",
	Short: "removals quote drafting and synchronization",
	Long:  `quote-engine keeps in-progress removals quotes synchronized between local cache and the booking backend, and can also run the backend of record itself`,
}

func init() {
	RootCmd.AddCommand(serverCommand())
	RootCmd.AddCommand(migrateCommand())
	RootCmd.AddCommand(demoCommand())
}
