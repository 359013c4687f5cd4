package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/repository"
	"github.com/sourcedrop/sourcedrop-server/services"
	"github.com/spf13/cobra"
)

var unflag bool

func init() {
	flagCmd.Flags().BoolVar(&unflag, "unset", false, "remove the flag")
	rootCmd.AddCommand(flagCmd)
}

// flagCmd marks a source for reply. The reply keypair is generated on the
// next login of the source.
var flagCmd = &cobra.Command{
	Use:   "flag <storageID>",
	Short: "Flag a source for reply",
	Long:  "Flag a source for reply. With the embedded database the server must be stopped first.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		selector, err := repository.NewDBSelectorFromConfig(global.Conf.Database, global.Conf.CouchDB)
		check(err)
		defer selector.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		record, err := services.NewSourceService(selector).SetFlagged(ctx, args[0], !unflag)
		check(err)
		fmt.Printf("%s (%s) flagged: %t\n", record.FilesystemID, record.JournalistDesignation, record.Flagged)
	},
}
