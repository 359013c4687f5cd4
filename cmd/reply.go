package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/services"
	"github.com/sourcedrop/sourcedrop-server/types"
	"github.com/spf13/cobra"
)

var replyMessage string
var replyFile string

func init() {
	replyCmd.Flags().StringVarP(&replyMessage, "message", "m", "", "reply text")
	replyCmd.Flags().StringVarP(&replyFile, "file", "f", "", "read the reply text from a file")
	rootCmd.AddCommand(replyCmd)
}

var replyCmd = &cobra.Command{
	Use:   "reply <storageID>",
	Short: "Encrypt a reply to a source",
	Long:  "Encrypt a reply to a source with the source public key. The source must have been flagged and logged in since.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		text := replyMessage
		if replyFile != "" {
			data, err := os.ReadFile(replyFile)
			check(err)
			text = string(data)
		}
		if text == "" {
			check(errors.New("reply text is required (-m or -f)"))
		}

		vault, err := services.NewKeyVaultService(global.Conf.Keys, global.Conf.Operator)
		check(err)
		store, err := services.NewStoreService(global.Conf.Storage, vault)
		check(err)
		if !store.NamespaceExists(args[0]) {
			check(fmt.Errorf("unknown source %s", args[0]))
		}

		name, err := store.SaveReply(args[0], text)
		if errors.Is(err, types.ErrKeyNotFound) {
			check(errors.New("the source has no reply key yet: flag it and wait for its next login"))
		}
		check(err)
		fmt.Printf("Reply stored: %s\n", name)
	},
}
