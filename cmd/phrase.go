package main

import (
	"fmt"

	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/sourcedrop/sourcedrop-server/util"
	"github.com/spf13/cobra"
)

var numberWords int

func init() {
	phraseCmd.Flags().IntVarP(&numberWords, "words", "n", 0, "number of words (default from config)")
	rootCmd.AddCommand(phraseCmd)
}

var phraseCmd = &cobra.Command{
	Use:   "phrase",
	Short: "Print a fresh secret phrase",
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		codec := util.NewCodec(global.Conf.Codename)
		n := numberWords
		if n == 0 {
			n = global.Conf.Codename.DefaultWords
		}
		phrase, err := codec.GeneratePhrase(n)
		check(err)
		fmt.Println(phrase)
	},
}
