package main

import (
	"fmt"
	"os"

	"github.com/sourcedrop/sourcedrop-server/global"
	"github.com/spf13/cobra"
)

var configFile string

func check(e error) {
	if e != nil {
		fmt.Printf("%v\n", e.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "sourcedrop",
	Short:   "Operator tools for the SourceDrop server",
	Long:    `Operator tools for the SourceDrop server: key generation, secret phrases, flagging sources for reply and sending encrypted replies.`,
	Version: "0.1.0",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "conf.yaml", "configuration file path")
}

// loadConfig loads the server configuration for commands that touch storage
func loadConfig() {
	conf, err := global.LoadConfig(configFile)
	check(err)
	global.Conf = conf
}

func main() {
	Execute()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
