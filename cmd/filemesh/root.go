package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/relaymesh/filemesh/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "filemesh",
	Short: "FileMesh P2P File Transfer System",
	Long:  `A peer-to-peer file transfer system with a UDP tracker for peer discovery and direct TCP chunk transfer between peers.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		os.Exit(1)
	}
}
