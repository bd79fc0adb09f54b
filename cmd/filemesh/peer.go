package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaymesh/filemesh/peer"
	"github.com/relaymesh/filemesh/pkg/logger"
)

var (
	peerAddr           string
	peerTracker        string
	peerSharedDir      string
	peerDownload       string
	peerNonInteractive bool
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Start a peer node",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Sugar.Infof("Starting peer on %s, tracker %s, sharing %s", peerAddr, peerTracker, peerSharedDir)

		srv, err := peer.NewServer(peerAddr, peerTracker, peerSharedDir)
		if err != nil {
			logger.Sugar.Fatalf("failed to create peer: %v", err)
		}

		go func() {
			if err := srv.Start(context.Background()); err != nil {
				logger.Sugar.Errorf("peer stopped: %v", err)
				os.Exit(1)
			}
		}()

		if peerDownload != "" {
			task, err := srv.Downloader.Start(peerDownload)
			if err != nil {
				fmt.Printf("failed to start download of %s: %v\n", peerDownload, err)
			} else if peerNonInteractive {
				watchDownload(task)
			}
		}

		if peerNonInteractive {
			select {}
		}

		peer.NewShell(srv).Run()
	},
}

// watchDownload renders a live progress bar for task and blocks until it
// finishes. Only safe when nothing else (like the go-prompt shell) is
// writing to the terminal at the same time.
func watchDownload(task *peer.DownloadTask) {
	for i := 0; i < 100 && task.Tracker == nil; i++ {
		time.Sleep(50 * time.Millisecond)
	}
	if task.Tracker == nil {
		fmt.Println("download did not start in time")
		return
	}

	renderer := peer.NewProgressRenderer(task.Tracker, true)
	go renderer.Start()

	for {
		status, taskErr := task.Status()
		if status != peer.StatusRunning && status != peer.StatusPending {
			renderer.StopAndWait()
			if taskErr != nil {
				fmt.Printf("download failed: %v\n", taskErr)
			}
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func init() {
	rootCmd.AddCommand(peerCmd)
	peerCmd.Flags().StringVarP(&peerAddr, "addr", "a", "0.0.0.0:6882", "Address for this peer to listen on")
	peerCmd.Flags().StringVarP(&peerTracker, "tracker", "t", "127.0.0.1:6881", "Address of the tracker")
	peerCmd.Flags().StringVarP(&peerSharedDir, "shared-dir", "d", "./shared", "Directory shared with the swarm")
	peerCmd.Flags().StringVar(&peerDownload, "download", "", "File name to download immediately on startup")
	peerCmd.Flags().BoolVarP(&peerNonInteractive, "non-interactive", "n", false, "Run without the interactive shell")
}
