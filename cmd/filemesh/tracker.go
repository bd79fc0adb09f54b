package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"github.com/relaymesh/filemesh/pkg/logger"
	"github.com/relaymesh/filemesh/pkg/monitor"
	"github.com/relaymesh/filemesh/tracker"
)

var (
	trackerAddr        string
	trackerInteractive bool
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Start the UDP peer-discovery tracker",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Sugar.Infof("Starting tracker on %s", trackerAddr)

		t := tracker.New()

		go func() {
			if err := t.ListenAndServe(trackerAddr); err != nil {
				logger.Sugar.Errorf("tracker stopped: %v", err)
				os.Exit(1)
			}
		}()

		if trackerInteractive {
			fmt.Println("FileMesh Tracker Interactive Shell")
			fmt.Println("Type 'help' for commands.")

			prompt.New(
				func(in string) { trackerExecutor(in, t) },
				trackerCompleter,
				prompt.OptionPrefix("tracker> "),
				prompt.OptionTitle("FileMesh Tracker"),
			).Run()
		} else {
			select {}
		}
	},
}

func trackerExecutor(in string, t *tracker.Tracker) {
	in = strings.TrimSpace(in)
	blocks := strings.Fields(in)
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping tracker...")
		t.Stop()
		os.Exit(0)
	case "status":
		snap := monitor.Snap()
		fmt.Printf("known peers:  %d\n", t.Directory().Len())
		fmt.Printf("requests:     %d\n", snap.TotalRequests)
		fmt.Printf("uptime (ms):  %d\n", snap.UptimeMillis)
	case "peers":
		peers := t.Directory().PeersExcluding("")
		if len(peers) == 0 {
			fmt.Println("No peers registered.")
			return
		}
		for _, p := range peers {
			fmt.Printf("- %s  files=%d\n", p.PeerID, len(p.Files))
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status   - Show tracker status")
		fmt.Println("  peers    - List registered peers")
		fmt.Println("  exit     - Stop tracker and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func trackerCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show tracker status and stats"},
		{Text: "peers", Description: "List registered peers"},
		{Text: "exit", Description: "Exit the tracker"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(trackerCmd)
	trackerCmd.Flags().StringVarP(&trackerAddr, "addr", "a", ":"+strconv.Itoa(tracker.DefaultPort), "UDP address for the tracker to listen on")
	trackerCmd.Flags().BoolVarP(&trackerInteractive, "interactive", "i", false, "Start in interactive mode")
}
