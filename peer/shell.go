package peer

import (
	"fmt"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"

	"github.com/relaymesh/filemesh/pkg/monitor"
)

// Shell is the interactive command surface described in spec §6: a
// go-prompt REPL wrapping one running peer Server.
type Shell struct {
	server *Server
}

// NewShell wraps server in an interactive shell.
func NewShell(server *Server) *Shell {
	return &Shell{server: server}
}

// Run blocks running the go-prompt REPL until the user quits.
func (sh *Shell) Run() {
	fmt.Printf("filemesh peer %s\nType 'help' for commands.\n", sh.server.Name())
	prompt.New(
		sh.execute,
		sh.complete,
		prompt.OptionPrefix(sh.server.Name()+"> "),
		prompt.OptionTitle("filemesh peer"),
	).Run()
}

func (sh *Shell) execute(in string) {
	in = strings.TrimSpace(in)
	if in == "" {
		return
	}
	fields := strings.Fields(in)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "list", "ls":
		sh.cmdList()
	case "peers":
		sh.cmdPeers()
	case "download", "dl":
		sh.cmdDownload(args)
	case "downloads":
		sh.cmdDownloads()
	case "status":
		sh.cmdStatus()
	case "refresh":
		sh.cmdRefresh()
	case "tracker":
		sh.cmdTracker()
	case "whoami":
		fmt.Println(sh.server.Name())
	case "help":
		sh.cmdHelp()
	case "quit", "q", "exit":
		sh.server.Stop()
		fmt.Println("bye")
		os.Exit(0)
	default:
		fmt.Printf("unknown command: %s (try 'help')\n", cmd)
	}
}

func (sh *Shell) cmdList() {
	files := sh.server.Store.AllFiles()
	if len(files) == 0 {
		fmt.Println("no files shared yet")
		return
	}
	for name, indices := range files {
		meta, _ := sh.server.Store.Metadata(name)
		complete := sh.server.Store.IsComplete(name)
		total := uint32(0)
		if meta != nil {
			total = meta.TotalChunks
		}
		status := "partial"
		if complete {
			status = "complete"
		}
		fmt.Printf("  %-30s %d/%d chunks  [%s]\n", name, len(indices), total, status)
	}
}

func (sh *Shell) cmdPeers() {
	peers := sh.server.Tracker.KnownPeers()
	if len(peers) == 0 {
		fmt.Println("no known peers")
		return
	}
	for _, p := range peers {
		fmt.Printf("  %s  files=%d\n", p.PeerID, len(p.Files))
	}
}

func (sh *Shell) cmdDownload(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: download <file_name>")
		return
	}
	task, err := sh.server.Downloader.Start(args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("started download %s (task %s)\n", args[0], task.ID)
}

func (sh *Shell) cmdDownloads() {
	tasks := sh.server.Downloader.Tasks()
	if len(tasks) == 0 {
		fmt.Println("no downloads yet")
		return
	}
	for _, t := range tasks {
		status, err := t.Status()
		line := fmt.Sprintf("  %s  %-8s  %s", t.ID[:8], status, t.FileName)
		if t.Tracker != nil {
			completed, total, _, _, failed := t.Tracker.GetProgress()
			line += fmt.Sprintf(" (%d/%d chunks, %d failed)", completed, total, failed)
		}
		if err != nil {
			line += fmt.Sprintf(" — %v", err)
		}
		fmt.Println(line)
	}
}

func (sh *Shell) cmdStatus() {
	snap := monitor.Snap()
	fmt.Printf("peer:        %s\n", sh.server.Name())
	fmt.Printf("shared dir:  %s\n", sh.server.Store.SharedDir())
	fmt.Printf("connected:   %v\n", sh.server.Tracker.IsConnected())
	fmt.Printf("active conns: %d\n", snap.ActiveConnections)
	fmt.Printf("total requests: %d\n", snap.TotalRequests)
	fmt.Printf("bytes served: %d\n", snap.TransferBytes)
}

func (sh *Shell) cmdRefresh() {
	if err := sh.server.Tracker.Update(sh.server.currentFiles()); err != nil {
		fmt.Printf("refresh failed: %v\n", err)
		return
	}
	fmt.Println("refreshed")
}

func (sh *Shell) cmdTracker() {
	fmt.Printf("connected: %v\n", sh.server.Tracker.IsConnected())
	fmt.Printf("known peers: %d\n", len(sh.server.Tracker.KnownPeers()))
}

func (sh *Shell) cmdHelp() {
	fmt.Println(`available commands:
  list | ls                 show locally shared files
  peers                     show peers known via the tracker
  download <f> | dl <f>     start downloading file f
  downloads                 show download task status
  status                    show this peer's runtime status
  refresh                   force an immediate tracker UPDATE
  tracker                   show tracker connection status
  whoami                    show this peer's identity
  help                      show this text
  quit | q | exit           stop the peer and exit`)
}

func (sh *Shell) complete(d prompt.Document) []prompt.Suggest {
	suggestions := []prompt.Suggest{
		{Text: "list", Description: "Show locally shared files"},
		{Text: "peers", Description: "Show known peers"},
		{Text: "download", Description: "Download a file"},
		{Text: "downloads", Description: "Show download task status"},
		{Text: "status", Description: "Show peer status"},
		{Text: "refresh", Description: "Force a tracker update"},
		{Text: "tracker", Description: "Show tracker connection status"},
		{Text: "whoami", Description: "Show this peer's identity"},
		{Text: "help", Description: "Show help"},
		{Text: "quit", Description: "Stop the peer and exit"},
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}
