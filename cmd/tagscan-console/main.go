package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/operator-mobile/tagscan/internal/console/app"
	"github.com/operator-mobile/tagscan/internal/console/client"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8765/ws", "WebSocket URL of the tagscan daemon")
	token := flag.String("token", "", "Auth token (if the daemon requires it)")
	forwardFocus := flag.Bool("forward-focus", false, "Report terminal focus changes as lifecycle transitions")
	logFile := flag.String("log", "", "Write client logs to this file")
	flag.Parse()

	// Log lines would corrupt the alt screen.
	log.SetOutput(io.Discard)
	if *logFile != "" {
		f, err := tea.LogToFile(*logFile, "tagscan-console")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
	}

	ws := client.NewWSClient(*wsURL, *token)
	defer ws.Close()
	httpClient := client.NewHTTPClient(deriveHTTPBase(*wsURL), *token)

	m := app.New(ws, httpClient, app.Options{ForwardFocus: *forwardFocus})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deriveHTTPBase converts ws://host:port/ws → http://host:port
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "http://127.0.0.1:8765"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
