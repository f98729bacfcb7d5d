package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/operator-mobile/tagscan/internal/api"
	"github.com/operator-mobile/tagscan/internal/config"
	"github.com/operator-mobile/tagscan/internal/lifecycle"
	"github.com/operator-mobile/tagscan/internal/reader"
	"github.com/operator-mobile/tagscan/internal/scan"
	"github.com/operator-mobile/tagscan/internal/sink"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use the simulated reader regardless of config")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	watchPID := flag.Int("watch-pid", 0, "Process whose terminal foreground state drives the lifecycle (default: self)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *mockMode {
		cfg.Reader.Backend = config.BackendSim
	}

	var (
		rdr    reader.Reader
		tapper api.Tapper
	)
	switch cfg.Reader.Backend {
	case config.BackendLine:
		rdr = reader.NewLine(cfg.Reader.Device, cfg.Reader.Enabled, cfg.Scan.InboxSize)
	default:
		sim := reader.NewSim(cfg.Reader.Enabled, cfg.Reader.Echo, cfg.Scan.InboxSize)
		rdr, tapper = sim, sim
	}
	log.Printf("Reader backend: %s (available: %v)", rdr.Name(), rdr.PresentAndEnabled())

	adapter := lifecycle.NewAdapter(lifecycle.Foreground, cfg.Lifecycle.NudgeHold)
	sk := sink.New()

	loop := scan.NewLoop(scan.Deps{
		Reception: rdr,
		Probe:     rdr,
		Sink:      sk,
		Nudger:    adapter,
	}, scan.Options{
		RetryDelay: cfg.Scan.RetryDelay,
		Restricted: cfg.Lifecycle.RestrictedDeactivation,
		Background: adapter.Phase() == lifecycle.Background,
	}, rdr.Discoveries(), cfg.Scan.InboxSize)
	adapter.Observe(loop.OnPhase)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go loop.Run(ctx)

	if cfg.Lifecycle.WatchForeground {
		pid := int32(os.Getpid())
		if *watchPID > 0 {
			pid = int32(*watchPID)
		}
		w, err := lifecycle.NewWatcher(adapter, pid, cfg.Lifecycle.WatchInterval)
		if err != nil {
			log.Printf("Foreground watcher disabled: %v", err)
		} else {
			log.Printf("Watching foreground state of pid %d", pid)
			go w.Run(ctx)
		}
	}

	sw, _ := rdr.(api.Switch)
	server := api.NewServer(loop, adapter, sk, api.Options{
		AuthToken:      cfg.Server.AuthToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendBuffer:     cfg.Sink.SendBuffer,
		Tapper:         tapper,
		Switch:         sw,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	err = api.ListenAndServe(ctx, cfg.Addr(), server.Router())

	cancel()
	<-loop.Done()
	adapter.Stop()
	sk.Close()
	if cerr := rdr.Close(); cerr != nil {
		log.Printf("Closing reader: %v", cerr)
	}
	if err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
