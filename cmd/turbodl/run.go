package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"turbodl/internal/api"
	"turbodl/internal/config"
	"turbodl/internal/engine"
	"turbodl/internal/events"
	"turbodl/internal/logger"
)

func runDownload(url string) error {
	settings, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	cfg := engine.Config{
		URL:         url,
		OutputDir:   settings.OutputDir,
		StateDir:    settings.StateDir,
		FileName:    flagFileName,
		JobID:       flagJobID,
		Connections: settings.Connections,
		UserAgent:   settings.UserAgent,
	}
	if flagOutputDir != "" {
		cfg.OutputDir = flagOutputDir
	}
	if flagStateDir != "" {
		cfg.StateDir = flagStateDir
	}
	if flagConnections > 0 {
		cfg.Connections = flagConnections
	}
	if flagUserAgent != "" {
		cfg.UserAgent = flagUserAgent
	}
	return runJob(cfg, settings)
}

func runResume(statePath string) error {
	settings, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	rec, err := engine.LoadResumeRecord(statePath)
	if err != nil {
		return fmt.Errorf("cannot resume from %s: %w", statePath, err)
	}
	return runJob(rec.Config(), settings)
}

func runJob(cfg engine.Config, settings *config.Settings) error {
	logFile := flagLogFile
	if logFile == "" {
		logFile = settings.LogFile
	}
	log, err := logger.New(os.Stderr, logFile)
	if err != nil {
		return err
	}

	bus := events.NewBus(64)
	job, err := engine.NewJob(cfg, log, bus)
	if err != nil {
		return err
	}

	// Ctrl-C pauses instead of killing, so the job stays resumable.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		signal.Stop(sigCh)
		fmt.Fprintln(os.Stderr, "\npausing...")
		job.Pause()
	}()

	done := make(chan error, 1)
	go func() {
		done <- job.Start(context.Background())
		bus.Close()
	}()

	renderEvents(bus.Events())
	return <-done
}

func renderEvents(ch <-chan events.Event) {
	for e := range ch {
		switch e.Type {
		case events.Start:
			fmt.Printf("downloading %s (%s) [job %s]\n",
				e.FileName, humanize.IBytes(uint64(e.TotalBytes)), e.JobID)
		case events.Progress:
			percent := float64(0)
			if e.Total > 0 {
				percent = float64(e.Downloaded) / float64(e.Total) * 100
			}
			fmt.Printf("\r%s / %s (%.1f%%) %s/s        ",
				humanize.IBytes(uint64(e.Downloaded)), humanize.IBytes(uint64(e.Total)),
				percent, humanize.IBytes(uint64(e.Speed)))
		case events.Paused:
			fmt.Printf("\npaused; resume later with the state file for job %s\n", e.JobID)
		case events.Complete:
			fmt.Printf("\nsaved to %s\n", e.FinalPath)
		case events.Error:
			fmt.Printf("\nerror: %s\n", e.Message)
		}
	}
}

func runServe() error {
	settings, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	logFile := flagLogFile
	if logFile == "" {
		logFile = settings.LogFile
	}
	log, err := logger.New(os.Stderr, logFile)
	if err != nil {
		return err
	}

	addr := flagListenAddr
	if addr == "" {
		addr = settings.ListenAddr
	}
	server := api.NewServer(settings, log)
	if err := server.Start(addr); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	return nil
}
