package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"epaper/internal/config"
	"epaper/internal/hw"
	"epaper/internal/link"
	appLog "epaper/internal/log"
	"epaper/internal/refresh"
	"epaper/internal/source"
	"epaper/internal/statusled"
	"epaper/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	clear      bool
	dump       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		appLog.Warn("invalid log level, using info", "log_level", conf.LogLevel)
		level = appLog.LevelInfo
	}
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	appLog.Info("epaperd starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"width", conf.Panel.Width,
		"height", conf.Panel.Height,
		"spi_port", conf.Panel.SPIPort,
		"image", conf.Refresh.Image,
		"cron", conf.Refresh.Cron,
		"link", conf.Link.Enabled,
		"once", flags.once,
		"clear", flags.clear,
		"dump", flags.dump,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("epaperd failed", err)
		os.Exit(1)
	}
	appLog.Info("epaperd exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	if err := hw.Init(); err != nil {
		return err
	}
	panel, err := hw.OpenPanel(conf.Panel, conf.BusyTimeout())
	if err != nil {
		return err
	}
	defer panel.Close()
	appLog.Info("panel opened", "dev", panel.String())

	src, err := source.New(conf.Refresh.Image, conf.Refresh.CacheDir)
	if err != nil {
		return err
	}
	opts := refresh.Options{
		Cron:       conf.Refresh.Cron,
		SleepAfter: conf.Refresh.SleepAfter,
		PreviewDir: conf.Refresh.CacheDir,
		Fit:        conf.Refresh.Fit,
		RunOnStart: true,
	}
	if flags.dump {
		opts.DumpDir = filepath.Join(conf.Refresh.CacheDir, "dump")
	}
	svc, err := refresh.New(panel, src, opts)
	if err != nil {
		return err
	}

	switch {
	case flags.clear:
		return svc.Clear(ctx)
	case flags.once:
		return svc.RunOnce(ctx)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	if conf.StatusLED.Pin != "" {
		pin, err := hw.Pin(conf.StatusLED.Pin)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := statusled.Blink(ctx, pin, conf.LEDPeriod()); err != nil {
				appLog.Error("status led stopped", err)
			}
		}()
	}

	var linkState web.LinkState
	if conf.Link.Enabled {
		sup := link.NewSupervisor(&link.CommandStation{
			Interface: conf.Link.Interface,
			Command:   conf.Link.Reconnect,
		}, svc, conf.LinkRetry())
		watcher := &link.Watcher{Interface: conf.Link.Interface, Poll: conf.LinkPoll()}
		linkState = sup
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Run(ctx, watcher.Watch(ctx))
		}()
	} else {
		svc.Start()
	}

	if conf.Listen != "" {
		srv := web.NewServer(conf, svc, linkState)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil {
				appLog.Error("HTTP server stopped", err)
			}
		}()
	}

	<-ctx.Done()
	svc.Stop()
	if err := svc.Sleep(); err != nil {
		appLog.Warn("panel sleep on exit failed", "err", err)
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epaper/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+pack+display cycle and exit")
	flag.BoolVar(&cfg.clear, "clear", false, "Clear the panel and exit")
	flag.BoolVar(&cfg.dump, "dump", false, "Dump debug artifacts (black.bin, red.bin, preview.png)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
