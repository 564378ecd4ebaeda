// Command hawck-inputd is the privileged input daemon: it owns
// /dev/input/* read access and the synthetic uinput sink, forwarding key
// events transparently unless their code is on the passthrough list, in
// which case the macro daemon decides what gets emitted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hawck-project/hawck-inputd/internal/config"
	"github.com/hawck-project/hawck-inputd/internal/dispatch"
	"github.com/hawck-project/hawck-inputd/internal/hlog"
	"github.com/hawck-project/hawck-inputd/internal/udev"
)

var version = "0.1.0"

func run(devicePaths []string, cfgPath, socketOverride, dataDirOverride string) error {
	log := hlog.New("hawck-inputd")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if socketOverride != "" {
		cfg.SocketPath = socketOverride
	}
	if dataDirOverride != "" {
		cfg.DataDir = dataDirOverride
	}

	sink, err := udev.Create("/dev/uinput", "hawck-inputd")
	if err != nil {
		return fmt.Errorf("create virtual keyboard: %w", err)
	}
	defer sink.Close()

	d := dispatch.New(cfg, log, sink, nil)

	for _, p := range devicePaths {
		if err := d.AddKeyboard(p); err != nil {
			return fmt.Errorf("add keyboard %s: %w", p, err)
		}
		log.Infof("locked keyboard %s", p)
	}

	if err := d.StartRegistryWatcher(); err != nil {
		return fmt.Errorf("start registry watcher: %w", err)
	}
	if err := d.StartInputWatcher(); err != nil {
		return fmt.Errorf("start input watcher: %w", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutting down")
		cancel()
	}()

	log.Infof("monitoring %d keyboard(s), socket=%s, data_dir=%s", len(devicePaths), cfg.SocketPath, cfg.DataDir)

	if err := d.Run(ctx); err != nil {
		if fatal, ok := err.(*dispatch.FatalError); ok {
			return fatal
		}
		return err
	}
	return nil
}

func main() {
	fs := flag.NewFlagSet("hawck-inputd", flag.ExitOnError)
	cfgFlag := fs.String("config", filepath.Join(config.Dir(), "config.yml"), "path to config.yml")
	socketFlag := fs.String("socket", "", "override the macro-daemon socket path")
	dataDirFlag := fs.String("datadir", "", "override the passthrough-key data directory")

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("hawck-inputd %s\n", version)
			return
		case "init":
			dir := config.Dir()
			fmt.Printf("hawck-inputd: initializing config in %s\n", dir)
			if err := config.Init(dir); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("hawck-inputd: config initialized")
			return
		case "migrate":
			dir := config.Dir()
			path := filepath.Join(dir, "config.yml")
			if err := config.Migrate(path); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("hawck-inputd: config migrated")
			return
		}
	}

	_ = fs.Parse(os.Args[1:])
	devicePaths := fs.Args()

	if len(devicePaths) == 0 {
		fmt.Fprintf(os.Stderr, "usage: hawck-inputd [flags] <device> [device...]\n")
		fs.PrintDefaults()
		os.Exit(1)
	}

	if err := run(devicePaths, *cfgFlag, *socketFlag, *dataDirFlag); err != nil {
		fmt.Fprintf(os.Stderr, "hawck-inputd: %v\n", err)
		os.Exit(1)
	}
}
