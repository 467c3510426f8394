// lanracer: CLI entry point.
//
// Joins this host to a small mesh of peers over WebRTC DataChannels. Every
// IP frame read from the local TUN device is sent to all connected peers,
// and frames from peers are written back to the device. Peers are added by
// copying connection descriptors between operators by hand; no signaling
// server is involved.
//
// Usage: lanracer [flags] [dev] [ip]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/lanracer/internal/config"
	"github.com/1ureka/lanracer/internal/event"
	"github.com/1ureka/lanracer/internal/peer"
	"github.com/1ureka/lanracer/internal/router"
	"github.com/1ureka/lanracer/internal/tun"
	"github.com/1ureka/lanracer/internal/util"
)

var version = "dev"

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		util.LogError("%v", err)
		os.Exit(2)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("lanracer v%s", version))
	pterm.Println()

	// Root context, cancelled on Ctrl+C or `quit`.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("all tunnels closed")
}

func run(ctx context.Context, cfg config.Config) error {
	dev, err := tun.Open(cfg.Interface)
	if err != nil {
		return err
	}

	registry := peer.NewRegistry()
	defer registry.Close()

	bus := event.NewBus(cfg.EventQueue)
	rt := router.New(dev, registry, bus, router.Options{
		MTU: cfg.Interface.MTU,
		Peer: peer.Options{
			STUNServers:   cfg.ICE.STUNServers,
			GatherTimeout: cfg.ICE.GatherTimeout,
			Loopback:      cfg.ICE.Loopback,
		},
	})

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(ctx) })
	g.Go(func() error {
		defer cancel()
		runConsole(ctx, rt)
		return nil
	})
	return g.Wait()
}

// parseConfig layers the config file, then flags, then positional arguments
// over the defaults.
func parseConfig(args []string) (config.Config, error) {
	defaults := config.Default()

	flagSet := pflag.NewFlagSet("lanracer", pflag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lanracer [flags] [dev] [ip]\n\n")
		flagSet.PrintDefaults()
	}

	configPath := flagSet.String("config", "", "YAML config file")
	dev := flagSet.String("dev", defaults.Interface.Name, "TUN device name")
	ip := flagSet.String("ip", defaults.Interface.Address, "local IPv4 address on the mesh")
	mask := flagSet.String("mask", defaults.Interface.Mask, "mesh netmask")
	mtu := flagSet.Int("mtu", defaults.Interface.MTU, "interface MTU")
	stun := flagSet.StringSlice("stun", defaults.ICE.STUNServers, "STUN server URLs (empty for host candidates only)")
	gatherTimeout := flagSet.Duration("gather-timeout", defaults.ICE.GatherTimeout, "candidate discovery timeout (0 waits indefinitely)")
	queue := flagSet.Int("queue", defaults.EventQueue, "event queue capacity")
	statsInterval := flagSet.Duration("stats-interval", defaults.StatsInterval, "traffic report interval (0 disables)")
	loopback := flagSet.Bool("loopback", defaults.ICE.Loopback, "include loopback ICE candidates")
	debug := flagSet.Bool("debug", defaults.Debug, "enable debug logging")

	if err := flagSet.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := defaults
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if flagSet.Changed("dev") {
		cfg.Interface.Name = *dev
	}
	if flagSet.Changed("ip") {
		cfg.Interface.Address = *ip
	}
	if flagSet.Changed("mask") {
		cfg.Interface.Mask = *mask
	}
	if flagSet.Changed("mtu") {
		cfg.Interface.MTU = *mtu
	}
	if flagSet.Changed("stun") {
		cfg.ICE.STUNServers = *stun
	}
	if flagSet.Changed("gather-timeout") {
		cfg.ICE.GatherTimeout = *gatherTimeout
	}
	if flagSet.Changed("queue") {
		cfg.EventQueue = *queue
	}
	if flagSet.Changed("stats-interval") {
		cfg.StatsInterval = *statsInterval
	}
	if flagSet.Changed("loopback") {
		cfg.ICE.Loopback = *loopback
	}
	if flagSet.Changed("debug") {
		cfg.Debug = *debug
	}

	positional := flagSet.Args()
	if len(positional) > 2 {
		return config.Config{}, fmt.Errorf("unexpected argument: %s", positional[2])
	}
	if len(positional) > 0 {
		cfg.Interface.Name = positional[0]
	}
	if len(positional) > 1 {
		cfg.Interface.Address = positional[1]
	}

	return cfg, cfg.Validate()
}
