package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/chaz8081/sparkctl/internal/ble"
	"github.com/chaz8081/sparkctl/internal/config"
	"github.com/chaz8081/sparkctl/internal/display"
	"github.com/chaz8081/sparkctl/internal/status"
)

var cfg *config.Config

func main() {
	app := cli.NewApp()

	app.Name = "sparkctl"
	app.Usage = "Talk to a Spark amp over Bluetooth LE"
	app.Version = "0.1.0"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/sparkctl/config.yaml)",
		},
		cli.StringFlag{
			Name:  "log-level, l",
			Usage: "override log_level (debug, info, warn, error)",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:    "run",
			Aliases: []string{"r"},
			Usage:   "Connect to the amp and run a session",
			Action:  run,
			Flags: []cli.Flag{
				flgAddr,
				cli.BoolFlag{Name: "reconnect", Usage: "start a new session when the amp disconnects"},
				cli.BoolFlag{Name: "log-status", Usage: "send status lines to the log instead of stdout"},
			},
		},
		{
			Name:    "scan",
			Aliases: []string{"s"},
			Usage:   "List amps advertising the Spark service",
			Action:  scan,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Value: 5 * time.Second, Usage: "scan duration"},
			},
		},
		{
			Name:      "encode",
			Aliases:   []string{"e"},
			Usage:     "Print the blocks for a request",
			ArgsUsage: "amp-name | serial | get-preset | set-preset <1-4>",
			Action:    encode,
		},
		{
			Name:      "decode",
			Aliases:   []string{"d"},
			Usage:     "Decode a captured block given as hex",
			ArgsUsage: "<hex>",
			Action:    decode,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "to-device", Usage: "the block was written by the app, not notified by the amp"},
			},
		},
		{
			Name:   "init-config",
			Usage:  "Write the default config file",
			Action: initConfig,
		},
	}

	app.Before = setup
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sparkctl: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the config and installs the logger.
func setup(c *cli.Context) error {
	if cfg != nil {
		return nil
	}
	loaded, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return errors.Wrap(err, "can't load config")
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		loaded.LogLevel = lvl
	}
	if err := loaded.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	cfg = loaded

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		loaded, err := config.Load(defaultPath)
		if err != nil {
			return nil, errors.Wrapf(err, "loading %s", defaultPath)
		}
		return loaded, nil
	}
	return config.Default(), nil
}

func run(c *cli.Context) error {
	opts, err := sessionOptions(cfg)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		opts.Address = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink display.Sink = display.NewWriterSink(os.Stdout)
	if c.Bool("log-status") {
		sink = display.LogSink{}
	}
	q := status.NewQueue(cfg.Exchange.StatusQueueSize)
	shown := make(chan struct{})
	go func() {
		display.Run(context.Background(), q, sink)
		close(shown)
	}()
	defer func() {
		q.Close()
		<-shown
	}()

	adapter := ble.NewTinyGoAdapter()
	drops := 0
	for {
		s := ble.NewSession(adapter, q, opts)
		go logMessages(s)

		err := s.Run(ctx)
		if errors.Cause(err) != ble.ErrDisconnected || !c.Bool("reconnect") || ctx.Err() != nil {
			return chkErr(err)
		}

		// Drops before the session got going count towards a longer wait.
		if s.Exchanged() {
			drops = 0
		}
		delay := opts.Retry.Backoff(drops)
		drops++
		slog.Info("[SESSION] amp disconnected, starting a new session", "delay", delay)
		if !pause(ctx, delay) {
			return nil
		}
	}
}

// pause waits d and reports false if ctx is done first.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func logMessages(s *ble.Session) {
	for msg := range s.Messages() {
		slog.Debug("[SESSION] message", "opcode", msg.Opcode(), "seq", msg.Seq(), "msg", fmt.Sprintf("%+v", msg))
	}
}

func scan(c *cli.Context) error {
	d := c.Duration("duration")
	fmt.Printf("Scanning for %s...\n", d)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := sessionOptions(cfg)
	if err != nil {
		return err
	}
	devices, err := ble.ScanForDevices(ctx, ble.NewTinyGoAdapter(), opts.Scan, d)
	if err != nil {
		return chkErr(errors.Wrap(err, "can't scan"))
	}
	if len(devices) == 0 {
		fmt.Println("No amps found.")
		return nil
	}
	for _, dev := range devices {
		name := dev.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%-20s %-36s %-6s %4d dBm\n", name, dev.Address, dev.AddressKind, dev.RSSI)
	}
	return nil
}

func initConfig(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return errors.Wrap(err, "can't write config")
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// sessionOptions maps the config onto ble.Options.
func sessionOptions(conf *config.Config) (ble.Options, error) {
	kind, err := ble.ParseAddressKind(conf.Device.AddressKind)
	if err != nil {
		return ble.Options{}, err
	}
	return ble.Options{
		Address:     conf.Device.Address,
		AddressKind: kind,
		Scan: ble.ScanParams{
			Interval: conf.Scan.Interval,
			Window:   conf.Scan.Window,
			Active:   conf.Scan.Active,
		},
		ScanTimeout: conf.Scan.Timeout,
		Connection: ble.ConnectionParams{
			MinInterval:        conf.Connection.MinInterval,
			MaxInterval:        conf.Connection.MaxInterval,
			Latency:            conf.Connection.Latency,
			SupervisionTimeout: conf.Connection.SupervisionTimeout,
		},
		ConnectTimeout: conf.Connection.ConnectTimeout,
		Retry: ble.RetryPolicy{
			MaxAttempts: conf.Retry.MaxAttempts,
			MaxBackoff:  conf.Retry.MaxBackoff,
		},
		Presets:        conf.Exchange.Presets,
		PresetInterval: conf.Exchange.PresetInterval,
		InitialDelay:   conf.Exchange.InitialDelay,
	}, nil
}

func chkErr(err error) error {
	switch errors.Cause(err) {
	case nil:
		return nil
	case context.DeadlineExceeded:
		// Specified duration passed, which is the expected case.
		return nil
	case context.Canceled:
		fmt.Printf("\n(Canceled)\n")
		return nil
	}
	return err
}
