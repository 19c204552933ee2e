package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/jd3nn1s/dronesdk"
	"github.com/jd3nn1s/dronesdk/flightlog"
	"github.com/jd3nn1s/dronesdk/forwarder"
	"github.com/jd3nn1s/dronesdk/mqttbridge"
	_ "github.com/jd3nn1s/dronesdk/nmea"
)

func main() {
	app := &cli.App{
		Name:  "dronesdk",
		Usage: "acquire, fuse and monitor drone telemetry",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE` (.toml or .yaml)",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "telemetry source, overrides the configuration",
			},
			&cli.BoolFlag{
				Name:  "testmode",
				Usage: "generate test data, same as --source sim",
			},
			&cli.BoolFlag{
				Name:  "print-telemetry",
				Usage: "print the fused state to stdout",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringSliceFlag{
				Name:  "plugin",
				Usage: "load the registered plugin `NAME`",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (dronesdk.Config, error) {
	cfg := dronesdk.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = dronesdk.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if level := c.String("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if source := c.String("source"); source != "" {
		cfg.Source.Kind = source
	}
	if c.Bool("testmode") {
		cfg.Source.Kind = "sim"
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := dronesdk.NewConnection(cfg)
	if err != nil {
		return err
	}
	drone := dronesdk.NewDrone(conn, cfg)

	var closers []io.Closer
	defer func() {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, closers[i].Close())
		}
		if errs != nil {
			log.WithField("err", errs).Warn("unable to close cleanly")
		}
	}()

	if cfg.Forwarder.Server != "" {
		fwder, err := forwarder.NewUDPForwarderFromConfig(forwarder.UDPConfig{
			Server: cfg.Forwarder.Server,
			Port:   cfg.Forwarder.Port,
		})
		if err != nil {
			return errors.Wrap(err, "unable to load UDP forwarder")
		}
		closers = append(closers, fwder)
		go func() {
			_ = fwder.Start(ctx)
		}()
		drone.AddForwarder(fwder)
		for _, event := range dronesdk.BuiltinEvents {
			drone.Events().On(event, fwder.EventCallback(event))
		}
	}

	if cfg.MQTT.Broker != "" {
		notifier, err := mqttbridge.NewNotifier(cfg.MQTT)
		if err != nil {
			return err
		}
		closers = append(closers, notifier)
		notifier.Attach(drone.Events())
	}

	if cfg.FlightLog.Path != "" {
		store := flightlog.NewStore(cfg.FlightLog.Path)
		closers = append(closers, store)
		store.Attach(drone.Events())
		drone.AddForwarder(store.Forwarder(cfg.FlightLog.StateEvery))
	}

	if bus := canBattery(conn); bus != nil {
		drone.AddForwarder(dronesdk.NewCANAlertForwarder(bus, cfg.Monitor))
	}

	if c.Bool("print-telemetry") {
		drone.AddForwarder(&printer{w: c.App.Writer})
	}

	plugins := dronesdk.NewPluginManager(drone)
	closers = append(closers, plugins)
	for _, name := range c.StringSlice("plugin") {
		if _, err := plugins.Load(name); err != nil {
			return err
		}
	}

	log.WithField("source", cfg.Source.Kind).Info("starting drone")
	if err := drone.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	drone.Stop()
	return nil
}

func canBattery(conn dronesdk.Connection) *dronesdk.CANBattery {
	if m, ok := conn.(*dronesdk.Mux); ok {
		conn = m.Routed(dronesdk.ChannelBattery)
	}
	bus, _ := conn.(*dronesdk.CANBattery)
	return bus
}

type printer struct {
	w io.Writer
}

func (p *printer) Forward(s *dronesdk.FusedState, _ *dronesdk.FusedState) error {
	_, err := fmt.Fprintf(p.w, "lat=%.6f lon=%.6f alt=%sm dist=%sm battery=%s%% (%s%%/min) rpy=%.2f/%.2f/%.2f hdop=%.2f vibration=%t\n",
		s.Latitude, s.Longitude,
		humanize.FtoaWithDigits(s.Altitude, 1),
		humanize.CommafWithDigits(s.DistanceTraveled, 1),
		humanize.FtoaWithDigits(s.BatteryRemaining, 1),
		humanize.FtoaWithDigits(s.BatteryConsumption, 2),
		s.Roll, s.Pitch, s.Yaw, s.HDOP, s.Vibration)
	return err
}
