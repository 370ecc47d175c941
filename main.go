package main

import (
	"fmt"
	"os"

	"github.com/facebookgo/inject"
	"github.com/facebookgo/startstop"
	flag "github.com/jessevdk/go-flags"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/honeycombio/statproxy/app"
	"github.com/honeycombio/statproxy/collect"
	"github.com/honeycombio/statproxy/config"
	"github.com/honeycombio/statproxy/elide"
	"github.com/honeycombio/statproxy/logger"
	"github.com/honeycombio/statproxy/metrics"
	"github.com/honeycombio/statproxy/route"
	"github.com/honeycombio/statproxy/sample"
	"github.com/honeycombio/statproxy/transmit"
)

// set by the build.
var BuildID string
var version string

type Options struct {
	ConfigFile string `short:"c" long:"config" description:"Path to config file" default:"/etc/statproxy/statproxy.toml"`
	Version    bool   `short:"v" long:"version" description:"Print version number and exit"`
}

func main() {
	var opts Options
	flagParser := flag.NewParser(&opts, flag.Default)
	if extraArgs, err := flagParser.Parse(); err != nil || len(extraArgs) != 0 {
		fmt.Println("command line parsing error - call with --help for usage")
		os.Exit(1)
	}

	if BuildID == "" {
		version = "dev"
	} else {
		version = "0." + BuildID
	}

	if opts.Version {
		fmt.Println("Version: " + version)
		os.Exit(0)
	}

	c := &config.FileConfig{Path: opts.ConfigFile}
	if err := c.Start(); err != nil {
		fmt.Printf("unable to load config: %v\n", err)
		os.Exit(1)
	}

	// get desired implementation for each dependency to inject
	lgr, err := logger.GetLoggerImplementation(c)
	if err != nil {
		fmt.Printf("unable to set up logger: %v\n", err)
		os.Exit(1)
	}
	metricsr, err := metrics.GetMetricsImplementation(c)
	if err != nil {
		fmt.Printf("unable to set up metrics: %v\n", err)
		os.Exit(1)
	}

	logLevel := c.GetLoggingLevel()
	if err := lgr.SetLevel(logLevel); err != nil {
		fmt.Printf("unable to set logging level: %v\n", err)
		os.Exit(1)
	}

	a := app.App{}

	var g inject.Graph
	err = g.Provide(
		&inject.Object{Value: c},
		&inject.Object{Value: lgr},
		&inject.Object{Value: metricsr},
		&inject.Object{Value: clockwork.NewRealClock()},
		&inject.Object{Value: &sample.Sampler{}},
		&inject.Object{Value: &elide.Elider{}},
		&inject.Object{Value: &transmit.DefaultTransmission{}},
		&inject.Object{Value: &collect.Collector{}},
		&inject.Object{Value: &route.Router{}},
		&inject.Object{Value: version, Name: "version"},
		&inject.Object{Value: &a},
	)
	if err != nil {
		fmt.Printf("failed to provide injection graph. error: %+v\n", err)
		os.Exit(1)
	}
	if err := g.Populate(); err != nil {
		fmt.Printf("failed to populate injection graph. error: %+v\n", err)
		os.Exit(1)
	}

	// the logger provided to startstop must be valid before any service
	// is started, meaning it can't rely on injected configs. make a
	// custom logger just for this step
	ststLogger := logrus.New()
	level, _ := logrus.ParseLevel(logLevel)
	ststLogger.SetLevel(level)

	defer startstop.Stop(g.Objects(), ststLogger)
	if err := startstop.Start(g.Objects(), ststLogger); err != nil {
		fmt.Printf("failed to start injected dependencies. error: %+v\n", err)
		os.Exit(1)
	}
}
