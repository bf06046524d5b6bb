// Copyright 2024 nymea GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// nymea-gpio-tool is a command line tool to interact with GPIO lines:
// one-shot output control and continuous interrupt monitoring.
package main

import (
	"context"
	"fmt"
	"os"

	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nymea/nymea-gpio/pkg/gpio"
	"github.com/nymea/nymea-gpio/pkg/server"
)

const (
	projectName = "nymea-gpio-tool"
)

var (
	projectVersion = "dev"
	projectBuild   = "dev"
)

func main() {
	var levelFlag string
	var gpioNumber int
	var setValue string
	var interrupt string
	var monitor bool
	var activeLow bool
	var backendName string
	var metricsHost string
	var metricsPort int

	pflag.StringVarP(&levelFlag, "level", "l", "info", "Set log level")
	pflag.IntVarP(&gpioNumber, "gpio", "g", -1, "The gpio number to use")
	pflag.StringVarP(&setValue, "set-value", "s", "", "Configure the GPIO as output and set the value (0|1)")
	pflag.StringVarP(&interrupt, "interrupt", "i", "both", "Interrupt edge for monitoring (rising|falling|both|none)")
	pflag.BoolVarP(&monitor, "monitor", "m", false, "Monitor the given GPIO as input and print every level change")
	pflag.BoolVarP(&activeLow, "active-low", "a", false, "Invert the polarity of the GPIO")
	pflag.StringVar(&backendName, "backend", string(gpio.BackendChardev), "Kernel interface to use (chardev|sysfs)")
	pflag.StringVar(&metricsHost, "host", "0.0.0.0", "Host address the metrics server will listen on")
	pflag.IntVar(&metricsPort, "metrics-port", 0, "Port to serve prometheus metrics on while monitoring (0 disables)")
	pflag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(levelFlag); err == nil {
		logger = logger.Level(level)
	}

	if gpioNumber < 0 {
		Exitf("No valid GPIO number specified. Please specify a non-negative GPIO number using -g, --gpio GPIO\n")
	}
	if setValue != "" && (monitor || pflag.CommandLine.Changed("interrupt")) {
		Exitf("Invalid parameter combination. Setting a value is only possible for output GPIOs, the monitor and interrupt parameters only apply to input GPIOs\n")
	}

	backend, err := gpio.ParseBackend(backendName)
	if err != nil {
		Exitf("Unknown backend '%s' (chardev|sysfs)\n", backendName)
	}
	edge, err := gpio.ParseEdge(interrupt)
	if err != nil {
		Exitf("Invalid interrupt parameter '%s'. Valid options are [rising, falling, both, none]\n", interrupt)
	}

	if !gpio.IsAvailable() {
		Exitf("There are no GPIOs available on this platform\n")
	}

	if setValue != "" {
		value, err := gpio.ParseValue(setValue)
		if err != nil {
			Exitf("Invalid set value parameter '%s'. Valid options are [0, 1]\n", setValue)
		}
		runSetValue(logger, gpioNumber, value, activeLow, backend)
		return
	}

	runMonitor(logger, gpioNumber, edge, activeLow, backend, metricsHost, metricsPort)
}

// runSetValue performs the one-shot output operation.
func runSetValue(logger zerolog.Logger, number int, value gpio.Value, activeLow bool, backend gpio.Backend) {
	line := gpio.NewLine(number, logger, gpio.WithBackend(backend))
	if err := line.Export(); err != nil {
		Exitf("Could not export GPIO %d: %v\n", number, err)
	}
	if err := line.SetActiveLow(activeLow); err != nil {
		line.Unexport()
		Exitf("Could not set GPIO %d to active low %t: %v\n", number, activeLow, err)
	}
	if err := line.SetDirection(gpio.DirectionOutput); err != nil {
		line.Unexport()
		Exitf("Could not configure GPIO %d as output: %v\n", number, err)
	}
	if err := line.SetValue(value); err != nil {
		line.Unexport()
		Exitf("Could not set GPIO %d value to %s: %v\n", number, value, err)
	}
	line.Unexport()
}

// runMonitor watches the line until an interruption signal arrives.
func runMonitor(logger zerolog.Logger, number int, edge gpio.Edge, activeLow bool, backend gpio.Backend, metricsHost string, metricsPort int) {
	mon := gpio.NewMonitor(number, logger, gpio.WithMonitorBackend(backend))
	mon.SetEdge(edge)
	mon.SetActiveLow(activeLow)
	cancelReceiver := mon.RegisterInterruptReceiver(func(value bool) {
		v := "0"
		if value {
			v = "1"
		}
		fmt.Printf("GPIO %d interrupt occured. Current value: %s\n", number, v)
	})
	defer cancelReceiver()

	// Prepare to shutdown in a controlled manor
	ctx, cancel := context.WithCancel(context.Background())
	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	g, ctx := errgroup.WithContext(ctx)
	if metricsPort > 0 {
		httpServer, err := server.New(server.Config{
			Host: metricsHost,
			Port: metricsPort,
		}, logger)
		if err != nil {
			Exitf("Failed to initialize metrics server: %v\n", err)
		}
		g.Go(func() error { return httpServer.Run(ctx) })
	}
	g.Go(func() error {
		if err := mon.Enable(); err != nil {
			return err
		}
		logger.Info().Int("gpio", number).Stringer("edge", edge).Bool("activeLow", activeLow).Msg("Monitor enabled")
		<-ctx.Done()
		mon.Disable()
		logger.Info().Int("gpio", number).Msg("Monitor disabled")
		return nil
	})
	if err := g.Wait(); err != nil {
		Exitf("Could not monitor GPIO %d: %v\n", number, err)
	}
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
