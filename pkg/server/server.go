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

// Package server provides the HTTP observability surface used while
// monitoring: prometheus metrics, health and profiling endpoints.
package server

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config for the HTTP server.
type Config struct {
	// Host interface to listen on
	Host string
	// Port to listen on for HTTP requests
	Port int
}

// Server runs the HTTP observability endpoints.
type Server struct {
	Config
	log    zerolog.Logger
	router *echo.Echo
}

// New configures a new Server.
func New(cfg Config, log zerolog.Logger) (*Server, error) {
	router := echo.New()
	router.HideBanner = true
	router.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK\n")
	})
	router.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	router.GET("/debug/pprof/*", echo.WrapHandler(http.HandlerFunc(pprof.Index)))
	router.GET("/debug/pprof/cmdline", echo.WrapHandler(http.HandlerFunc(pprof.Cmdline)))
	router.GET("/debug/pprof/profile", echo.WrapHandler(http.HandlerFunc(pprof.Profile)))
	router.GET("/debug/pprof/symbol", echo.WrapHandler(http.HandlerFunc(pprof.Symbol)))
	router.GET("/debug/pprof/trace", echo.WrapHandler(http.HandlerFunc(pprof.Trace)))
	return &Server{
		Config: cfg,
		log:    log.With().Str("component", "server").Logger(),
		router: router,
	}, nil
}

// Run the server until the given context is canceled.
func (s *Server) Run(ctx context.Context) error {
	log := s.log
	httpAddr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Error().Err(err).Msgf("failed to listen on address %s", httpAddr)
		return err
	}
	httpSrv := http.Server{
		Handler: s.router,
	}

	log.Debug().Str("address", httpAddr).Msg("Serving HTTP")
	errors := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(httpLis); err != nil && err != http.ErrServerClosed {
			errors <- err
			return
		}
		errors <- nil
		log.Debug().Str("address", httpAddr).Msg("Done Serving HTTP")
	}()

	select {
	case err := <-errors:
		return err
	case <-ctx.Done():
		log.Info().Msg("Closing server")
		_ = httpSrv.Shutdown(context.Background())
		return nil
	}
}
