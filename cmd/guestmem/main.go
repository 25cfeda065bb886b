/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/carverauto/guestmem/pkg/config"
	"github.com/carverauto/guestmem/pkg/lifecycle"
	"github.com/carverauto/guestmem/pkg/logger"
	"github.com/carverauto/guestmem/pkg/poller"
	"github.com/carverauto/guestmem/pkg/version"
)

var (
	errFailedToLoadConfig = errors.New("failed to load config")
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/guestmem/guestmem.json", "Path to guestmem config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())

		return nil
	}

	ctx := context.Background()

	// Step 1: Load configuration
	cfgLoader := config.NewConfig(nil)

	var cfg poller.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	// Step 2: Create logger from loaded config
	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	mainLogger, err := lifecycle.CreateComponentLogger(ctx, "guestmem", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("Failed to shut down logger: %v", err)
		}
	}()

	// Step 3: Optional OTLP metrics export
	if _, err := logger.InitializeMetrics(ctx, cfg.Metrics); err != nil && !errors.Is(err, logger.ErrOTelMetricsDisabled) {
		mainLogger.Warn().Err(err).Msg("Failed to initialize metrics export")
	}

	mainLogger.Info().
		Str("version", version.GetFullVersion()).
		Str("inventory", cfg.InventoryPath).
		Str("record_dir", cfg.RecordDir).
		Msg("Starting guestmem")

	p, err := poller.NewService(ctx, &cfg, mainLogger)
	if err != nil {
		return err
	}

	return lifecycle.RunService(ctx, &lifecycle.ServiceOptions{
		ServiceName: "guestmem",
		Service:     p,
		Logger:      mainLogger,
	})
}
