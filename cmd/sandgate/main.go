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
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/carverauto/sandgate/pkg/bridge"
	"github.com/carverauto/sandgate/pkg/config"
	"github.com/carverauto/sandgate/pkg/core/api"
	"github.com/carverauto/sandgate/pkg/core/auth"
	"github.com/carverauto/sandgate/pkg/lifecycle"
	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
	"github.com/carverauto/sandgate/pkg/mount"
	"github.com/carverauto/sandgate/pkg/probe"
	"github.com/carverauto/sandgate/pkg/supervisor"
	syncengine "github.com/carverauto/sandgate/pkg/sync"
)

func main() {
	configPath := flag.String("config", "/etc/sandgate/sandgate.json", "Path to config file")
	flag.Parse()

	// Sandbox images ship credentials in .env files; absence is normal.
	_ = godotenv.Load()

	ctx := context.Background()

	var cfg models.SupervisorConfig

	cfgLoader := config.NewConfig(nil)
	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	config.ApplyEnvOverlay(&cfg)
	cfg.ApplyDefaults()

	logCfg := logger.DefaultConfig()
	if cfg.Logging != nil {
		logCfg.Level = cfg.Logging.Level
		logCfg.Debug = cfg.Logging.Debug
		logCfg.Output = cfg.Logging.Output
	}

	if err := logger.Init(*logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	rootLogger := logger.NewDefaultLogger()

	cliBridge := bridge.New(cfg.Gateway.Command, rootLogger,
		bridge.WithPollInterval(time.Duration(cfg.Gateway.PollInterval)))

	gatewayProbe := probe.New(&cfg.Gateway, rootLogger)
	mountManager := mount.New(&cfg.Storage, cliBridge, rootLogger)
	engine := syncengine.New(&cfg.Storage, &cfg.Gateway, mountManager, cliBridge, cliBridge, rootLogger)

	launcher := supervisor.NewExecLauncher(&cfg.Gateway, rootLogger)
	sup := supervisor.New(&cfg.Gateway, gatewayProbe, launcher, rootLogger,
		supervisor.WithRestorer(engine))

	authenticator := auth.New(&cfg.Auth, nil)

	server := api.NewAPIServer(cfg.CORS, rootLogger,
		api.WithSupervisor(sup),
		api.WithDeviceBridge(cliBridge),
		api.WithStorageEngine(engine),
		api.WithVerifier(authenticator),
	)

	// Warm boot: bring the gateway up before the first request arrives.
	go func() {
		if _, err := sup.EnsureRunning(ctx); err != nil {
			rootLogger.Warn().Err(err).Msg("Initial gateway boot failed, will retry on demand")
		}
	}()

	opts := &lifecycle.ServerOptions{
		ListenAddr:   cfg.ListenAddr,
		Handler:      server.Router(),
		Logger:       rootLogger,
		Syncer:       engine,
		SyncInterval: time.Duration(cfg.Storage.SyncInterval),
	}

	if err := lifecycle.RunServer(ctx, opts); err != nil {
		log.Fatalf("Supervisor service failed: %v", err)
	}
}
