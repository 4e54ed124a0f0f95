// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/prwritinghub/prhub-cli/pkg/auth"
	"github.com/prwritinghub/prhub-cli/pkg/localstore"
	"github.com/prwritinghub/prhub-cli/pkg/logging"
	"github.com/prwritinghub/prhub-cli/pkg/protocol"
)

const (
	defaultAPIBaseURL = "https://api.prwritinghub.io"
	defaultWSURL      = "wss://chat.prwritinghub.io/ws"
)

// Config is the resolved CLI configuration: flags first, then PRHUB_*
// environment variables, then defaults.
type Config struct {
	APIBaseURL string `validate:"required,url"`
	WSURL      string `validate:"required,uri"`
	Engine     string `validate:"required,oneof=11 22"`
	UserID     string `validate:"required"`
	UserRole   string
	DataDir    string `validate:"required"`
	LogLevel   string
	LogDir     string
	Quiet      bool
}

// loadConfig resolves and validates the configuration for commands
// that talk to a backend.
func loadConfig() (Config, error) {
	cfg := Config{
		APIBaseURL: firstNonEmpty(apiBaseURL, os.Getenv("PRHUB_API_URL"), defaultAPIBaseURL),
		WSURL:      firstNonEmpty(wsURL, os.Getenv("PRHUB_WS_URL"), defaultWSURL),
		Engine:     firstNonEmpty(engineType, os.Getenv("PRHUB_ENGINE"), protocol.EngineAnthropic),
		UserID:     firstNonEmpty(userID, os.Getenv("PRHUB_USER_ID")),
		UserRole:   firstNonEmpty(userRole, os.Getenv("PRHUB_USER_ROLE")),
		DataDir:    firstNonEmpty(dataDir, os.Getenv("PRHUB_DATA_DIR"), defaultDataDir()),
		LogLevel:   firstNonEmpty(logLevel, os.Getenv("PRHUB_LOG_LEVEL"), "info"),
		LogDir:     firstNonEmpty(logDir, os.Getenv("PRHUB_LOG_DIR")),
		Quiet:      quietLogs,
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from config.
func newLogger(cfg Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "prhub",
		Quiet:   cfg.Quiet,
	})
}

// tokenProvider selects the credential source: --token-file, then
// --token, then the PRHUB_TOKEN environment variable.
func tokenProvider() auth.TokenProvider {
	if tokenFile != "" {
		return auth.NewFileTokenProvider(tokenFile)
	}
	if tokenValue != "" {
		return auth.NewStaticTokenProvider(tokenValue)
	}
	return auth.NewEnvTokenProvider("PRHUB_TOKEN")
}

// openCache opens the badger-backed local store under the data dir.
func openCache(cfg Config) (*localstore.BadgerStore, error) {
	return localstore.OpenWithPath(filepath.Join(cfg.DataDir, "cache"))
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prhub"
	}
	return filepath.Join(home, ".prhub")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
