// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ConfigurationFileDirectory string
)

// LoadConfiguration merges configFileName from the usual search path into viper
// and enables BEEGATE_ prefixed environment overrides.
func LoadConfiguration(configFileName string, required bool) bool {
	viper.SetConfigName(configFileName)
	viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.beegate")
	viper.AddConfigPath("/etc/beegate/")
	viper.SetEnvPrefix("beegate")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if required {
				log.Fatal().Msgf("config file not found: %s", configFileName)
			}
			log.Info().Msgf("config file not found: %s", configFileName)
			return false
		}

		if required {
			log.Fatal().Err(err).Msgf("failed to load required config file: %s", configFileName)
		}
		log.Warn().Err(err).Msgf("failed to load config file: %s", configFileName)
		return false
	}
	log.Info().Msgf("loaded config file: %s", viper.ConfigFileUsed())

	return true
}

// ResolvePath expands ~ and environment variables in path.
func ResolvePath(path string) string {
	if !strings.Contains(path, "~") && !strings.Contains(path, "$") {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if usr, err := user.Current(); err == nil {
			path = filepath.Join(usr.HomeDir, strings.TrimPrefix(path, "~"))
		}
	}

	path = os.ExpandEnv(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
