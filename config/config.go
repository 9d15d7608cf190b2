//
// Copyright 2023 Bytedance Ltd. and/or its affiliates
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

// Package config loads the deployment settings of the loyalty engine from
// YAML files and LOYALTY_ prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bytedance/saleloyalty"
)

var ErrInvalidSettings = fmt.Errorf("invalid settings")

const (
	DriverMySQL  = "mysql"
	DriverSqlite = "sqlite"

	LockNone  = "none"
	LockDB    = "db"
	LockRedis = "redis"
)

// DefaultFiles are read when Load is given no file, missing ones are skipped
var DefaultFiles = []string{"loyalty.yaml", "/etc/loyalty/loyalty.yaml"}

type Settings struct {
	Database  DatabaseConfig `yaml:"database" env:"DATABASE"`
	Redis     RedisConfig    `yaml:"redis" env:"REDIS"`
	Lock      LockConfig     `yaml:"lock" env:"LOCK"`
	Refresh   RefreshConfig  `yaml:"refresh" env:"REFRESH"`
	Verbosity int            `yaml:"verbosity" env:"VERBOSITY" default:"0" usage:"log verbosity, 1 logs skipped refreshes"`
}

type DatabaseConfig struct {
	Driver      string `yaml:"driver" env:"DRIVER" default:"sqlite" usage:"gorm dialect, mysql or sqlite"`
	DSN         string `yaml:"dsn" env:"DSN" default:"file:loyalty.db" usage:"database connection string"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE" default:"true" usage:"create the tables on start"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR" usage:"redis address, required by the redis lock"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB" default:"0"`
}

type LockConfig struct {
	Backend string        `yaml:"backend" env:"BACKEND" default:"db" usage:"order lock backend: none, db or redis"`
	TTL     time.Duration `yaml:"ttl" env:"TTL" default:"10s" usage:"lifetime of an order lock"`
}

// RefreshConfig adds trigger fields to the default ones
type RefreshConfig struct {
	OrderTriggers []string `yaml:"order_triggers" env:"ORDER_TRIGGERS" usage:"extra order fields refreshing rewards"`
	LineTriggers  []string `yaml:"line_triggers" env:"LINE_TRIGGERS" usage:"extra line fields refreshing rewards"`
}

// Load reads the settings from the files, then from the environment. Files
// given explicitly must exist.
func Load(files ...string) (*Settings, error) {
	var s Settings
	failOnMissing := len(files) > 0
	if !failOnMissing {
		files = DefaultFiles
	}
	loader := aconfig.LoaderFor(&s, aconfig.Config{
		EnvPrefix:          "LOYALTY",
		SkipFlags:          true,
		Files:              files,
		FailOnFileNotFound: failOnMissing,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
			".yml":  aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	switch s.Database.Driver {
	case DriverMySQL, DriverSqlite:
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidSettings, s.Database.Driver)
	}
	if s.Database.DSN == "" {
		return fmt.Errorf("%w: database dsn is required", ErrInvalidSettings)
	}
	switch s.Lock.Backend {
	case LockNone:
	case LockDB, LockRedis:
		if s.Lock.TTL <= time.Second {
			return fmt.Errorf("%w: lock ttl must exceed 1s", ErrInvalidSettings)
		}
		if s.Lock.Backend == LockRedis && s.Redis.Addr == "" {
			return fmt.Errorf("%w: the redis lock needs redis.addr", ErrInvalidSettings)
		}
	default:
		return fmt.Errorf("%w: unknown lock backend %q", ErrInvalidSettings, s.Lock.Backend)
	}
	return nil
}

// Dialector opens the configured database driver
func (d DatabaseConfig) Dialector() gorm.Dialector {
	if d.Driver == DriverMySQL {
		return mysql.Open(d.DSN)
	}
	return sqlite.Open(d.DSN)
}

// Triggers returns the default triggers extended with the configured ones
func (s *Settings) Triggers() saleloyalty.Triggers {
	return saleloyalty.DefaultTriggers().With(s.Refresh.OrderTriggers, s.Refresh.LineTriggers)
}
