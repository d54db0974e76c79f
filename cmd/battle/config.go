package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kotobaquest/battle/internal/battle"
)

// Config holds the orchestration tunables read from the yaml config file.
// Connection endpoints come from the environment.
type Config struct {
	Queue struct {
		TickIntervalSec int `yaml:"tick_interval_sec"`
	} `yaml:"queue"`
	Battle struct {
		AcceptTimeoutSec  int `yaml:"accept_timeout_sec"`
		SelectTimeoutSec  int `yaml:"select_timeout_sec"`
		QuestionsPerRound int `yaml:"questions_per_round"`
	} `yaml:"battle"`
	Workers int `yaml:"workers"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}

func defaultConfig() *Config {
	c := &Config{}
	c.Queue.TickIntervalSec = 5
	c.Battle.AcceptTimeoutSec = 25
	c.Battle.SelectTimeoutSec = 30
	c.Battle.QuestionsPerRound = 5
	c.Workers = 10
	return c
}

func (c *Config) queueTickInterval() time.Duration {
	return time.Duration(c.Queue.TickIntervalSec) * time.Second
}

func (c *Config) battleConfig() battle.Config {
	return battle.Config{
		AcceptTimeout:     time.Duration(c.Battle.AcceptTimeoutSec) * time.Second,
		SelectTimeout:     time.Duration(c.Battle.SelectTimeoutSec) * time.Second,
		QuestionsPerRound: c.Battle.QuestionsPerRound,
	}
}
