// Package config loads the federation engine's configuration from
// config.yaml on disk when present (otherwise from an embedded
// default), then applies environment-variable overrides.
package config

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const Name = "apforge"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

// AppConfig is the federation engine's configuration surface.
type AppConfig struct {
	Conf struct {
		InstanceBaseUrl           string `yaml:"instanceBaseUrl"`
		HttpPort                  int    `yaml:"httpPort"`
		DbPath                    string `yaml:"dbPath"`
		RedisHost                 string `yaml:"redisHost"`
		RedisPort                 int    `yaml:"redisPort"`
		LogLevel                  string `yaml:"logLevel"`
		WithJournald              bool   `yaml:"withJournald"`
		WithPprof                 bool   `yaml:"withPprof"`
		DefaultActorPrivateKeyPem string `yaml:"defaultActorPrivateKeyPem"`
	}
}

// ReadConf loads config.yaml from the working directory if present, or
// the embedded default config otherwise (the two are not merged), then
// overlays recognized
// environment variables (both the bare names and the APFORGE_-prefixed
// variants).
func ReadConf() (*AppConfig, error) {
	c := &AppConfig{}

	buf := embeddedConfig
	if onDisk, err := os.ReadFile(ConfigFileName); err == nil {
		buf = onDisk
	} else {
		log.Printf("config file %s not found, using embedded defaults", ConfigFileName)
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnv(c)

	if c.Conf.InstanceBaseUrl == "" {
		return nil, fmt.Errorf("INSTANCE_BASE_URL is required")
	}

	if c.Conf.DbPath == "" {
		c.Conf.DbPath = "apforge.db"
	}

	return c, nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func applyEnv(c *AppConfig) {
	if v := firstEnv("INSTANCE_BASE_URL", "APFORGE_INSTANCE_BASE_URL"); v != "" {
		c.Conf.InstanceBaseUrl = v
	}

	if v := firstEnv("DB_PATH", "APFORGE_DB_PATH"); v != "" {
		c.Conf.DbPath = v
	}

	if v := firstEnv("REDIS_HOST", "APFORGE_REDIS_HOST"); v != "" {
		c.Conf.RedisHost = v
	}

	if v := firstEnv("REDIS_PORT", "APFORGE_REDIS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("error parsing REDIS_PORT: %v", err)
		} else {
			c.Conf.RedisPort = p
		}
	}

	if v := firstEnv("LOG_LEVEL", "APFORGE_LOG_LEVEL"); v != "" {
		c.Conf.LogLevel = v
	}

	if v := firstEnv("DEFAULT_ACTOR_PRIVATE_KEY_PEM", "APFORGE_DEFAULT_ACTOR_PRIVATE_KEY_PEM"); v != "" {
		c.Conf.DefaultActorPrivateKeyPem = v
	}

	if v := os.Getenv("APFORGE_HTTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("error parsing APFORGE_HTTP_PORT: %v", err)
		} else {
			c.Conf.HttpPort = p
		}
	}

	if os.Getenv("APFORGE_WITH_JOURNALD") == "true" {
		c.Conf.WithJournald = true
	}

	if os.Getenv("APFORGE_WITH_PPROF") == "true" {
		c.Conf.WithPprof = true
	}

	if c.Conf.LogLevel == "" {
		c.Conf.LogLevel = "info"
	}
}
