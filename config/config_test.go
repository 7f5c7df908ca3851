package config

import "testing"

func TestReadConfRequiresInstanceBaseUrl(t *testing.T) {
	t.Setenv("INSTANCE_BASE_URL", "")
	t.Setenv("APFORGE_INSTANCE_BASE_URL", "")
	embeddedConfig = []byte("conf:\n  httpPort: 8080\n")

	_, err := ReadConf()
	if err == nil {
		t.Fatal("expected error when INSTANCE_BASE_URL is unset and embedded config has none")
	}
}

func TestReadConfEnvOverride(t *testing.T) {
	embeddedConfig = []byte("conf:\n  httpPort: 8080\n  logLevel: info\n")
	t.Setenv("INSTANCE_BASE_URL", "https://example.test")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf: %v", err)
	}
	if c.Conf.InstanceBaseUrl != "https://example.test" {
		t.Errorf("InstanceBaseUrl = %q", c.Conf.InstanceBaseUrl)
	}
	if c.Conf.RedisHost != "redis.internal" {
		t.Errorf("RedisHost = %q", c.Conf.RedisHost)
	}
	if c.Conf.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", c.Conf.LogLevel)
	}
}
