// Package config loads application configuration from environment variables
// into typed structs.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11: the
// default .env file is loaded once per process, then env.Parse populates any
// struct annotated with `env` field tags. Each configuration type is parsed
// at most once and cached, which keeps startup deterministic even when the
// same config struct is requested from several components.
//
//	type WorkerConfig struct {
//	    BatchSize int `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
//	}
//
//	var cfg WorkerConfig
//	config.MustLoad(&cfg)
package config
