package cmd

import (
	"github.com/atviriduomenys/spinta-sync/pkg/engine"
)

// loadConfig reads the config file and applies the global flag overrides
func loadConfig() (*engine.Config, error) {
	config, err := engine.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if credentials != "" {
		config.Remote.Credentials = credentials
	}

	setLogLevel(config.Logging)

	return config, nil
}

// newEngine loads the configuration and creates the engine commands share
func newEngine() (*engine.Engine, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, err
	}

	return engine.New(logger, config, nil)
}
