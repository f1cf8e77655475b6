package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/solarpush/solarpush/pkg/pathing"
)

var (
	ErrBothSources = fmt.Errorf("both SEMS portal and MQTT sources configured, choose one")
	ErrNoSource    = fmt.Errorf("no inverter source configured, set either SEMS portal credentials or an MQTT broker")
)

var Active *Config

// Load reads the TOML config at path, or the default location when path
// is empty. A missing default config is created with sane defaults; a
// missing explicit path is an error.
func Load(path string) error {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(pathing.GetConfigDir(), "solarpush.toml")
	}

	// Create default if not exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return fmt.Errorf("config file %s does not exist", path)
		}
		cfg := &Config{
			MqttPort:    1883,
			PvoInterval: 5,
			LogLevel:    "info",
		}
		cfgFile, err := os.Create(path)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		toml.NewEncoder(cfgFile).Encode(cfg)
		Active = cfg
		return nil
	}

	// Load existing config
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return err
	}
	if cfg.MqttPort == 0 {
		cfg.MqttPort = 1883
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	Active = &cfg
	return nil
}

// Validate checks source and interval configuration before any network
// activity. csvUpload relaxes the source requirement since a CSV bulk
// upload needs no live source.
func (c *Config) Validate(csvUpload bool) error {
	if c.HasGoodwe() && c.HasMqtt() {
		return ErrBothSources
	}
	if !csvUpload && !c.HasGoodwe() && !c.HasMqtt() {
		return ErrNoSource
	}
	switch c.PvoInterval {
	case 0, 5, 10, 15:
	default:
		return fmt.Errorf("pvo_interval must be 5, 10 or 15 minutes, got %d", c.PvoInterval)
	}
	return nil
}
