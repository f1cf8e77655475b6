package config

type Config struct {
	// SEMS portal credentials (polling source)
	GwStationId string `toml:"gw_station_id"`
	GwAccount   string `toml:"gw_account"`
	GwPassword  string `toml:"gw_password"`

	// MQTT broker (snapshot source, mutually exclusive with SEMS)
	MqttHost     string `toml:"mqtt_host"`
	MqttPort     int    `toml:"mqtt_port"`
	MqttUser     string `toml:"mqtt_user"`
	MqttPassword string `toml:"mqtt_password"`
	MqttTopic    string `toml:"mqtt_topic"`

	// PVOutput delivery target
	PvoSystemId string `toml:"pvo_system_id"`
	PvoApiKey   string `toml:"pvo_api_key"`
	// Submission interval in minutes (5, 10 or 15); 0 runs a single cycle
	PvoInterval int `toml:"pvo_interval"`

	// Weather enrichment, selected by whichever key is set
	OpenWeatherApiKey string `toml:"openweather_api_key"`
	DarkSkyApiKey     string `toml:"darksky_api_key"`

	// Telegram failure notifications
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatId string `toml:"telegram_chatid"`

	// Behaviour toggles
	PvVoltage   bool   `toml:"pv_voltage"`
	SkipOffline bool   `toml:"skip_offline"`
	City        string `toml:"city"`
	LogLevel    string `toml:"log"`

	// Local sinks
	Csv             string `toml:"csv"`
	CsvDecimalComma bool   `toml:"csv_decimal_comma"`
	Archive         bool   `toml:"archive"`

	// Live feed listen address, e.g. "0.0.0.0:9040"; empty disables it
	ListenAddress string `toml:"listen_address"`
}

// HasGoodwe reports whether SEMS portal credentials are fully configured.
func (c *Config) HasGoodwe() bool {
	return c.GwStationId != "" && c.GwAccount != "" && c.GwPassword != ""
}

// HasMqtt reports whether the broker source is configured at a minimum.
func (c *Config) HasMqtt() bool {
	return c.MqttHost != "" && c.MqttTopic != ""
}

// HasPvo reports whether delivery credentials are configured.
func (c *Config) HasPvo() bool {
	return c.PvoSystemId != "" && c.PvoApiKey != ""
}
