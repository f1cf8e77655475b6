// Solarpush relays solar inverter telemetry to PVOutput.org.
package main

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solarpush/solarpush/pkg/config"
	"github.com/solarpush/solarpush/pkg/runner"
)

var flags config.Config

var (
	configPath string
	date       string
	uploadCsv  string
)

var rootCmd = &cobra.Command{
	Use:   "solarpush",
	Short: "Upload solar inverter data to PVOutput.org",
	Long: `Solarpush reads live telemetry from a GoodWe SEMS portal station or an
MQTT broker, enriches it with weather data and uploads it to PVOutput.org.
It can also backfill historical days from the portal or re-upload CSV files.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file path")

	rootCmd.Flags().StringVar(&flags.GwStationId, "gw-station-id", "", "GoodWe SEMS station id")
	rootCmd.Flags().StringVar(&flags.GwAccount, "gw-account", "", "GoodWe SEMS account")
	rootCmd.Flags().StringVar(&flags.GwPassword, "gw-password", "", "GoodWe SEMS password")

	rootCmd.Flags().StringVar(&flags.MqttHost, "mqtt-host", "", "MQTT broker hostname")
	rootCmd.Flags().IntVar(&flags.MqttPort, "mqtt-port", 1883, "MQTT broker port")
	rootCmd.Flags().StringVar(&flags.MqttUser, "mqtt-user", "", "MQTT username")
	rootCmd.Flags().StringVar(&flags.MqttPassword, "mqtt-password", "", "MQTT password")
	rootCmd.Flags().StringVar(&flags.MqttTopic, "mqtt-topic", "", "MQTT topic prefix of the inverter")

	rootCmd.Flags().StringVar(&flags.PvoSystemId, "pvo-system-id", "", "PVOutput system id")
	rootCmd.Flags().StringVar(&flags.PvoApiKey, "pvo-api-key", "", "PVOutput API key")
	rootCmd.Flags().IntVar(&flags.PvoInterval, "pvo-interval", 5, "Upload interval in minutes (0, 5, 10 or 15, 0 runs once)")

	rootCmd.Flags().StringVar(&flags.DarkSkyApiKey, "darksky-api-key", "", "Dark Sky API key for weather enrichment")
	rootCmd.Flags().StringVar(&flags.OpenWeatherApiKey, "openweather-api-key", "", "OpenWeather API key for weather enrichment")

	rootCmd.Flags().StringVar(&flags.TelegramToken, "telegram-token", "", "Telegram bot token for failure notifications")
	rootCmd.Flags().StringVar(&flags.TelegramChatId, "telegram-chatid", "", "Telegram chat id for failure notifications")

	rootCmd.Flags().StringVar(&flags.LogLevel, "log", "info", "Log level: debug, info, warning or critical")
	rootCmd.Flags().StringVar(&date, "date", "", "Backfill a historical day (YYYY-MM-DD) and exit")
	rootCmd.Flags().StringVar(&uploadCsv, "upload-csv", "", "Upload a previously written CSV file and exit")
	rootCmd.Flags().BoolVar(&flags.PvVoltage, "pv-voltage", false, "Submit PV string voltage instead of grid voltage")
	rootCmd.Flags().BoolVar(&flags.SkipOffline, "skip-offline", false, "Skip uploads while the inverter is offline")
	rootCmd.Flags().StringVar(&flags.City, "city", "", "IANA timezone of the station, e.g. Europe/Amsterdam")
	rootCmd.Flags().StringVar(&flags.Csv, "csv", "", "Append readings to a CSV file (DATE in the name expands to the current date)")
	rootCmd.Flags().BoolVar(&flags.CsvDecimalComma, "csv-decimal-comma", false, "Write CSV floats with a decimal comma")
	rootCmd.Flags().StringVar(&flags.ListenAddress, "listen", "", "Serve the live feed on this address, e.g. :8080")
	rootCmd.Flags().BoolVar(&flags.Archive, "archive", false, "Archive submitted readings in a local database")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := config.Load(configPath); err != nil {
		return err
	}
	cfg := config.Active
	applyFlagOverrides(cmd, cfg)

	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(uploadCsv != ""); err != nil {
		return err
	}

	if cfg.City != "" {
		location, err := time.LoadLocation(cfg.City)
		if err != nil {
			return fmt.Errorf("unknown timezone %q: %w", cfg.City, err)
		}
		time.Local = location
	}
	log.Debugf("Timezone %v", time.Now().Location())

	r, err := runner.New(cfg)
	if err != nil {
		return err
	}

	switch {
	case date != "":
		day, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			return fmt.Errorf("bad date %q: %w", date, err)
		}
		return r.RunBackfillDate(day)
	case uploadCsv != "":
		return r.RunBackfillCSV(uploadCsv)
	case cfg.PvoInterval == 0:
		return r.RunOnce()
	default:
		return r.RunLive(time.Duration(cfg.PvoInterval) * time.Minute)
	}
}

// applyFlagOverrides copies every flag the user set on the command
// line over the corresponding config file value.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	overrides := map[string]func(){
		"gw-station-id":       func() { cfg.GwStationId = flags.GwStationId },
		"gw-account":          func() { cfg.GwAccount = flags.GwAccount },
		"gw-password":         func() { cfg.GwPassword = flags.GwPassword },
		"mqtt-host":           func() { cfg.MqttHost = flags.MqttHost },
		"mqtt-port":           func() { cfg.MqttPort = flags.MqttPort },
		"mqtt-user":           func() { cfg.MqttUser = flags.MqttUser },
		"mqtt-password":       func() { cfg.MqttPassword = flags.MqttPassword },
		"mqtt-topic":          func() { cfg.MqttTopic = flags.MqttTopic },
		"pvo-system-id":       func() { cfg.PvoSystemId = flags.PvoSystemId },
		"pvo-api-key":         func() { cfg.PvoApiKey = flags.PvoApiKey },
		"pvo-interval":        func() { cfg.PvoInterval = flags.PvoInterval },
		"darksky-api-key":     func() { cfg.DarkSkyApiKey = flags.DarkSkyApiKey },
		"openweather-api-key": func() { cfg.OpenWeatherApiKey = flags.OpenWeatherApiKey },
		"telegram-token":      func() { cfg.TelegramToken = flags.TelegramToken },
		"telegram-chatid":     func() { cfg.TelegramChatId = flags.TelegramChatId },
		"log":                 func() { cfg.LogLevel = flags.LogLevel },
		"pv-voltage":          func() { cfg.PvVoltage = flags.PvVoltage },
		"skip-offline":        func() { cfg.SkipOffline = flags.SkipOffline },
		"city":                func() { cfg.City = flags.City },
		"csv":                 func() { cfg.Csv = flags.Csv },
		"csv-decimal-comma":   func() { cfg.CsvDecimalComma = flags.CsvDecimalComma },
		"listen":              func() { cfg.ListenAddress = flags.ListenAddress },
		"archive":             func() { cfg.Archive = flags.Archive },
	}
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
}

func setupLogging(level string) {
	switch level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "critical":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}
