// Command fan-controller drives TRIAC-dimmed fans from a Bluetooth bike
// speed sensor and publishes telemetry to MQTT.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sweeney/fan-controller/internal/config"
)

var (
	configPath string
	brokerFlag string
	httpFlag   string
	bridgeFlag string
)

var rootCmd = &cobra.Command{
	Use:   "fan-controller",
	Short: "Speed-following fan controller",
	Long: "fan-controller reads wheel speed from a Bluetooth CSC sensor through a serial\n" +
		"bridge and sets the power of TRIAC-dimmed fans by phase-angle control.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "/etc/fan-controller.toml", "TOML configuration file (missing file uses defaults)")
	pf.StringVar(&brokerFlag, "broker", "", "MQTT broker address (overrides config)")
	pf.StringVar(&httpFlag, "http", "", `HTTP status address, "off" to disable (overrides config)`)
	pf.StringVar(&bridgeFlag, "bridge", "", `BLE bridge serial port, "auto" to detect (overrides config)`)

	rootCmd.AddCommand(decodeCmd, configCmd, stateCmd)
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("broker") {
		cfg.MQTT.Broker = brokerFlag
	}
	if flags.Changed("http") {
		cfg.HTTP.Addr = httpFlag
		if httpFlag == "off" {
			cfg.HTTP.Addr = ""
		}
	}
	if flags.Changed("bridge") {
		cfg.Bridge.Port = bridgeFlag
	}
	return cfg, nil
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
