package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/cpcbridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing cpcbridge configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

Without a config file or CPCBRIDGE_ environment variables this shows every
option with its default value, and can be redirected to create a template:

  cpcbridge config dump > config.yaml

Environment variables use the CPCBRIDGE_ prefix and underscores for nesting.
Example: video.stall_timeout -> CPCBRIDGE_VIDEO_STALL_TIMEOUT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations and sizes for humans.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# cpcbridge configuration")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Duration format: 100ms, 2s, 1h")
	fmt.Fprintln(out, "# Size format: 512KB, 1MB")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Environment variable overrides:")
	fmt.Fprintln(out, "#   CPCBRIDGE_VIDEO_STALENESS_BUDGET, CPCBRIDGE_AUDIO_BUFFER_SIZE")
	fmt.Fprintln(out, "#   CPCBRIDGE_SERVER_PORT, CPCBRIDGE_DATABASE_DSN")
	fmt.Fprintln(out, "#")
	fmt.Fprint(out, string(yamlData))
	return nil
}
