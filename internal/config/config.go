// Package config layers settings from a TOML file, V4L2QUEUE_* environment
// variables and command line flags onto a flat options struct, and watches
// the file for changes.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/v4l2queue/internal/logging"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "V4L2QUEUE_"

// LoadConfig fills opts, a pointer to a struct, with precedence
// flags > env > file. The file path is taken from a string field named
// Config. Fields are bound by their `toml:"section.key"` and `env:"KEY"`
// tags. Flags marked changed in flags are never overwritten; flags may be
// nil. A missing file is not an error.
func LoadConfig(opts any, flags *pflag.FlagSet) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changedFlags := make(map[string]bool)
	if flags != nil {
		flags.Visit(func(f *pflag.Flag) {
			changedFlags[f.Name] = true
		})
	}

	var configPath string
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		configPath = f.String()
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			var config map[string]any
			if err := toml.Unmarshal(data, &config); err != nil {
				return fmt.Errorf("failed to parse TOML config: %w", err)
			}
			for i := 0; i < v.NumField(); i++ {
				fieldType := t.Field(i)
				if changedFlags[fieldNameToFlag(fieldType.Name)] {
					continue
				}
				if tomlPath := fieldType.Tag.Get("toml"); tomlPath != "" {
					if value := getNestedValue(config, tomlPath); value != nil {
						if err := setFieldValue(v.Field(i), value); err != nil {
							return fmt.Errorf("%s: %w", tomlPath, err)
						}
					}
				}
			}
		case !os.IsNotExist(err):
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	for i := 0; i < v.NumField(); i++ {
		fieldType := t.Field(i)
		if changedFlags[fieldNameToFlag(fieldType.Name)] {
			continue
		}
		if envKey := fieldType.Tag.Get("env"); envKey != "" {
			if envValue := os.Getenv(EnvPrefix + envKey); envValue != "" {
				if err := setFieldValueFromString(v.Field(i), envValue); err != nil {
					return fmt.Errorf("%s%s: %w", EnvPrefix, envKey, err)
				}
			}
		}
	}

	return nil
}

// fieldNameToFlag converts a struct field name to a CLI flag name, the way
// humacli derives flags: "LoggingLevel" -> "logging-level".
func fieldNameToFlag(fieldName string) string {
	var result []rune
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '-')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// getNestedValue retrieves a value from nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// setFieldValue assigns a decoded TOML value, converting between the
// numeric types go-toml produces and the field's kind.
func setFieldValue(field reflect.Value, value any) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("want duration string, got %T", value)
		}
		return setFieldValueFromString(field, s)
	}

	switch field.Kind() {
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", value)
		}
		field.SetString(s)
	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", value)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		i, ok := value.(int64)
		if !ok {
			return fmt.Errorf("want integer, got %T", value)
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		i, ok := value.(int64)
		if !ok || i < 0 {
			return fmt.Errorf("want non-negative integer, got %v", value)
		}
		field.SetUint(uint64(i))
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("want array, got %T", value)
		}
		slice := make([]string, len(arr))
		for i, v := range arr {
			slice[i], _ = v.(string)
		}
		field.Set(reflect.ValueOf(slice))
	}
	return nil
}

// setFieldValueFromString parses an environment value into the field.
// Slices are comma separated.
func setFieldValueFromString(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		i, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(i)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			slice := make([]string, len(parts))
			for i, part := range parts {
				slice[i] = strings.TrimSpace(part)
			}
			field.Set(reflect.ValueOf(slice))
		}
	}
	return nil
}

// LoadLoggingConfig reads the [logging] section. Module levels may be
// given either in a [logging.modules] table or as plain keys next to
// level and format. A missing file yields the defaults.
func LoadLoggingConfig(configPath string) (logging.Config, error) {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var raw struct {
		Logging map[string]any `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	for key, value := range raw.Logging {
		switch val := value.(type) {
		case string:
			switch key {
			case "level":
				cfg.Level = val
			case "format":
				cfg.Format = val
			default:
				cfg.Modules[key] = val
			}
		case map[string]any:
			if key != "modules" {
				continue
			}
			for module, level := range val {
				if s, ok := level.(string); ok {
					cfg.Modules[module] = s
				}
			}
		}
	}

	if !logging.ValidLevel(cfg.Level) {
		return cfg, fmt.Errorf("invalid logging level %q", cfg.Level)
	}
	return cfg, nil
}
