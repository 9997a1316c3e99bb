package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/recnav/internal/logging"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	cfgKeyDriver         = "driver"
	cfgKeyDatabase       = "database"
	cfgKeySchema         = "schema"
	cfgKeyDataDir        = "data_dir"
	cfgKeyPageSize       = "page_size"
	cfgKeyRefreshDelay   = "refresh_delay"
	cfgKeyCheckIntegrity = "check_integrity"
	cfgKeyLogLevel       = "log.level"
	cfgKeyLogFormat      = "log.format"
	cfgKeyLogFile        = "log.file"

	defaultDatabase   = "recnav.db"
	defaultSchemaFile = "schema.yaml"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# recnav configuration

# SQL driver: sqlite (pure Go) or sqlite3 (cgo)
driver: sqlite

# Database file, relative to the data directory
database: recnav.db

# Table definitions, relative to the config directory
schema: schema.yaml

# Data directory (optional; overridable by --data-dir flag)
# data_dir:

page_size: 2000
refresh_delay: 50ms
check_integrity: true

log:
  level: warn
  format: text
  # file:
`

// defaultSchemaYAML is written to schema.yaml on init when no schema exists.
const defaultSchemaYAML = `# recnav schema
# tables:
#   - name: customers
#     primary_key: id
#     fields:
#       - name: id
#         type: serial
#       - name: name
#         type: string
tables: []
`

// settings is the resolved configuration of one CLI invocation.
type settings struct {
	configDir string
	dataDir   string
	engine    types.Config
	log       logging.Config
}

// loadConfig reads config.yaml from configDir using Viper, creating the
// directory and a default file on first run. A missing config.yaml is not
// an error.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := ensureConfigDir(configDir); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultFile(filepath.Join(configDir, configFileExt), defaultConfigYAML); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyDriver, types.DriverSQLite)
	v.SetDefault(cfgKeyDatabase, defaultDatabase)
	v.SetDefault(cfgKeySchema, defaultSchemaFile)
	v.SetDefault(cfgKeyPageSize, types.DefaultPageSize)
	v.SetDefault(cfgKeyRefreshDelay, types.DefaultRefreshDelay)
	v.SetDefault(cfgKeyCheckIntegrity, true)
	v.SetDefault(cfgKeyLogLevel, "warn")
	v.SetDefault(cfgKeyLogFormat, "text")
	v.SetEnvPrefix("recnav")
	v.AutomaticEnv()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// resolveSettings turns the Viper values into engine and logger
// configuration. Relative database and log paths resolve against the data
// directory; a relative schema path resolves against the config directory.
func resolveSettings(v *viper.Viper, configDir, dataDir string) (settings, error) {
	s := settings{
		configDir: configDir,
		dataDir:   dataDir,
		engine: types.Config{
			Driver:         v.GetString(cfgKeyDriver),
			Database:       under(dataDir, v.GetString(cfgKeyDatabase)),
			Schema:         under(configDir, v.GetString(cfgKeySchema)),
			PageSize:       v.GetInt(cfgKeyPageSize),
			RefreshDelay:   v.GetDuration(cfgKeyRefreshDelay),
			CheckIntegrity: v.GetBool(cfgKeyCheckIntegrity),
		},
		log: logging.Config{
			Level:  v.GetString(cfgKeyLogLevel),
			Format: v.GetString(cfgKeyLogFormat),
		},
	}
	if f := v.GetString(cfgKeyLogFile); f != "" {
		s.log.OutputPath = under(dataDir, f)
	}
	if s.engine.RefreshDelay == 0 {
		s.engine.RefreshDelay = types.DefaultRefreshDelay
	}
	if err := s.engine.Validate(); err != nil {
		return settings{}, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

func under(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func ensureConfigDir(configDir string) error {
	return os.MkdirAll(configDir, 0o755)
}

// ensureDefaultFile writes content to path unless the file already exists.
func ensureDefaultFile(path, content string) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
