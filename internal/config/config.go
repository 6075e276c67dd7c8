// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"comlink-service/internal/identify"
	"comlink-service/internal/model"
	"comlink-service/internal/protocol"
)

// Config represents the application configuration
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Serial      SerialConfig      `mapstructure:"serial"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Identifier  IdentifierConfig  `mapstructure:"identifier"`
	AutoConnect AutoConnectConfig `mapstructure:"autoconnect"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Events      EventsConfig      `mapstructure:"events"`
	Security    SecurityConfig    `mapstructure:"security"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SerialConfig represents the line settings applied before every open
type SerialConfig struct {
	BaudRate    int    `mapstructure:"baud_rate"`
	DataBits    int    `mapstructure:"data_bits"`
	Parity      string `mapstructure:"parity"`
	StopBits    string `mapstructure:"stop_bits"`
	FlowControl string `mapstructure:"flow_control"`
}

// MonitorConfig represents port monitor configuration
type MonitorConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	USBEnrich bool          `mapstructure:"usb_enrich"`
	Match     string        `mapstructure:"match"`
}

// IdentifierConfig represents the identification handshake
type IdentifierConfig struct {
	Strategy         string        `mapstructure:"strategy"`
	Command          string        `mapstructure:"command"`
	ExpectedResponse string        `mapstructure:"expected_response"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// AutoConnectConfig represents the auto-connect cycle started with the service
type AutoConnectConfig struct {
	OnStart bool   `mapstructure:"on_start"`
	VID     string `mapstructure:"vid"`
	PID     string `mapstructure:"pid"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	AutoMigrate  bool          `mapstructure:"auto_migrate"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

// EventsConfig represents event pipeline configuration
type EventsConfig struct {
	BufferSize  int           `mapstructure:"buffer_size"`
	HistorySize int           `mapstructure:"history_size"`
	Retention   time.Duration `mapstructure:"retention"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load loads configuration from file and environment variables. Variables
// in ./.env are added to the environment unless already set.
// An empty path searches for config.yaml in the usual locations; a missing
// file is not an error in that case and defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./internal/config")
	}

	// Environment variable support, optionally seeded from a .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}
	v.SetEnvPrefix("COMLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "comlink-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Serial line defaults
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.stop_bits", "1")
	v.SetDefault("serial.flow_control", "none")

	// Monitor defaults
	v.SetDefault("monitor.interval", "1s")
	v.SetDefault("monitor.usb_enrich", false)
	v.SetDefault("monitor.match", "")

	// Identifier defaults
	v.SetDefault("identifier.strategy", identify.StrategyNonBlocking)
	v.SetDefault("identifier.command", "ID?\n")
	v.SetDefault("identifier.expected_response", "OK")
	v.SetDefault("identifier.timeout", "500ms")

	// Auto-connect defaults
	v.SetDefault("autoconnect.on_start", false)
	v.SetDefault("autoconnect.vid", "")
	v.SetDefault("autoconnect.pid", "")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "comlink")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")

	// Event pipeline defaults
	v.SetDefault("events.buffer_size", 1000)
	v.SetDefault("events.history_size", 500)
	v.SetDefault("events.retention", "168h")

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if _, err := config.Serial.Mode(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}

	validStrategies := []string{identify.StrategyBlocking, identify.StrategyNonBlocking}
	if !contains(validStrategies, config.Identifier.Strategy) {
		return fmt.Errorf("identifier.strategy must be one of: %v", validStrategies)
	}
	if err := config.Identifier.Handshake().Validate(); err != nil {
		return fmt.Errorf("identifier: %w", err)
	}

	if _, err := config.AutoConnect.Filter(); err != nil {
		return fmt.Errorf("autoconnect: %w", err)
	}

	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required when database.enabled is set")
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Mode converts the serial section into transport line settings
func (s SerialConfig) Mode() (protocol.Mode, error) {
	parity, err := protocol.ParseParity(s.Parity)
	if err != nil {
		return protocol.Mode{}, err
	}
	stopBits, err := protocol.ParseStopBits(s.StopBits)
	if err != nil {
		return protocol.Mode{}, err
	}
	flow, err := protocol.ParseFlowControl(s.FlowControl)
	if err != nil {
		return protocol.Mode{}, err
	}

	mode := protocol.Mode{
		BaudRate:    s.BaudRate,
		DataBits:    s.DataBits,
		Parity:      parity,
		StopBits:    stopBits,
		FlowControl: flow,
	}
	if err := mode.Validate(); err != nil {
		return protocol.Mode{}, err
	}
	return mode, nil
}

// Handshake converts the identifier section into an identify.Config
func (i IdentifierConfig) Handshake() identify.Config {
	return identify.Config{
		Command:          []byte(i.Command),
		ExpectedResponse: []byte(i.ExpectedResponse),
		Timeout:          i.Timeout,
	}
}

// Filter parses the configured VID/PID constraints
func (a AutoConnectConfig) Filter() (model.PortFilter, error) {
	vid, err := model.ParseUSBID(a.VID)
	if err != nil {
		return model.PortFilter{}, fmt.Errorf("vid: %w", err)
	}
	pid, err := model.ParseUSBID(a.PID)
	if err != nil {
		return model.PortFilter{}, fmt.Errorf("pid: %w", err)
	}
	return model.PortFilter{VendorID: vid, ProductID: pid}, nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
