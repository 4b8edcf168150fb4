package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Log        LogConfig        `mapstructure:"log"`
	Decompiler DecompilerConfig `mapstructure:"decompiler"`
	Mappings   MappingsConfig   `mapstructure:"mappings"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	JARDir     string           `mapstructure:"jar_dir"`
	ResultDir  string           `mapstructure:"result_dir"`
	DataDir    string           `mapstructure:"data_dir"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"` // number of pipeline workers
	QueueSize   int `mapstructure:"queue_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// DecompilerConfig configures the external decompiler chain.
type DecompilerConfig struct {
	ToolsDir string         `mapstructure:"tools_dir"` // directory holding backend jars
	Order    []string       `mapstructure:"order"`     // preference order, e.g. [cfr, fernflower, jd-cli]
	Timeout  int            `mapstructure:"timeout"`   // seconds per backend invocation
	Remapper RemapperConfig `mapstructure:"remapper"`
}

// RemapperConfig configures the optional bytecode remapper run before decompilation.
type RemapperConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	JarPath string `mapstructure:"jar_path"`
	Timeout int    `mapstructure:"timeout"` // seconds
}

// MappingsConfig configures mapping-file handling and auto-download.
type MappingsConfig struct {
	Dir          string `mapstructure:"dir"`           // mapping cache directory
	AutoDownload bool   `mapstructure:"auto_download"` // fetch mapping set for resolved versions
	BaseURL      string `mapstructure:"base_url"`      // mapping export endpoint
	Timeout      int    `mapstructure:"timeout"`       // seconds per download
	Strict       bool   `mapstructure:"strict"`        // fail load on any malformed line
}

// AnalyzerConfig configures the security pattern analyzer.
type AnalyzerConfig struct {
	DenyList []string `mapstructure:"deny_list"` // extra suspicious substrings
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	// Nested keys are not picked up by AutomaticEnv alone.
	viper.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	viper.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	viper.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	viper.BindEnv("rabbitmq.password", "RABBITMQ_PASS")

	viper.BindEnv("database.host", "MYSQL_HOST")
	viper.BindEnv("database.port", "MYSQL_PORT")
	viper.BindEnv("database.user", "MYSQL_USER")
	viper.BindEnv("database.password", "MYSQL_PASS")
	viper.BindEnv("database.db_name", "MYSQL_DB")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
