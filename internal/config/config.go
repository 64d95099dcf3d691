package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"` // postgres only
	} `yaml:"database"`

	Scanner struct {
		// ToolPath is the dependency-check launcher, e.g.
		// /opt/dependency-check/bin/dependency-check.sh
		ToolPath string `yaml:"toolPath"`
		DataDir  string `yaml:"dataDir"`
		// NVD API key, strongly recommended: without one the first NVD
		// download is rate-limited to a crawl.
		NVDAPIKey   string `yaml:"nvdApiKey"`
		JavaHome    string `yaml:"javaHome"`
		UploadDir   string `yaml:"uploadDir"`
		ReportsDir  string `yaml:"reportsDir"`
		MaxUploadMB int64  `yaml:"maxUploadMB"`
	} `yaml:"scanner"`

	Archive struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"archive"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`
}

// Load reads the yaml config file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Scanner.ToolPath == "" {
		c.Scanner.ToolPath = "/opt/dependency-check/bin/dependency-check.sh"
	}
	if c.Scanner.UploadDir == "" {
		c.Scanner.UploadDir = "./data/uploads"
	}
	if c.Scanner.ReportsDir == "" {
		c.Scanner.ReportsDir = "./data/reports"
	}
	if c.Scanner.MaxUploadMB == 0 {
		c.Scanner.MaxUploadMB = 500
	}
}

// EnsureDirs creates the upload and reports directories up front.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Scanner.UploadDir, c.Scanner.ReportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// MySQLDSN builds the DSN for the mysql driver.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds the DSN for lib/pq.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
