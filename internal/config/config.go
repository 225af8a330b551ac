package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "STEMTRACK"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "stemtrack.db"
	defaultLogLevel     = "info"
	defaultBlobDriver   = "fs"
	defaultBlobRoot     = "blobdata"
	defaultBackupDir    = "backups"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	BlobDriver   string
	BlobRoot     string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3PathStyle  bool
	BackupDir    string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("blob.driver", defaultBlobDriver)
	configViper.SetDefault("blob.fs_root", defaultBlobRoot)
	configViper.SetDefault("blob.s3_region", "")
	configViper.SetDefault("blob.s3_bucket", "")
	configViper.SetDefault("blob.s3_endpoint", "")
	configViper.SetDefault("blob.s3_path_style", false)
	configViper.SetDefault("backup.dir", defaultBackupDir)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		BlobDriver:   configViper.GetString("blob.driver"),
		BlobRoot:     configViper.GetString("blob.fs_root"),
		S3Bucket:     configViper.GetString("blob.s3_bucket"),
		S3Region:     configViper.GetString("blob.s3_region"),
		S3Endpoint:   configViper.GetString("blob.s3_endpoint"),
		S3PathStyle:  configViper.GetBool("blob.s3_path_style"),
		BackupDir:    configViper.GetString("backup.dir"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.BlobDriver)) {
	case "fs", "memory":
	case "s3":
		if strings.TrimSpace(c.S3Bucket) == "" {
			return fmt.Errorf("blob.s3_bucket is required when blob.driver is s3")
		}
	default:
		return fmt.Errorf("blob.driver must be one of fs, s3, memory")
	}
	return nil
}
