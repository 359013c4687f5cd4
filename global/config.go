package global

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Conf global config
var Conf Config

type Config struct {
	Version    string           `yaml:"version"`
	Host       string           `yaml:"host" validate:"required"`
	Port       int              `yaml:"port" validate:"required,min=1,max=65535"`
	Mode       string           `yaml:"mode" validate:"oneof=debug release test"`
	Scheme     string           `yaml:"scheme" validate:"oneof=http https"`
	Codename   CodenameConfig   `yaml:"codename"`
	Keys       KeysConfig       `yaml:"keys"`
	Storage    StorageConfig    `yaml:"storage"`
	Operator   OperatorConfig   `yaml:"operator"`
	Database   DatabaseConfig   `yaml:"database"`
	CouchDB    CouchDBConfig    `yaml:"couchdb"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      Queue            `yaml:"queue"`
	Session    SessionConfig    `yaml:"session"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// CodenameConfig holds the secret phrase policy and the work factors of the
// storage identifier derivation. Changing the peppers or scrypt parameters
// orphans every existing source.
type CodenameConfig struct {
	DefaultWords  int    `yaml:"defaultWords" validate:"min=1"`
	MinWords      int    `yaml:"minWords" validate:"min=1"`
	MaxWords      int    `yaml:"maxWords" validate:"gtefield=MinWords"`
	IDPepper      string `yaml:"idPepper" validate:"required"`
	DisplayPepper string `yaml:"displayPepper" validate:"required"`
	ScryptN       int    `yaml:"scryptN" validate:"min=2"`
	ScryptR       int    `yaml:"scryptR" validate:"min=1"`
	ScryptP       int    `yaml:"scryptP" validate:"min=1"`
}

type KeysConfig struct {
	Dir           string `yaml:"dir" validate:"required"`
	Bits          int    `yaml:"bits" validate:"min=1024"`
	Argon2Time    uint32 `yaml:"argon2Time" validate:"min=1"`
	Argon2Memory  uint32 `yaml:"argon2Memory" validate:"min=8"` // KiB
	Argon2Threads uint8  `yaml:"argon2Threads" validate:"min=1"`
}

type StorageConfig struct {
	StoreDir           string `yaml:"storeDir" validate:"required"`
	SecureDeletePasses int    `yaml:"secureDeletePasses" validate:"min=1"`
	MaxUploadBytes     int64  `yaml:"maxUploadBytes" validate:"min=1"`
}

type OperatorConfig struct {
	PublicKeyPath string `yaml:"publicKeyPath" validate:"required"`
	KeyName       string `yaml:"keyName" validate:"required"`
}

type DatabaseConfig struct {
	Type string `yaml:"type" validate:"oneof=badger couchdb"`
	Path string `yaml:"path"`
}

type CouchDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Scheme   string `yaml:"scheme"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
}

// Queue selects the task runner. "asynq" requires redis, "local" runs jobs
// in-process.
type Queue struct {
	Type        string `yaml:"type" validate:"oneof=asynq local"`
	Concurrency int    `yaml:"concurrency"`
	MaxRetry    int    `yaml:"maxRetry"`
	SecretHex   string `yaml:"secretHex" validate:"omitempty,hexadecimal,len=64"`
}

type SessionConfig struct {
	SecretHex       string `yaml:"secretHex" validate:"required,hexadecimal,len=64"`
	LifetimeMinutes int    `yaml:"lifetimeMinutes" validate:"min=1"`
	CookieName      string `yaml:"cookieName"`
}

type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	PerMinute int  `yaml:"perMinute"`
}

type PrometheusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DefaultConfig returns a config with every tunable set to its production
// default. Secrets and paths still have to be supplied by conf.yaml.
func DefaultConfig() Config {
	return Config{
		Version: "0.1.0",
		Host:    "127.0.0.1",
		Port:    8080,
		Mode:    "release",
		Scheme:  "http",
		Codename: CodenameConfig{
			DefaultWords: 8,
			MinWords:     7,
			MaxWords:     10,
			ScryptN:      1 << 14,
			ScryptR:      8,
			ScryptP:      1,
		},
		Keys: KeysConfig{
			Bits:          4096,
			Argon2Time:    3,
			Argon2Memory:  64 * 1024,
			Argon2Threads: 4,
		},
		Storage: StorageConfig{
			SecureDeletePasses: 1,
			MaxUploadBytes:     500 * 1024 * 1024,
		},
		Database: DatabaseConfig{
			Type: "badger",
		},
		Queue: Queue{
			Type:        "local",
			Concurrency: 2,
			MaxRetry:    5,
		},
		Session: SessionConfig{
			LifetimeMinutes: 120,
			CookieName:      "__sourcedrop-session",
		},
		RateLimit: RateLimitConfig{
			PerMinute: 10,
		},
	}
}

// LoadConfig reads a yaml file over the defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return conf, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := validator.New().Struct(conf); err != nil {
		return conf, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if conf.Queue.Type == "asynq" && conf.Queue.SecretHex == "" {
		return conf, fmt.Errorf("invalid config %s: queue.secretHex is required for the asynq queue", path)
	}
	return conf, nil
}
