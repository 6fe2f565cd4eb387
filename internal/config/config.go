package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string     `yaml:"env" env:"ENV" env-default:"local"`
	VideosPath string     `yaml:"videos_path" env-required:"true"`
	HTTPServer HTTPServer `yaml:"http_server"`
	DB         DB         `yaml:"db"`
	Stream     Stream     `yaml:"stream"`
	Storage    Storage    `yaml:"storage"`
	Transfers  Transfers  `yaml:"transfers"`
	Schedules  []Schedule `yaml:"schedules"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type DB struct {
	Host     string `yaml:"host" env-required:"true"`
	Port     string `yaml:"port" env-required:"true"`
	Username string `yaml:"username" env-required:"true"`
	Password string `yaml:"-" env:"POSTGRES_PASSWORD"`
	DBName   string `yaml:"dbname" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type Stream struct {
	ConnectTimeout  time.Duration `yaml:"connect_timeout" env-default:"10s"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"2s"`
	MaxReadFailures int           `yaml:"max_read_failures" env-default:"5"`
}

// Storage selects the remote backend once at startup. Mode is "s3" or "local".
type Storage struct {
	Mode      string        `yaml:"mode" env-default:"local"`
	LocalRoot string        `yaml:"local_root"`
	S3        S3            `yaml:"s3"`
	URLExpiry time.Duration `yaml:"url_expiry" env-default:"15m"`
}

type S3 struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"-" env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"-" env:"S3_SECRET_ACCESS_KEY"`
}

type Transfers struct {
	GracePeriod     time.Duration `yaml:"grace_period" env-default:"24h"`
	MaxRetries      int           `yaml:"max_retries" env-default:"5"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" env-default:"1m"`
	StaleAfter      time.Duration `yaml:"stale_after" env-default:"30m"`
	UploadTimeout   time.Duration `yaml:"upload_timeout" env-default:"10m"`
	SweepInterval   time.Duration `yaml:"sweep_interval" env-default:"5m"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env-default:"1h"`
	SweepBatchSize  int           `yaml:"sweep_batch_size" env-default:"20"`
	SweepWorkers    int           `yaml:"sweep_workers" env-default:"3"`
	SweepMaxAge     time.Duration `yaml:"sweep_max_age" env-default:"168h"`
	TempSuffix      string        `yaml:"temp_suffix" env-default:".part"`
}

type Schedule struct {
	ScheduleID string   `yaml:"schedule_id"`
	CameraID   string   `yaml:"camera_id"`
	Weekdays   []string `yaml:"weekdays"`
	StartTime  string   `yaml:"start_time"`
	Duration   string   `yaml:"duration"`
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		panic("CONFIG_PATH is required")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}
