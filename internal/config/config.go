// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Dispatch modes.
const (
	DispatchInProc = "inproc"
	DispatchRedis  = "redis"
)

// Job store kinds.
const (
	JobStoreMemory   = "memory"
	JobStorePostgres = "postgres"
)

// Inference invoker modes.
const (
	InferenceHTTP    = "http"
	InferenceCommand = "command"
)

// Role is the process the configuration is loaded for.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

// Config is the full service configuration.
type Config struct {
	Role Role

	Log        LogConfig
	HTTP       HTTPConfig
	Dispatch   DispatchConfig
	Redis      RedisConfig
	Staging    StagingConfig
	Inference  InferenceConfig
	Compositor CompositorConfig
	Storage    StorageConfig
	JobStore   JobStoreConfig

	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

type HTTPConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
}

type DispatchConfig struct {
	Mode        string
	Concurrency int
	QueueDepth  int
	RetryAfter  time.Duration
	QueueKey    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StagingConfig struct {
	Root         string
	CleanupLocal bool
}

type InferenceConfig struct {
	Mode    string
	URL     string
	Command []string
	WorkDir string
	Timeout time.Duration
}

type CompositorConfig struct {
	FFmpegPath  string
	VideoCodec  string
	Preset      string
	RCLookahead int
	Timeout     time.Duration
}

type StorageConfig struct {
	Provider string
	Bucket   string

	S3Region       string
	S3Endpoint     string
	S3UsePathStyle bool
	S3AccessKeyID  string
	S3SecretKey    string

	LocalRoot string

	GDriveClientID     string
	GDriveClientSecret string
	GDriveRefreshToken string
	GDriveFolderID     string
}

type JobStoreConfig struct {
	Kind        string
	DatabaseURL string

	// StaleAfter is how long a queued or running job may go without a
	// recorded transition before the sweeper fails it as abandoned.
	StaleAfter    time.Duration
	SweepInterval time.Duration

	// Retention and MaxRecords bound the in-memory store.
	Retention  time.Duration
	MaxRecords int
}

// Load reads an optional .env file and then the process environment.
func Load(role Role) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(role)
}

// FromEnv builds and validates a Config from the current environment.
func FromEnv(role Role) (Config, error) {
	var (
		cfg  = Config{Role: role}
		errs []error
		err  error
	)

	collect := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}

	cfg.Log = LogConfig{
		Level:     Env("LOG_LEVEL", "info"),
		Format:    Env("LOG_FORMAT", "json"),
		AddSource: BoolEnv("LOG_SOURCE", false),
	}

	cfg.HTTP.Port = Env("HTTP_PORT", "8080")
	cfg.HTTP.ReadTimeout, err = DurationEnv("HTTP_READ_TIMEOUT", 5*time.Minute)
	collect(err)
	cfg.HTTP.WriteTimeout, err = DurationEnv("HTTP_WRITE_TIMEOUT", 5*time.Minute)
	collect(err)
	cfg.HTTP.RequestTimeout, err = DurationEnv("HTTP_REQUEST_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.HTTP.MaxUploadBytes, err = Int64Env("MAX_UPLOAD_BYTES", 512<<20)
	collect(err)
	cfg.HTTP.AllowedOrigins = splitList(Env("CORS_ALLOWED_ORIGINS", ""))

	cfg.Dispatch.Mode = strings.ToLower(Env("DISPATCH_MODE", DispatchInProc))
	cfg.Dispatch.Concurrency, err = IntEnv("WORKER_CONCURRENCY", 1)
	collect(err)
	cfg.Dispatch.QueueDepth, err = IntEnv("QUEUE_DEPTH", 16)
	collect(err)
	cfg.Dispatch.RetryAfter, err = DurationEnv("DISPATCH_RETRY_AFTER", 30*time.Second)
	collect(err)
	cfg.Dispatch.QueueKey = Env("REDIS_QUEUE_KEY", "echomimic:jobs")

	cfg.Redis.Addr = Env("REDIS_ADDR", "")
	cfg.Redis.Password = Env("REDIS_PASSWORD", "")
	cfg.Redis.DB, err = IntEnv("REDIS_DB", 0)
	collect(err)

	cfg.Staging.Root = Env("STAGING_ROOT", "./staging")
	cfg.Staging.CleanupLocal = BoolEnv("CLEANUP_LOCAL", true)

	cfg.Inference.Mode = strings.ToLower(Env("INFERENCE_MODE", InferenceHTTP))
	cfg.Inference.URL = Env("INFERENCE_URL", "")
	cfg.Inference.Command = strings.Fields(Env("INFERENCE_COMMAND", ""))
	cfg.Inference.WorkDir = Env("INFERENCE_WORKDIR", "")
	cfg.Inference.Timeout, err = DurationEnv("INFERENCE_TIMEOUT", 2*time.Hour)
	collect(err)

	cfg.Compositor.FFmpegPath = Env("FFMPEG_PATH", "ffmpeg")
	cfg.Compositor.VideoCodec = Env("FFMPEG_VIDEO_CODEC", "h264_nvenc")
	cfg.Compositor.Preset = Env("FFMPEG_PRESET", "fast")
	cfg.Compositor.RCLookahead, err = IntEnv("FFMPEG_RC_LOOKAHEAD", 32)
	collect(err)
	cfg.Compositor.Timeout, err = DurationEnv("FFMPEG_TIMEOUT", 30*time.Minute)
	collect(err)

	cfg.Storage.Provider = strings.ToLower(Env("STORAGE_PROVIDER", "s3"))
	cfg.Storage.Bucket = Env("BUCKET_NAME", Env("BucketName", ""))
	cfg.Storage.S3Region = Env("AWS_REGION", "")
	cfg.Storage.S3Endpoint = Env("S3_ENDPOINT", "")
	cfg.Storage.S3UsePathStyle = BoolEnv("S3_USE_PATH_STYLE", false)
	cfg.Storage.S3AccessKeyID = Env("S3_ACCESS_KEY_ID", "")
	cfg.Storage.S3SecretKey = Env("S3_SECRET_ACCESS_KEY", "")
	cfg.Storage.LocalRoot = Env("STORAGE_LOCAL_ROOT", "")
	cfg.Storage.GDriveClientID = Env("GDRIVE_CLIENT_ID", "")
	cfg.Storage.GDriveClientSecret = Env("GDRIVE_CLIENT_SECRET", "")
	cfg.Storage.GDriveRefreshToken = Env("GDRIVE_REFRESH_TOKEN", "")
	cfg.Storage.GDriveFolderID = Env("GDRIVE_FOLDER_ID", "")

	cfg.JobStore.Kind = strings.ToLower(Env("JOB_STORE", JobStoreMemory))
	cfg.JobStore.DatabaseURL = Env("DATABASE_URL", "")
	cfg.JobStore.StaleAfter, err = DurationEnv("JOB_STALE_AFTER", defaultStaleAfter(cfg))
	collect(err)
	cfg.JobStore.SweepInterval, err = DurationEnv("JOB_SWEEP_INTERVAL", 10*time.Minute)
	collect(err)
	cfg.JobStore.Retention, err = DurationEnv("JOB_RETENTION", 24*time.Hour)
	collect(err)
	cfg.JobStore.MaxRecords, err = IntEnv("JOB_MAX_RECORDS", 10000)
	collect(err)

	cfg.ShutdownTimeout, err = DurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second)
	collect(err)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	var errs []error

	if c.Dispatch.Concurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be >= 1"))
	}
	if c.Dispatch.QueueDepth < 1 {
		errs = append(errs, errors.New("QUEUE_DEPTH must be >= 1"))
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be > 0"))
	}

	switch c.Dispatch.Mode {
	case DispatchInProc:
	case DispatchRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when DISPATCH_MODE=redis"))
		}
		if c.JobStore.Kind != JobStorePostgres {
			errs = append(errs, errors.New("JOB_STORE=postgres is required when DISPATCH_MODE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DISPATCH_MODE %q", c.Dispatch.Mode))
	}

	if busy := c.Inference.Timeout + c.Compositor.Timeout; c.JobStore.StaleAfter <= busy {
		errs = append(errs, fmt.Errorf("JOB_STALE_AFTER must exceed INFERENCE_TIMEOUT + FFMPEG_TIMEOUT (%s)", busy))
	}
	if c.JobStore.SweepInterval < 0 {
		errs = append(errs, errors.New("JOB_SWEEP_INTERVAL must be >= 0"))
	}
	if c.JobStore.Retention <= 0 || c.JobStore.MaxRecords < 1 {
		errs = append(errs, errors.New("JOB_RETENTION and JOB_MAX_RECORDS must be positive"))
	}

	switch c.JobStore.Kind {
	case JobStoreMemory:
	case JobStorePostgres:
		if c.JobStore.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when JOB_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown JOB_STORE %q", c.JobStore.Kind))
	}

	if c.RunsPipeline() {
		errs = append(errs, c.validateInference()...)
	}

	switch c.Storage.Provider {
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("BUCKET_NAME is required when STORAGE_PROVIDER=s3"))
		}
	case "localfs":
		if c.Storage.LocalRoot == "" {
			errs = append(errs, errors.New("STORAGE_LOCAL_ROOT is required when STORAGE_PROVIDER=localfs"))
		}
	case "gdrive":
		if c.Storage.GDriveClientID == "" || c.Storage.GDriveClientSecret == "" || c.Storage.GDriveRefreshToken == "" {
			errs = append(errs, errors.New("GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN are required when STORAGE_PROVIDER=gdrive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_PROVIDER %q", c.Storage.Provider))
	}

	return errors.Join(errs...)
}

// RunsPipeline reports whether this process executes jobs: the worker always
// does, the API only when dispatching in-process.
func (c Config) RunsPipeline() bool {
	return c.Role == RoleWorker || c.Dispatch.Mode == DispatchInProc
}

// defaultStaleAfter covers a job that waits behind a full queue and then runs
// both stages to their timeouts, plus an hour of slack.
func defaultStaleAfter(cfg Config) time.Duration {
	workers := max(cfg.Dispatch.Concurrency, 1)
	waves := time.Duration(max(cfg.Dispatch.QueueDepth, 0)/workers + 1)
	return waves*(cfg.Inference.Timeout+cfg.Compositor.Timeout) + time.Hour
}

func (c Config) validateInference() []error {
	switch c.Inference.Mode {
	case InferenceHTTP:
		if c.Inference.URL == "" {
			return []error{errors.New("INFERENCE_URL is required when INFERENCE_MODE=http")}
		}
	case InferenceCommand:
		if len(c.Inference.Command) == 0 {
			return []error{errors.New("INFERENCE_COMMAND is required when INFERENCE_MODE=command")}
		}
	default:
		return []error{fmt.Errorf("unknown INFERENCE_MODE %q", c.Inference.Mode)}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
