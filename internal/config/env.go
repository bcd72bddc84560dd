package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY" required:"true"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".crewline/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"crewline/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

// ExecutorEnv configures automatic step execution.
type ExecutorEnv struct {
	AutoExecuteEnabled bool          `envconfig:"AUTO_EXECUTE_ENABLED" default:"true"`
	Concurrency        int           `envconfig:"AUTO_EXECUTE_CONCURRENCY" default:"3"`
	Backend            string        `envconfig:"EXECUTOR_BACKEND" default:"openai"`
	Timeout            time.Duration `envconfig:"EXECUTOR_TIMEOUT" default:"120s"`
	// OpenAI-compatible backend settings.
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL" default:"https://dashscope.aliyuncs.com/compatible-mode/v1"`
	ExecutionModel string `envconfig:"EXECUTION_MODEL" default:"qwen-max-latest"`
	FastModel      string `envconfig:"FAST_MODEL" default:"qwen-turbo"`
	// Claude backend settings.
	ClaudeWorkDir string `envconfig:"CLAUDE_WORK_DIR" default:"."`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `envconfig:"VAPID_SUBJECT" default:"mailto:admin@crewline.dev"`
}

type Env struct {
	BaseEnv
	StorageEnv
	ExecutorEnv
	VAPIDEnv
}

const namespace = "CREWLINE"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func BaseEnvFromEnv(env *Env) *BaseEnv {
	return &env.BaseEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func ExecutorEnvFromEnv(env *Env) *ExecutorEnv {
	return &env.ExecutorEnv
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}
