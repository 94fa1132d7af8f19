package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Dataset    DatasetConfig    `yaml:"dataset" mapstructure:"dataset"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Reports    ReportsConfig    `yaml:"reports" mapstructure:"reports"`
	EvalSet    EvalSetConfig    `yaml:"evalset" mapstructure:"evalset"`
	Candidates CandidatesConfig `yaml:"candidates" mapstructure:"candidates"`
	Judge      JudgeConfig      `yaml:"judge" mapstructure:"judge"`
	Publish    PublishConfig    `yaml:"publish" mapstructure:"publish"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig locates the embedded databases. Relative paths resolve against
// the working directory.
type StoreConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	EvalPath string `yaml:"eval_path" mapstructure:"eval_path"`
}

// OutputConfig configures where CSV reports are written.
type OutputConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	EvalDir string `yaml:"eval_dir" mapstructure:"eval_dir"`
}

// IngestConfig configures query-log ingestion.
type IngestConfig struct {
	Limit     int    `yaml:"limit" mapstructure:"limit"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
	Format    string `yaml:"format" mapstructure:"format"`
}

// DatasetConfig configures the benchmark dataset download.
type DatasetConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Split    string `yaml:"split" mapstructure:"split"`
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// SessionConfig configures sessionization.
type SessionConfig struct {
	Gap time.Duration `yaml:"gap" mapstructure:"gap"`
}

// ReportsConfig configures the query-log reports.
type ReportsConfig struct {
	TopN      int  `yaml:"top_n" mapstructure:"top_n"`
	MinEvents int  `yaml:"min_events" mapstructure:"min_events"`
	XLSX      bool `yaml:"xlsx" mapstructure:"xlsx"`
}

// EvalSetConfig configures the human evaluation sample.
type EvalSetConfig struct {
	NEvents       int   `yaml:"n_events" mapstructure:"n_events"`
	ClickedEvents int   `yaml:"clicked_events" mapstructure:"clicked_events"`
	NegPerQuery   int   `yaml:"neg_per_query" mapstructure:"neg_per_query"`
	Seed          int64 `yaml:"seed" mapstructure:"seed"`
}

// CandidatesConfig configures candidate generation.
type CandidatesConfig struct {
	TopK   int    `yaml:"topk" mapstructure:"topk"`
	Engine string `yaml:"engine" mapstructure:"engine"`
}

// JudgeConfig configures the external relevance judge.
type JudgeConfig struct {
	Provider      string        `yaml:"provider" mapstructure:"provider"`
	BaseURL       string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey        string        `yaml:"api_key" mapstructure:"api_key"`
	Model         string        `yaml:"model" mapstructure:"model"`
	PromptVersion string        `yaml:"prompt_version" mapstructure:"prompt_version"`
	PromptsFile   string        `yaml:"prompts_file" mapstructure:"prompts_file"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Sleep         time.Duration `yaml:"sleep" mapstructure:"sleep"`
	TextChars     int           `yaml:"text_chars" mapstructure:"text_chars"`
	MaxAttempts   int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	MaxTokens     int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	Seed          int64         `yaml:"seed" mapstructure:"seed"`
}

// PublishConfig configures the Postgres warehouse publisher.
type PublishConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SEARCHEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.path", "data/local.db")
	v.SetDefault("store.eval_path", "data/beir_scifact.db")
	v.SetDefault("output.dir", "outputs/query_log")
	v.SetDefault("output.eval_dir", "outputs/human_eval")
	v.SetDefault("ingest.limit", 200_000)
	v.SetDefault("ingest.batch_size", 10_000)
	v.SetDefault("ingest.format", "jsonl")
	v.SetDefault("dataset.url", "https://public.ukp.informatik.tu-darmstadt.de/thakur/BEIR/datasets/scifact.zip")
	v.SetDefault("dataset.split", "test")
	v.SetDefault("dataset.cache_dir", "data/datasets")
	v.SetDefault("session.gap", 30*time.Minute)
	v.SetDefault("reports.top_n", 50)
	v.SetDefault("reports.min_events", 5)
	v.SetDefault("reports.xlsx", false)
	v.SetDefault("evalset.n_events", 200)
	v.SetDefault("evalset.clicked_events", 120)
	v.SetDefault("evalset.neg_per_query", 9)
	v.SetDefault("evalset.seed", 7)
	v.SetDefault("candidates.topk", 10)
	v.SetDefault("candidates.engine", "fts5")
	v.SetDefault("judge.provider", "ollama")
	v.SetDefault("judge.base_url", "http://localhost:11434")
	v.SetDefault("judge.model", "llama3.1:8b")
	v.SetDefault("judge.prompt_version", "v1")
	v.SetDefault("judge.timeout", 180*time.Second)
	v.SetDefault("judge.sleep", 20*time.Millisecond)
	v.SetDefault("judge.text_chars", 600)
	v.SetDefault("judge.max_attempts", 1)
	v.SetDefault("judge.max_tokens", 256)
	v.SetDefault("judge.seed", 7)
	v.SetDefault("publish.schema", "search_eval")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "ingest":
		if c.Ingest.BatchSize <= 0 {
			errs = append(errs, "ingest.batch_size must be > 0")
		}
		if c.Ingest.Limit < 0 {
			errs = append(errs, "ingest.limit must be >= 0")
		}
	case "metrics":
		if c.Session.Gap <= 0 {
			errs = append(errs, "session.gap must be > 0")
		}
		if c.Reports.TopN <= 0 {
			errs = append(errs, "reports.top_n must be > 0")
		}
	case "candidates":
		if c.Candidates.TopK <= 0 {
			errs = append(errs, "candidates.topk must be > 0")
		}
		switch c.Candidates.Engine {
		case "fts5", "bluge":
		default:
			errs = append(errs, "candidates.engine must be one of fts5, bluge")
		}
	case "judge":
		switch c.Judge.Provider {
		case "ollama", "openai", "anthropic":
		default:
			errs = append(errs, "judge.provider must be one of ollama, openai, anthropic")
		}
		if c.Judge.Model == "" {
			errs = append(errs, "judge.model is required")
		}
		if c.Judge.Provider == "anthropic" && c.Judge.APIKey == "" {
			errs = append(errs, "judge.api_key is required for the anthropic provider")
		}
		if c.Judge.Timeout <= 0 {
			errs = append(errs, "judge.timeout must be > 0")
		}
		if c.Judge.Sleep < 0 {
			errs = append(errs, "judge.sleep must be >= 0")
		}
	case "publish":
		if c.Publish.DatabaseURL == "" {
			errs = append(errs, "publish.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
