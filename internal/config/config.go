package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/cnclabs/tkge/internal/models/kge"
)

// Config holds all configuration for a training and evaluation run.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Data   DataConfig   `mapstructure:"data"`
	Model  kge.Config   `mapstructure:"model"`
	Train  TrainConfig  `mapstructure:"train"`
	Eval   EvalConfig   `mapstructure:"eval"`
	Output OutputConfig `mapstructure:"output"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DataConfig names the temporal fact files. Relative file names are resolved
// against Path.
type DataConfig struct {
	Path  string `mapstructure:"path"`
	Train string `mapstructure:"train"`
	Valid string `mapstructure:"valid"`
	Test  string `mapstructure:"test"`
}

// File resolves one of the data file names.
func (d DataConfig) File(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Path, name)
}

// TrainConfig holds the training loop settings.
type TrainConfig struct {
	BatchSize          int  `mapstructure:"batch_size"`
	NegativeSampleSize int  `mapstructure:"negative_sample_size"`
	MaxSteps           int  `mapstructure:"max_steps"`
	LogSteps           int  `mapstructure:"log_steps"`
	ValidSteps         int  `mapstructure:"valid_steps"`
	DoValid            bool `mapstructure:"do_valid"`
	DoTest             bool `mapstructure:"do_test"`
}

// EvalConfig holds the evaluation settings.
type EvalConfig struct {
	BatchSize int    `mapstructure:"batch_size"`
	Workers   int    `mapstructure:"workers"`
	LogSteps  int    `mapstructure:"log_steps"`
	Report    string `mapstructure:"report"`
}

// OutputConfig names the embedding export files. Empty names skip the export.
type OutputConfig struct {
	EntityFile   string `mapstructure:"entity_file"`
	RelationFile string `mapstructure:"relation_file"`
}

// NewViper returns a viper instance with every default set and environment
// overrides enabled under the TKGE_ prefix, e.g. TKGE_MODEL_GAMMA.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TKGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	model := kge.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("data.path", ".")
	v.SetDefault("data.train", "train.txt")
	v.SetDefault("data.valid", "valid.txt")
	v.SetDefault("data.test", "test.txt")

	v.SetDefault("model.model_name", model.ModelName)
	v.SetDefault("model.nentity", 0)
	v.SetDefault("model.nrelation", 0)
	v.SetDefault("model.hidden_dim", model.HiddenDim)
	v.SetDefault("model.gamma", model.Gamma)
	v.SetDefault("model.double_entity_embedding", false)
	v.SetDefault("model.double_relation_embedding", false)
	v.SetDefault("model.double_tem_embedding", false)
	v.SetDefault("model.negative_adversarial_sampling", false)
	v.SetDefault("model.adversarial_temperature", model.AdversarialTemperature)
	v.SetDefault("model.uni_weight", false)
	v.SetDefault("model.regularization", 0.0)
	v.SetDefault("model.cuda", false)
	v.SetDefault("model.learning_rate", model.LearningRate)
	v.SetDefault("model.seed", model.Seed)

	v.SetDefault("train.batch_size", 1024)
	v.SetDefault("train.negative_sample_size", 128)
	v.SetDefault("train.max_steps", 100000)
	v.SetDefault("train.log_steps", 100)
	v.SetDefault("train.valid_steps", 10000)
	v.SetDefault("train.do_valid", true)
	v.SetDefault("train.do_test", true)

	v.SetDefault("eval.batch_size", 16)
	v.SetDefault("eval.workers", 4)
	v.SetDefault("eval.log_steps", 1000)
	v.SetDefault("eval.report", "")

	v.SetDefault("output.entity_file", "")
	v.SetDefault("output.relation_file", "")
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the run settings. Model settings are checked by kge.New
// once the entity and relation counts are known.
func (c *Config) Validate() error {
	switch {
	case c.Train.BatchSize <= 0:
		return fmt.Errorf("train.batch_size must be positive, got %d", c.Train.BatchSize)
	case c.Train.NegativeSampleSize <= 0:
		return fmt.Errorf("train.negative_sample_size must be positive, got %d", c.Train.NegativeSampleSize)
	case c.Train.MaxSteps <= 0:
		return fmt.Errorf("train.max_steps must be positive, got %d", c.Train.MaxSteps)
	case c.Eval.BatchSize <= 0:
		return fmt.Errorf("eval.batch_size must be positive, got %d", c.Eval.BatchSize)
	case c.Eval.Workers <= 0:
		return fmt.Errorf("eval.workers must be positive, got %d", c.Eval.Workers)
	case c.Data.Train == "":
		return fmt.Errorf("data.train is required")
	}
	return nil
}
