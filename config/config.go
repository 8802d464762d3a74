// Package config 读取YAML配置并应用环境变量覆盖
package config

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"studentperf/logging"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "STUDENTPERF_"

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		MaxUploadBytes int64         `yaml:"max_upload_bytes"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Log      logging.Config `yaml:"log"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Model struct {
		Path      string `yaml:"path"`
		CacheSize int    `yaml:"cache_size"`
		Watch     bool   `yaml:"watch"`
	} `yaml:"model"`
	Schema struct {
		FoldFeatureCase bool `yaml:"fold_feature_case"`
	} `yaml:"schema"`
	Training struct {
		DataPath string  `yaml:"data_path"`
		TestSize float64 `yaml:"test_size"`
		Seed     int64   `yaml:"seed"`
		Trees    int     `yaml:"trees"`
		MaxDepth int     `yaml:"max_depth"`
		Jobs     int     `yaml:"jobs"`
	} `yaml:"training"`
}

// Default 返回所有键的默认值
func Default() *Config {
	cfg := &Config{}
	cfg.Http.Port = 8080
	cfg.Http.Timeout = 30 * time.Second
	cfg.Http.MaxUploadBytes = 32 << 20
	cfg.Http.AllowedOrigins = []string{"*"}
	cfg.Log = logging.DefaultConfig()
	cfg.Database.Path = "data/studentperf.db"
	cfg.Model.Path = "models/student_model.json"
	cfg.Model.CacheSize = 4096
	cfg.Training.DataPath = "data/student_training.csv"
	cfg.Training.TestSize = 0.2
	cfg.Training.Seed = 42
	cfg.Training.Trees = 300
	return cfg
}

// Load 读取配置文件。文件不存在时使用默认值，随后应用环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil && err != io.EOF {
				return nil, errors.Wrapf(err, "decode config %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrap(err, "open config")
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"MODEL_PATH":    &c.Model.Path,
		"DATABASE_PATH": &c.Database.Path,
		"DATA_PATH":     &c.Training.DataPath,
		"LOG_LEVEL":     &c.Log.Level,
		"LOG_FORMAT":    &c.Log.Format,
		"LOG_FILE":      &c.Log.File,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HTTP_PORT":        &c.Http.Port,
		"MODEL_CACHE_SIZE": &c.Model.CacheSize,
		"TRAINING_JOBS":    &c.Training.Jobs,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s%s", EnvPrefix, key)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "MODEL_WATCH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%sMODEL_WATCH", EnvPrefix)
		}
		c.Model.Watch = b
	}
	return nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return errors.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.Model.CacheSize < 0 {
		return errors.New("model.cache_size must not be negative")
	}
	if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
		return errors.Errorf("training.test_size %v must be in (0, 1)", c.Training.TestSize)
	}
	if c.Training.Trees <= 0 {
		return errors.New("training.trees must be positive")
	}
	if c.Training.MaxDepth < 0 {
		return errors.New("training.max_depth must not be negative")
	}
	return nil
}
