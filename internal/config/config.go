package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration struct
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Request  RequestConfig  `mapstructure:"request"`
	Teleport TeleportConfig `mapstructure:"teleport"`
	Home     HomeConfig     `mapstructure:"home"`
	History  HistoryConfig  `mapstructure:"history"`
	API      APIConfig      `mapstructure:"api"`
	Log      LogConfig      `mapstructure:"log"`

	// File is the config file that was read, or the file named explicitly
	// when it does not exist yet. Empty if neither applies.
	File string `mapstructure:"-"`
	// Absent is set when File was named explicitly but could not be found.
	Absent bool `mapstructure:"-"`
	// MissingKeys lists settings absent from File that were filled with defaults.
	MissingKeys []string `mapstructure:"-"`
}

// StorageConfig holds where and how player data is kept
type StorageConfig struct {
	DataDir string `mapstructure:"dataDir"`
	Backend string `mapstructure:"backend"`
}

// RequestConfig holds teleport request settings
type RequestConfig struct {
	ExpireTime time.Duration `mapstructure:"expireTime"`
}

// TeleportConfig holds teleport settings
type TeleportConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

// HomeConfig holds home settings
type HomeConfig struct {
	MaxCount int `mapstructure:"maxCount"`
}

// HistoryConfig holds back settings
type HistoryConfig struct {
	ExpireTime time.Duration `mapstructure:"expireTime"`
}

// APIConfig holds the REST endpoint configuration
type APIConfig struct {
	Addr      string  `mapstructure:"addr"`
	RateLimit float64 `mapstructure:"rateLimit"`
	Burst     int     `mapstructure:"burst"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Verbose bool   `mapstructure:"verbose"`
	File    string `mapstructure:"file"`
}

// DefaultFile is where a config is saved when none was loaded.
const DefaultFile = "config.yml"

// durationUnits gives the unit of settings written as bare numbers, e.g.
// `expireTime: 60`.
var durationUnits = map[string]time.Duration{
	"request.expireTime": time.Second,
	"teleport.delay":     time.Second,
	"history.expireTime": time.Hour,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.dataDir", "./data")
	v.SetDefault("storage.backend", "file")
	v.SetDefault("request.expireTime", 60*time.Second)
	v.SetDefault("teleport.delay", 5*time.Second)
	v.SetDefault("home.maxCount", 10)
	v.SetDefault("history.expireTime", 24*time.Hour)
	v.SetDefault("api.addr", "127.0.0.1:8686")
	v.SetDefault("api.rateLimit", 20.0)
	v.SetDefault("api.burst", 40)
	v.SetDefault("log.verbose", false)
	v.SetDefault("log.file", "")
}

// Load reads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("WAYPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		found = false
	}

	applyDurationUnits(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if found {
		cfg.File = v.ConfigFileUsed()
		for _, key := range v.AllKeys() {
			if !v.InConfig(key) {
				cfg.MissingKeys = append(cfg.MissingKeys, key)
			}
		}
		sort.Strings(cfg.MissingKeys)
	} else if cfgFile != "" {
		cfg.File = cfgFile
		cfg.Absent = true
	}
	return cfg, nil
}

// applyDurationUnits rewrites bare numbers of duration settings into
// durations, so they are not decoded as nanoseconds.
func applyDurationUnits(v *viper.Viper) {
	for key, unit := range durationUnits {
		if n, ok := bareNumber(v.Get(key)); ok {
			v.Set(key, time.Duration(n*float64(unit)))
		}
	}
}

func bareNumber(raw any) (float64, bool) {
	switch n := raw.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "file", "pebble", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.dataDir: must not be empty"))
	}
	if c.Request.ExpireTime <= 0 {
		errs = append(errs, fmt.Errorf("request.expireTime: must be positive, got %s", c.Request.ExpireTime))
	}
	if c.Teleport.Delay < 0 {
		errs = append(errs, fmt.Errorf("teleport.delay: must not be negative, got %s", c.Teleport.Delay))
	}
	if c.Home.MaxCount < 1 {
		errs = append(errs, fmt.Errorf("home.maxCount: must be at least 1, got %d", c.Home.MaxCount))
	}
	if c.History.ExpireTime <= 0 {
		errs = append(errs, fmt.Errorf("history.expireTime: must be positive, got %s", c.History.ExpireTime))
	}
	if c.API.Burst < 0 {
		errs = append(errs, fmt.Errorf("api.burst: must not be negative, got %d", c.API.Burst))
	}
	return errors.Join(errs...)
}
