package loopback

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config carries the values this driver needs at construction time that
// the distilled behavior leaves as open parameters: sample rate, ring
// capacity, realtime worker computation budgets, and which controls are
// enabled by default.
//
// Grounded on ijakenorton-Roundtable's cmd/config/config.go: defaults set
// with SetDefault, an optional config file layered on top, and a hard
// error (not a panic) when a value is out of range. Unlike that package's
// use of viper's global instance, each call to LoadConfig here uses its
// own *viper.Viper, so constructing more than one Device in a process (or
// in a test binary) doesn't have one config load stomp on another's.
type Config struct {
	SampleRate           float64
	RingCapacityFrames   uint64
	RTNominalComputation time.Duration
	RTMaxComputation     time.Duration
	DefaultVolumeEnabled bool
	DefaultMuteEnabled   bool
	NonRTFreeListSize    int64
	LogLevel             string
}

// DefaultConfig returns the configuration used when no config file is
// supplied.
func DefaultConfig() *Config {
	return &Config{
		SampleRate:           44100.0,
		RingCapacityFrames:   16384,
		RTNominalComputation: 50 * time.Microsecond,
		RTMaxComputation:     200 * time.Microsecond,
		DefaultVolumeEnabled: true,
		DefaultMuteEnabled:   true,
		NonRTFreeListSize:    64,
		LogLevel:             "info",
	}
}

// LoadConfig applies viper defaults, optionally layers a config file on
// top, and validates the result. An empty configFilePath skips the file
// layer entirely; a path that does not exist also falls back to the
// defaults, while a file that exists but cannot be read or parsed is an
// error.
func LoadConfig(configFilePath string) (*Config, error) {
	v := viper.New()
	setConfigDefaults(v)

	if configFilePath != "" {
		v.SetConfigFile(configFilePath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("loopback: reading config file %q: %w", configFilePath, err)
			}
		}
	}

	cfg := &Config{
		SampleRate:           v.GetFloat64("samplerate"),
		RingCapacityFrames:   uint64(v.GetInt64("ringcapacityframes")),
		RTNominalComputation: v.GetDuration("rtnominalcomputation"),
		RTMaxComputation:     v.GetDuration("rtmaxcomputation"),
		DefaultVolumeEnabled: v.GetBool("volumeenabled"),
		DefaultMuteEnabled:   v.GetBool("muteenabled"),
		NonRTFreeListSize:    v.GetInt64("nonrtfreelistsize"),
		LogLevel:             v.GetString("loglevel"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setConfigDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("samplerate", d.SampleRate)
	v.SetDefault("ringcapacityframes", d.RingCapacityFrames)
	v.SetDefault("rtnominalcomputation", d.RTNominalComputation.String())
	v.SetDefault("rtmaxcomputation", d.RTMaxComputation.String())
	v.SetDefault("volumeenabled", d.DefaultVolumeEnabled)
	v.SetDefault("muteenabled", d.DefaultMuteEnabled)
	v.SetDefault("nonrtfreelistsize", d.NonRTFreeListSize)
	v.SetDefault("loglevel", d.LogLevel)
}

func (c *Config) validate() error {
	if c.SampleRate < 1 || c.SampleRate > 1e9 {
		return fmt.Errorf("loopback: sample rate %f out of range [1, 1e9]", c.SampleRate)
	}
	if c.RingCapacityFrames == 0 {
		return fmt.Errorf("loopback: ring capacity must be positive")
	}
	if c.RTMaxComputation < c.RTNominalComputation {
		return fmt.Errorf("loopback: rtmaxcomputation must be >= rtnominalcomputation")
	}
	if c.NonRTFreeListSize <= 0 {
		return fmt.Errorf("loopback: nonrtfreelistsize must be positive")
	}
	return nil
}
