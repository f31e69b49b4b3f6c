package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const envPrefix = "AVMUX"

var v *viper.Viper

func init() {
	v = newConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func newConfig() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// Environment variables: every key binds AVMUX_<SECTION>_<NAME>. Keys are
	// bound one by one so a variable named after a section never shadows
	// the keys below it.
	for _, key := range v.AllKeys() {
		v.BindEnv(key, envName(key))
	}
	v.BindEnv("output.format", envName("output.format"), "AVMUX_FORMAT")
	v.BindEnv("log.verbose", envName("log.verbose"), "AVMUX_VERBOSE")
	v.BindEnv("mux.max_interleave_delta", envName("mux.max_interleave_delta"), "AVMUX_MAX_INTERLEAVE_DELTA")

	// Config file
	v.SetConfigName("avmux")
	v.SetConfigType("yaml")

	configPaths := []string{
		".",
		filepath.Join(xdg.ConfigHome, "avmux"),
		"/etc/avmux",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}
	return v
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.format", "flv")
	v.SetDefault("output.path", "out.flv")

	v.SetDefault("video.width", 1280)
	v.SetDefault("video.height", 720)
	v.SetDefault("video.pixel_format", "yuv420p")
	v.SetDefault("video.fps", 30)

	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.sample_format", "s16")

	v.SetDefault("hls.segment_duration", 10)

	v.SetDefault("mux.max_interleave_delta", 10000000)
	v.SetDefault("mux.interleave", true)

	v.SetDefault("log.verbose", false)
	v.SetDefault("log.format", "text")
}

// LoadFile replaces the searched configuration with an explicit file.
func LoadFile(path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// ConfigFileUsed returns the configuration file in effect, if any.
func ConfigFileUsed() string {
	return v.ConfigFileUsed()
}

// GetOutputFormat returns the container format name
func GetOutputFormat() string {
	return v.GetString("output.format")
}

// GetOutputPath returns the output file or playlist path
func GetOutputPath() string {
	return v.GetString("output.path")
}

// GetVideoSize returns the default picture size used when the stream does
// not carry one.
func GetVideoSize() (width, height int) {
	return v.GetInt("video.width"), v.GetInt("video.height")
}

func GetVideoPixelFormat() string {
	return v.GetString("video.pixel_format")
}

// GetVideoFPS returns the frame rate used to time raw H.264 input.
func GetVideoFPS() int {
	return v.GetInt("video.fps")
}

func GetAudioSampleRate() int {
	return v.GetInt("audio.sample_rate")
}

// GetAudioChannels returns the audio channel count
func GetAudioChannels() int {
	return v.GetInt("audio.channels")
}

func GetAudioSampleFormat() string {
	return v.GetString("audio.sample_format")
}

// GetHLSSegmentDuration returns the target HLS segment length in seconds
func GetHLSSegmentDuration() int {
	return v.GetInt("hls.segment_duration")
}

// GetMaxInterleaveDelta returns the interleaving buffer limit in microseconds
func GetMaxInterleaveDelta() int64 {
	return v.GetInt64("mux.max_interleave_delta")
}

// GetInterleave reports whether packets go through the interleaver
func GetInterleave() bool {
	return v.GetBool("mux.interleave")
}

func GetLogVerbose() bool {
	return v.GetBool("log.verbose")
}

func GetLogFormat() string {
	return v.GetString("log.format")
}

// Set overrides a key, as command line flags do.
func Set(key string, value interface{}) {
	v.Set(key, value)
}

// AllSettings returns the effective configuration as a nested map.
func AllSettings() map[string]interface{} {
	return v.AllSettings()
}

// MarshalTOML renders the effective configuration as TOML.
func MarshalTOML() ([]byte, error) {
	b, err := toml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return b, nil
}

// AllKeys returns every known key, sorted.
func AllKeys() []string {
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// Get returns the effective value of key.
func Get(key string) interface{} {
	return v.Get(key)
}
