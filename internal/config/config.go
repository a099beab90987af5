package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PanelConfig describes how the e-paper panel is wired.
type PanelConfig struct {
	// Width and Height are the panel size in pixels (source x gate lines).
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// SPIPort is a periph spireg name; "" opens the first port
	// (typically /dev/spidev0.0).
	SPIPort string `yaml:"spi_port" json:"spi_port"`
	// SPIHz is the bus clock.
	SPIHz int64 `yaml:"spi_hz" json:"spi_hz"`

	// Pins are periph gpioreg names such as "GPIO25". CSPin may be empty
	// when the SPI port drives chip select.
	DCPin   string `yaml:"dc_pin" json:"dc_pin"`
	CSPin   string `yaml:"cs_pin" json:"cs_pin"`
	RSTPin  string `yaml:"rst_pin" json:"rst_pin"`
	BusyPin string `yaml:"busy_pin" json:"busy_pin"`

	// BusyTimeout bounds busy waits (e.g. "60s"). Empty waits forever.
	BusyTimeout string `yaml:"busy_timeout" json:"busy_timeout"`
}

// RefreshConfig controls what is shown and when.
type RefreshConfig struct {
	// Cron is a 5-field cron schedule (e.g. "*/30 * * * *").
	Cron string `yaml:"cron" json:"cron"`
	// Image is a file path or an http(s) URL of the frame image.
	Image string `yaml:"image" json:"image"`
	// CacheDir stores fetched images and the last preview.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// SleepAfter puts the panel into deep sleep after each refresh.
	SleepAfter bool `yaml:"sleep_after" json:"sleep_after"`
	// Fit scales images that do not match the panel size instead of
	// rejecting them.
	Fit bool `yaml:"fit" json:"fit"`
}

// LinkConfig controls network link supervision.
type LinkConfig struct {
	// Enabled starts the refresh schedule only while the link is up.
	// When false the schedule runs unconditionally.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Interface is the network interface to watch, e.g. "wlan0".
	Interface string `yaml:"interface" json:"interface"`
	// Poll is how often the link state is sampled (e.g. "5s").
	Poll string `yaml:"poll" json:"poll"`
	// Retry is the minimum time between reconnect attempts while the link
	// stays down (e.g. "30s").
	Retry string `yaml:"retry" json:"retry"`
	// Reconnect is the command run to (re)associate; "{iface}" is replaced
	// by Interface.
	Reconnect []string `yaml:"reconnect" json:"reconnect"`
}

// StatusLEDConfig is the heartbeat LED.
type StatusLEDConfig struct {
	// Pin is a gpioreg name; empty disables the LED.
	Pin    string `yaml:"pin" json:"pin"`
	Period string `yaml:"period" json:"period"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Listen is the HTTP listen address for the status API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	Panel     PanelConfig     `yaml:"panel" json:"panel"`
	Refresh   RefreshConfig   `yaml:"refresh" json:"refresh"`
	Link      LinkConfig      `yaml:"link" json:"link"`
	StatusLED StatusLEDConfig `yaml:"status_led" json:"status_led"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns the configuration for a Waveshare 7.5" (B) HAT on a
// Raspberry Pi.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Listen:   "127.0.0.1:8080",
		Panel: PanelConfig{
			Width:   640,
			Height:  384,
			SPIHz:   2_000_000,
			DCPin:   "GPIO25",
			RSTPin:  "GPIO17",
			BusyPin: "GPIO24",
		},
		Refresh: RefreshConfig{
			Cron:       "*/30 * * * *",
			Image:      "/var/lib/epaper/frame.png",
			CacheDir:   "/var/lib/epaper/cache",
			SleepAfter: true,
		},
		Link: LinkConfig{
			Enabled:   false,
			Interface: "wlan0",
			Poll:      "5s",
			Retry:     "30s",
			Reconnect: []string{"wpa_cli", "-i", "{iface}", "reconnect"},
		},
		StatusLED: StatusLEDConfig{
			Pin:    "",
			Period: "300ms",
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled files still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Panel.Width <= 0 {
		c.Panel.Width = def.Panel.Width
	}
	if c.Panel.Height <= 0 {
		c.Panel.Height = def.Panel.Height
	}
	if c.Panel.SPIHz <= 0 {
		c.Panel.SPIHz = def.Panel.SPIHz
	}
	if c.Panel.DCPin == "" {
		c.Panel.DCPin = def.Panel.DCPin
	}
	if c.Panel.RSTPin == "" {
		c.Panel.RSTPin = def.Panel.RSTPin
	}
	if c.Panel.BusyPin == "" {
		c.Panel.BusyPin = def.Panel.BusyPin
	}
	if c.Refresh.Cron == "" {
		c.Refresh.Cron = def.Refresh.Cron
	}
	if c.Refresh.CacheDir == "" {
		c.Refresh.CacheDir = def.Refresh.CacheDir
	}
	if c.Link.Interface == "" {
		c.Link.Interface = def.Link.Interface
	}
	if c.Link.Poll == "" {
		c.Link.Poll = def.Link.Poll
	}
	if c.Link.Retry == "" {
		c.Link.Retry = def.Link.Retry
	}
	if len(c.Link.Reconnect) == 0 {
		c.Link.Reconnect = def.Link.Reconnect
	}
	if c.StatusLED.Period == "" {
		c.StatusLED.Period = def.StatusLED.Period
	}
}

// Validate reports settings that cannot be fixed up by Normalize.
func (c *Config) Validate() error {
	if c.Panel.Width%8 != 0 {
		return fmt.Errorf("config: panel.width %d is not a multiple of 8", c.Panel.Width)
	}
	for name, v := range map[string]string{
		"panel.busy_timeout": c.Panel.BusyTimeout,
		"link.poll":          c.Link.Poll,
		"link.retry":         c.Link.Retry,
		"status_led.period":  c.StatusLED.Period,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// BusyTimeout returns panel.busy_timeout, zero when unset.
func (c *Config) BusyTimeout() time.Duration {
	d, _ := parseDuration(c.Panel.BusyTimeout)
	return d
}

// LinkPoll returns link.poll.
func (c *Config) LinkPoll() time.Duration {
	d, _ := parseDuration(c.Link.Poll)
	return d
}

// LinkRetry returns link.retry.
func (c *Config) LinkRetry() time.Duration {
	d, _ := parseDuration(c.Link.Retry)
	return d
}

// LEDPeriod returns status_led.period.
func (c *Config) LEDPeriod() time.Duration {
	d, _ := parseDuration(c.StatusLED.Period)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory with 0700 if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".epaper-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
