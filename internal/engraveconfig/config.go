// Package engraveconfig loads and hot-reloads the engraving system's
// hierarchical configuration, with defaults merged under anything found
// on disk, mirroring the JSON config file the system replaces.
package engraveconfig

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EngravingArea is the machine bed and its usable active sub-rectangle.
type EngravingArea struct {
	MachineWidthMM  float64 `mapstructure:"machine_width_mm"`
	MachineHeightMM float64 `mapstructure:"machine_height_mm"`
	ActiveWidthMM   float64 `mapstructure:"active_width_mm"`
	ActiveHeightMM  float64 `mapstructure:"active_height_mm"`
	OffsetXMM       float64 `mapstructure:"offset_x_mm"`
	OffsetYMM       float64 `mapstructure:"offset_y_mm"`
}

// LaserSettings are the fixed motion/power parameters baked into every
// compiled program.
type LaserSettings struct {
	PowerPercent      float64 `mapstructure:"power_percent"`
	SpeedMMPerMin     float64 `mapstructure:"speed_mm_per_min"`
	Passes            int     `mapstructure:"passes"`
	SpindleMax        float64 `mapstructure:"spindle_max"`
	UseZHeight        bool    `mapstructure:"use_z_height"`
	ZHeightMM         float64 `mapstructure:"z_height_mm"`
	AlarmAbortsStream bool    `mapstructure:"alarm_aborts_stream"`
}

// TextSettings control glyph source selection and sizing defaults.
type TextSettings struct {
	InitialHeightMM float64 `mapstructure:"initial_height_mm"`
	MinHeightMM     float64 `mapstructure:"min_height_mm"`
	Font            string  `mapstructure:"font"`
	SpacingMM       float64 `mapstructure:"spacing_mm"`
	TTFPath         string  `mapstructure:"ttf_path"`
}

// ConnectionSettings selects and configures the board transport.
type ConnectionSettings struct {
	FluidNCConnection string `mapstructure:"fluidnc_connection"`
	TCPAddress         string `mapstructure:"tcp_address"`
	SerialPort         string `mapstructure:"serial_port"`
	SerialBaud         int    `mapstructure:"serial_baud"`
}

var defaults = map[string]any{
	"hostname": "nameengrave",
	"engraving_area": map[string]any{
		"machine_width_mm":  200.0,
		"machine_height_mm": 298.0,
		"active_width_mm":   200.0,
		"active_height_mm":  298.0,
		"offset_x_mm":       0.0,
		"offset_y_mm":       0.0,
	},
	"laser_settings": map[string]any{
		"power_percent":       50.0,
		"speed_mm_per_min":    1000.0,
		"passes":              1,
		"spindle_max":         1000.0,
		"use_z_height":        false,
		"alarm_aborts_stream": true,
	},
	"text_settings": map[string]any{
		"initial_height_mm": 5.0,
		"min_height_mm":     2.0,
		"font":              "simplex",
		"spacing_mm":        2.0,
		"ttf_path":          "",
	},
	"fluidnc_connection": "network",
	"tcp_address":        "fluidnc.local:23",
	"serial_port":        "/dev/ttyUSB0",
	"serial_baud":        115200,
}

// Config is a live, hot-reloadable view over the on-disk configuration
// file. Section accessors re-read viper's current snapshot every call,
// so a reload is visible without restarting any component.
type Config struct {
	v   *viper.Viper
	log *zap.SugaredLogger
}

// Load reads configPath (creating it with defaults if absent) and
// returns a Config backed by it.
func Load(configPath string, log *zap.SugaredLogger) (*Config, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, isNotFound := err.(viper.ConfigFileNotFoundError); !isNotFound {
			log.Warnw("failed to read config, using defaults", "path", configPath, "error", err)
		}
		if err := v.SafeWriteConfigAs(configPath); err != nil {
			log.Warnw("failed to write default config", "path", configPath, "error", err)
		}
	}

	applyDeprecatedAliases(v)

	return &Config{v: v, log: log}, nil
}

// applyDeprecatedAliases resolves legacy config keys that the current
// schema renamed. z_depth_mm was the original key for the Z-axis plunge
// depth; z_height_mm is canonical, z_depth_mm is accepted only if
// z_height_mm was never set.
func applyDeprecatedAliases(v *viper.Viper) {
	if !v.IsSet("laser_settings.z_height_mm") && v.IsSet("laser_settings.z_depth_mm") {
		v.Set("laser_settings.z_height_mm", v.Get("laser_settings.z_depth_mm"))
	}
}

// unmarshalSection decodes one section with its defaults, on-disk values
// and overrides merged key by key. UnmarshalKey on c.v alone would return
// only the highest-priority map for the section (e.g. the on-disk one),
// dropping every default the file does not repeat.
func (c *Config) unmarshalSection(key string, out any) {
	merged := viper.New()
	_ = merged.MergeConfigMap(c.v.AllSettings())
	_ = merged.UnmarshalKey(key, out)
}

// EngravingArea returns the current work-area configuration.
func (c *Config) EngravingArea() EngravingArea {
	var a EngravingArea
	c.unmarshalSection("engraving_area", &a)
	return a
}

// LaserSettings returns the current laser/motion configuration.
func (c *Config) LaserSettings() LaserSettings {
	var s LaserSettings
	c.unmarshalSection("laser_settings", &s)
	return s
}

// TextSettings returns the current text/glyph configuration.
func (c *Config) TextSettings() TextSettings {
	var s TextSettings
	c.unmarshalSection("text_settings", &s)
	return s
}

// ConnectionSettings returns the current board-transport configuration.
func (c *Config) ConnectionSettings() ConnectionSettings {
	return ConnectionSettings{
		FluidNCConnection: c.v.GetString("fluidnc_connection"),
		TCPAddress:        c.v.GetString("tcp_address"),
		SerialPort:        c.v.GetString("serial_port"),
		SerialBaud:        c.v.GetInt("serial_baud"),
	}
}

// Get reads a dot-separated path (e.g. "laser_settings.passes"),
// returning def if the path is unset.
func (c *Config) Get(path string, def any) any {
	if !c.v.IsSet(path) {
		return def
	}
	return c.v.Get(path)
}

// Hostname returns the mDNS/display hostname.
func (c *Config) Hostname() string { return c.v.GetString("hostname") }

// OnChange arranges for onReload to run whenever the config file
// changes on disk; if the font key changed, onFontChange also runs so a
// glyph cache keyed by font can invalidate itself.
func (c *Config) OnChange(onReload func(), onFontChange func(newFont string)) {
	prevFont := c.TextSettings().Font
	c.v.OnConfigChange(func(_ fsnotify.Event) {
		applyDeprecatedAliases(c.v)
		if onReload != nil {
			onReload()
		}
		if onFontChange != nil {
			if cur := c.TextSettings().Font; !strings.EqualFold(cur, prevFont) {
				prevFont = cur
				onFontChange(cur)
			}
		}
	})
	c.v.WatchConfig()
}
