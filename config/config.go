package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/hexworld/server/internal/hexgrid"
)

// Simulation constants - client and server must agree on these exactly,
// reconciliation replays moves through the same math on both ends.
const (
	// Geometry
	TileSize = 48.0 // px, tile circumradius before widening
	IsoScale = 0.75 // vertical compression of the grid
	TileRise = 36.0 // px of screen lift per layer
	Depth    = 1.0  // draw depth step per hex row

	// ActorFootprint is the circumradius of an actor's flat-top collider.
	ActorFootprint = 7.0

	// World
	DiscoverRadius   = 5  // hexes materialized around a discovered hex
	MaxTerrainHeight = 20 // layers spanned by generated terrain
	TerrainScale     = 0.03
	SpawnScanDepth   = MaxTerrainHeight + 4

	// Actors
	DefaultSpeed    = 120.0 // px/s
	DefaultVertical = 1.2   // peak jump height in layers
	DefaultHeight   = 3     // layers

	// Rates
	ServerTickRate = 20  // Hz
	ClientTickRate = 120 // Hz
	MaxTickDelta   = 0.1 // s, dt cap after stalls

	// Anti-cheat
	MaxMoveDelta   = 0.25 // s, longest dt accepted for one move
	ClockTolerance = 0.05 // s, slack between dt and client clock advance
	MaxViolations  = 20   // rejected moves before a session is dropped
)

// Layout returns the hex/pixel transform built from the geometry constants.
func Layout() hexgrid.Layout {
	return hexgrid.NewLayout(TileSize, IsoScale, TileRise, Depth)
}

// ServerConfig holds runtime settings for the game server.
type ServerConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`      // raw TCP protocol
	HTTPPort   int           `mapstructure:"http_port"` // websocket + health
	EnableCORS bool          `mapstructure:"enable_cors"`
	SceneFile  string        `mapstructure:"scene_file"`
	MaxPeers   int           `mapstructure:"max_peers"`
	TickRate   int           `mapstructure:"tick_rate"`
	SyncIdle   time.Duration `mapstructure:"sync_idle"`
	TryRate    float64       `mapstructure:"try_rate"` // inbound events/s per session
	TryBurst   int           `mapstructure:"try_burst"`
	NPCs       int           `mapstructure:"npcs"`
	Seed       int64         `mapstructure:"seed"`
	Log        LogConfig     `mapstructure:"log"`
}

// ClientConfig holds runtime settings for a headless client.
type ClientConfig struct {
	ServerAddr string        `mapstructure:"server_addr"`
	TickRate   int           `mapstructure:"tick_rate"`
	SyncIdle   time.Duration `mapstructure:"sync_idle"`
	Seed       int64         `mapstructure:"seed"`
	Log        LogConfig     `mapstructure:"log"`
}

// LogConfig selects the logger's level, encoding and sink.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	File   string `mapstructure:"file"`   // empty logs to stderr
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:       "0.0.0.0",
		Port:       7777,
		HTTPPort:   8080,
		EnableCORS: true,
		SceneFile:  "default.0",
		MaxPeers:   64,
		TickRate:   ServerTickRate,
		SyncIdle:   5 * time.Millisecond,
		TryRate:    4 * ClientTickRate,
		TryBurst:   ClientTickRate,
		NPCs:       2,
		Seed:       1,
		Log:        LogConfig{Level: "info", Format: "console"},
	}
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerAddr: "127.0.0.1:7777",
		TickRate:   ClientTickRate,
		SyncIdle:   5 * time.Millisecond,
		Seed:       1,
		Log:        LogConfig{Level: "info", Format: "console"},
	}
}

// Validate rejects settings the server cannot run with.
func (c *ServerConfig) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return errors.Errorf("invalid port %d", c.Port)
	case c.HTTPPort < 0 || c.HTTPPort > 65535:
		return errors.Errorf("invalid http port %d", c.HTTPPort)
	case c.TickRate <= 0:
		return errors.Errorf("tick rate must be positive, got %d", c.TickRate)
	case c.MaxPeers <= 0:
		return errors.Errorf("max peers must be positive, got %d", c.MaxPeers)
	case c.TryRate <= 0 || c.TryBurst <= 0:
		return errors.New("try rate and burst must be positive")
	}
	return nil
}

// Load reads server configuration. Values come from defaults, then the
// optional config file at path, then HEXWORLD_* environment variables
// (a .env file in the working directory is honored).
func Load(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	v := newViper(map[string]any{
		"host":        cfg.Host,
		"port":        cfg.Port,
		"http_port":   cfg.HTTPPort,
		"enable_cors": cfg.EnableCORS,
		"scene_file":  cfg.SceneFile,
		"max_peers":   cfg.MaxPeers,
		"tick_rate":   cfg.TickRate,
		"sync_idle":   cfg.SyncIdle,
		"try_rate":    cfg.TryRate,
		"try_burst":   cfg.TryBurst,
		"npcs":        cfg.NPCs,
		"seed":        cfg.Seed,
		"log.level":   cfg.Log.Level,
		"log.format":  cfg.Log.Format,
		"log.file":    cfg.Log.File,
	})
	if err := read(v, path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient reads client configuration the same way Load does.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	v := newViper(map[string]any{
		"server_addr": cfg.ServerAddr,
		"tick_rate":   cfg.TickRate,
		"sync_idle":   cfg.SyncIdle,
		"seed":        cfg.Seed,
		"log.level":   cfg.Log.Level,
		"log.format":  cfg.Log.Format,
		"log.file":    cfg.Log.File,
	})
	if err := read(v, path, cfg); err != nil {
		return nil, err
	}
	if cfg.TickRate <= 0 {
		return nil, errors.Errorf("tick rate must be positive, got %d", cfg.TickRate)
	}
	return cfg, nil
}

func newViper(defaults map[string]any) *viper.Viper {
	// a missing .env is fine
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetEnvPrefix("HEXWORLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

func read(v *viper.Viper, path string, out any) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", path)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return errors.Wrap(err, "decode config")
	}
	return nil
}
