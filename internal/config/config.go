// Package config holds the resolved runtime configuration for the server.
//
// Defaults live in code; a JSON file may override individual values. The
// file schema uses pointer fields so partial configs are safe: anything
// omitted keeps its default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ServerConfig covers networking and fan-out pacing.
type ServerConfig struct {
	Listen        string
	PingInterval  time.Duration // heartbeat ping cadence per connection
	PongTimeout   time.Duration // grace after PingInterval before the connection is dropped
	BroadcastRate int           // snapshot broadcasts per second
}

// GameConfig covers the simulation loop and stage generation.
type GameConfig struct {
	TickRate          int // physics ticks per second
	BotTickRate       int // bot on_tick rate (must divide TickRate)
	MaxCars           int
	CountdownSeconds  float64
	FinishGracePeriod float64 // seconds after first finisher before DNF

	// Stage generation (point-to-point rally stages).
	StageWidth         float64
	ContainmentOffset  float64 // distance from track edge to the outer walls
	ObstacleDensity    float64 // obstacles per 1000 square units of off-road area
	ObstacleMinRadius  float64
	ObstacleMaxRadius  float64
	ObstacleMinFromTrack float64

	// Surface distribution weights.
	SurfaceAsphaltWeight float64
	SurfaceWetWeight     float64
	SurfaceGravelWeight  float64
	SurfaceIceWeight     float64
}

// PhysicsConfig covers the car model.
type PhysicsConfig struct {
	MaxSpeed        float64 // units/second, before nitro
	Acceleration    float64 // units/second^2
	BrakeForce      float64 // units/second^2
	DragCoefficient float64

	TurnRate     float64 // radians/second
	MinTurnSpeed float64 // below this, turn rate scales down linearly

	GripAsphalt float64
	GripWet     float64
	GripGravel  float64
	GripIce     float64

	DriftThreshold    float64 // lateral/total speed ratio (scaled by grip) that starts a drift
	DriftRecoveryRate float64

	OffTrackGripMultiplier float64

	CollisionElasticity float64
	CollisionMinSpeed   float64 // minimum approach speed for an impulse
	CarRadius           float64

	DefaultNitroCharges  int
	NitroDurationTicks   int
	NitroSpeedMultiplier float64
	DefaultCarWeight     float64
}

// BotConfig covers the sandbox and sensor model.
type BotConfig struct {
	ExecutionTimeout time.Duration // wall-clock bound per sandbox call
	MaxCodeBytes     int
	MemoryLimitMB    int // best-effort, see package sandbox
	MaxSteps         uint64

	VisibilityRadius float64 // fog-of-war radius for opponent sensing
	RaycastRange     float64
}

// RaceConfig covers scoring.
type RaceConfig struct {
	// PointsByPosition[i] is awarded for final position i+1. Positions
	// beyond the table award zero.
	PointsByPosition []int
}

// Config is the resolved configuration for all subsystems.
type Config struct {
	Server  ServerConfig
	Game    GameConfig
	Physics PhysicsConfig
	Bot     BotConfig
	Race    RaceConfig
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:        ":8080",
			PingInterval:  30 * time.Second,
			PongTimeout:   10 * time.Second,
			BroadcastRate: 60,
		},
		Game: GameConfig{
			TickRate:             60,
			BotTickRate:          20,
			MaxCars:              8,
			CountdownSeconds:     3,
			FinishGracePeriod:    30,
			StageWidth:           160,
			ContainmentOffset:    350,
			ObstacleDensity:      0.15,
			ObstacleMinRadius:    5,
			ObstacleMaxRadius:    20,
			ObstacleMinFromTrack: 120,
			SurfaceAsphaltWeight: 0.5,
			SurfaceWetWeight:     0.2,
			SurfaceGravelWeight:  0.2,
			SurfaceIceWeight:     0.1,
		},
		Physics: PhysicsConfig{
			MaxSpeed:               150,
			Acceleration:           80,
			BrakeForce:             120,
			DragCoefficient:        0.02,
			TurnRate:               3.0,
			MinTurnSpeed:           5.0,
			GripAsphalt:            1.0,
			GripWet:                0.7,
			GripGravel:             0.5,
			GripIce:                0.25,
			DriftThreshold:         0.6,
			DriftRecoveryRate:      2.0,
			OffTrackGripMultiplier: 0.3,
			CollisionElasticity:    0.7,
			CollisionMinSpeed:      10,
			CarRadius:              10,
			DefaultNitroCharges:    2,
			NitroDurationTicks:     120,
			NitroSpeedMultiplier:   1.5,
			DefaultCarWeight:       60,
		},
		Bot: BotConfig{
			ExecutionTimeout: 10 * time.Millisecond,
			MaxCodeBytes:     100 * 1024,
			MemoryLimitMB:    50,
			MaxSteps:         500_000,
			VisibilityRadius: 300,
			RaycastRange:     200,
		},
		Race: RaceConfig{
			PointsByPosition: []int{25, 18, 15, 12, 10, 8, 6, 4},
		},
	}
}

// FileConfig is the JSON schema for on-disk overrides. Fields omitted from
// the file retain their defaults, so partial configs are safe.
type FileConfig struct {
	Listen        *string `json:"listen,omitempty"`
	PingInterval  *string `json:"ping_interval,omitempty"` // duration string like "30s"
	PongTimeout   *string `json:"pong_timeout,omitempty"`
	BroadcastRate *int    `json:"broadcast_rate,omitempty"`

	TickRate          *int     `json:"tick_rate,omitempty"`
	BotTickRate       *int     `json:"bot_tick_rate,omitempty"`
	MaxCars           *int     `json:"max_cars,omitempty"`
	CountdownSeconds  *float64 `json:"countdown_seconds,omitempty"`
	FinishGracePeriod *float64 `json:"finish_grace_period,omitempty"`
	StageWidth        *float64 `json:"stage_width,omitempty"`

	MaxSpeed        *float64 `json:"max_speed,omitempty"`
	Acceleration    *float64 `json:"acceleration,omitempty"`
	BrakeForce      *float64 `json:"brake_force,omitempty"`
	DragCoefficient *float64 `json:"drag_coefficient,omitempty"`
	TurnRate        *float64 `json:"turn_rate,omitempty"`
	CarRadius       *float64 `json:"car_radius,omitempty"`

	BotTimeoutMS     *int     `json:"bot_timeout_ms,omitempty"`
	BotMaxCodeKB     *int     `json:"bot_max_code_kb,omitempty"`
	BotMemoryMB      *int     `json:"bot_memory_mb,omitempty"`
	VisibilityRadius *float64 `json:"visibility_radius,omitempty"`
	RaycastRange     *float64 `json:"raycast_range,omitempty"`

	PointsByPosition []int `json:"points_by_position,omitempty"`
}

const maxConfigFileSize = 1 * 1024 * 1024

// Load reads a JSON config file and overlays it on the defaults. The path
// must end in .json and the file must be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := Default()
	if err := cfg.apply(&fc); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(fc *FileConfig) error {
	if fc.Listen != nil {
		c.Server.Listen = *fc.Listen
	}
	if fc.PingInterval != nil {
		d, err := time.ParseDuration(*fc.PingInterval)
		if err != nil {
			return fmt.Errorf("invalid ping_interval: %w", err)
		}
		c.Server.PingInterval = d
	}
	if fc.PongTimeout != nil {
		d, err := time.ParseDuration(*fc.PongTimeout)
		if err != nil {
			return fmt.Errorf("invalid pong_timeout: %w", err)
		}
		c.Server.PongTimeout = d
	}
	if fc.BroadcastRate != nil {
		c.Server.BroadcastRate = *fc.BroadcastRate
	}
	if fc.TickRate != nil {
		c.Game.TickRate = *fc.TickRate
	}
	if fc.BotTickRate != nil {
		c.Game.BotTickRate = *fc.BotTickRate
	}
	if fc.MaxCars != nil {
		c.Game.MaxCars = *fc.MaxCars
	}
	if fc.CountdownSeconds != nil {
		c.Game.CountdownSeconds = *fc.CountdownSeconds
	}
	if fc.FinishGracePeriod != nil {
		c.Game.FinishGracePeriod = *fc.FinishGracePeriod
	}
	if fc.StageWidth != nil {
		c.Game.StageWidth = *fc.StageWidth
	}
	if fc.MaxSpeed != nil {
		c.Physics.MaxSpeed = *fc.MaxSpeed
	}
	if fc.Acceleration != nil {
		c.Physics.Acceleration = *fc.Acceleration
	}
	if fc.BrakeForce != nil {
		c.Physics.BrakeForce = *fc.BrakeForce
	}
	if fc.DragCoefficient != nil {
		c.Physics.DragCoefficient = *fc.DragCoefficient
	}
	if fc.TurnRate != nil {
		c.Physics.TurnRate = *fc.TurnRate
	}
	if fc.CarRadius != nil {
		c.Physics.CarRadius = *fc.CarRadius
	}
	if fc.BotTimeoutMS != nil {
		c.Bot.ExecutionTimeout = time.Duration(*fc.BotTimeoutMS) * time.Millisecond
	}
	if fc.BotMaxCodeKB != nil {
		c.Bot.MaxCodeBytes = *fc.BotMaxCodeKB * 1024
	}
	if fc.BotMemoryMB != nil {
		c.Bot.MemoryLimitMB = *fc.BotMemoryMB
	}
	if fc.VisibilityRadius != nil {
		c.Bot.VisibilityRadius = *fc.VisibilityRadius
	}
	if fc.RaycastRange != nil {
		c.Bot.RaycastRange = *fc.RaycastRange
	}
	if fc.PointsByPosition != nil {
		c.Race.PointsByPosition = fc.PointsByPosition
	}
	return nil
}

// Validate checks cross-field constraints that the overlay cannot express.
func (c *Config) Validate() error {
	if c.Game.TickRate <= 0 {
		return fmt.Errorf("tick_rate must be positive, got %d", c.Game.TickRate)
	}
	if c.Game.BotTickRate <= 0 {
		return fmt.Errorf("bot_tick_rate must be positive, got %d", c.Game.BotTickRate)
	}
	if c.Game.TickRate%c.Game.BotTickRate != 0 {
		return fmt.Errorf("bot_tick_rate %d must divide tick_rate %d", c.Game.BotTickRate, c.Game.TickRate)
	}
	if c.Server.BroadcastRate <= 0 {
		return fmt.Errorf("broadcast_rate must be positive, got %d", c.Server.BroadcastRate)
	}
	if c.Bot.ExecutionTimeout <= 0 {
		return fmt.Errorf("bot execution timeout must be positive, got %v", c.Bot.ExecutionTimeout)
	}
	return nil
}

// TickInterval is the duration of one physics tick.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Game.TickRate)
}

// BotCadence is the number of physics ticks between bot ticks.
func (c *Config) BotCadence() int {
	return c.Game.TickRate / c.Game.BotTickRate
}
