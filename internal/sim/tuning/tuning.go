package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"skirmish.io/internal/sim/engine"
	"skirmish.io/internal/sim/systems"
)

type Tuning struct {
	TickIntervalMS int     `yaml:"tick_interval_ms"`
	QueueCapacity  int     `yaml:"queue_capacity"`
	UnitSpeed      float64 `yaml:"unit_speed"`
	ArriveEpsilon  float64 `yaml:"arrive_epsilon"`

	WorldBounds *Bounds `yaml:"world_bounds,omitempty"`

	Net  Net  `yaml:"net"`
	Data Data `yaml:"data"`
}

type Bounds struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

type Net struct {
	Addr                string  `yaml:"addr"`
	PublicURL           string  `yaml:"public_url"`
	BroadcastIntervalMS int     `yaml:"broadcast_interval_ms"`
	ClientQueue         int     `yaml:"client_queue"`
	CommandsPerSecond   float64 `yaml:"commands_per_second"`
	CommandBurst        int     `yaml:"command_burst"`
}

type Data struct {
	Dir     string `yaml:"dir"`
	TickLog bool   `yaml:"tick_log"`
	IndexDB bool   `yaml:"index_db"`
}

func Defaults() Tuning {
	return Tuning{
		TickIntervalMS: 1000,
		QueueCapacity:  1000,
		UnitSpeed:      1,
		ArriveEpsilon:  0.01,
		Net: Net{
			Addr:                ":8080",
			BroadcastIntervalMS: 100,
			ClientQueue:         8,
			CommandsPerSecond:   20,
			CommandBurst:        40,
		},
		Data: Data{
			Dir:     "./data",
			TickLog: true,
			IndexDB: true,
		},
	}
}

// Load reads a tuning file on top of Defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values with defaults.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	if t.TickIntervalMS == 0 {
		t.TickIntervalMS = d.TickIntervalMS
	}
	if t.QueueCapacity == 0 {
		t.QueueCapacity = d.QueueCapacity
	}
	if t.Net.Addr == "" {
		t.Net.Addr = d.Net.Addr
	}
	if t.Net.BroadcastIntervalMS == 0 {
		t.Net.BroadcastIntervalMS = d.Net.BroadcastIntervalMS
	}
	if t.Net.ClientQueue == 0 {
		t.Net.ClientQueue = d.Net.ClientQueue
	}
	if t.Net.CommandBurst == 0 {
		t.Net.CommandBurst = d.Net.CommandBurst
	}
	t.Net.PublicURL = strings.TrimRight(strings.TrimSpace(t.Net.PublicURL), "/")
	if strings.TrimSpace(t.Data.Dir) == "" {
		t.Data.Dir = d.Data.Dir
	}
}

func (t Tuning) Validate() error {
	if t.TickIntervalMS <= 0 {
		return fmt.Errorf("tick_interval_ms must be > 0")
	}
	if t.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be > 0")
	}
	if t.UnitSpeed < 0 {
		return fmt.Errorf("unit_speed must be >= 0")
	}
	if t.ArriveEpsilon < 0 {
		return fmt.Errorf("arrive_epsilon must be >= 0")
	}
	if b := t.WorldBounds; b != nil && (b.MaxX <= b.MinX || b.MaxY <= b.MinY) {
		return fmt.Errorf("world_bounds max must be greater than min")
	}
	if t.Net.BroadcastIntervalMS <= 0 {
		return fmt.Errorf("net.broadcast_interval_ms must be > 0")
	}
	if t.Net.ClientQueue <= 0 || t.Net.ClientQueue > 1024 {
		return fmt.Errorf("net.client_queue must be in [1, 1024]")
	}
	if t.Net.CommandsPerSecond < 0 {
		return fmt.Errorf("net.commands_per_second must be >= 0")
	}
	if t.Net.CommandBurst <= 0 {
		return fmt.Errorf("net.command_burst must be > 0")
	}
	return nil
}

func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMS) * time.Millisecond
}

func (t Tuning) BroadcastInterval() time.Duration {
	return time.Duration(t.Net.BroadcastIntervalMS) * time.Millisecond
}

func (t Tuning) SystemsConfig() systems.Config {
	cfg := systems.Config{UnitSpeed: t.UnitSpeed, ArriveEpsilon: t.ArriveEpsilon}
	if b := t.WorldBounds; b != nil {
		cfg.Bounds = systems.Bounds{
			Min: engine.Vec2{X: b.MinX, Y: b.MinY},
			Max: engine.Vec2{X: b.MaxX, Y: b.MaxY},
		}
	}
	return cfg
}
