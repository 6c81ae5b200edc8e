// Package config reads the node description file. The file is JSON5, so it
// may carry comments and trailing commas:
//
//	{
//	  role: "sensor",
//	  link: "/dev/ttyUSB0",
//	  controller: "F0:F5:BD:54:EB:50",
//	  store: {backend: "file", path: "/var/lib/nownode/nvs.json"},
//	  pins: {trigger: "GPIO20", echo: "GPIO21"},
//	}
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/flynn/json5"

	"github.com/speters/nowtank/pkg/command"
	"github.com/speters/nowtank/pkg/espnow"
	"github.com/speters/nowtank/pkg/menu"
	"github.com/speters/nowtank/pkg/store"
)

// Node roles
const (
	RoleController = "controller"
	RoleSensor     = "sensor"
	RoleSwitch     = "switch"
	// RoleSim runs a controller, a sensor and a switch on an in-memory medium
	RoleSim = "sim"
)

// SimLink selects the in-memory medium instead of a bridge dongle
const SimLink = "sim://"

var ErrInvalid = errors.New("invalid config")

type Target struct {
	Label   string         `json:"label"`
	Address espnow.Address `json:"address"`
}

type Store struct {
	// Backend is one of "file", "redis" or "memory"
	Backend  string `json:"backend"`
	Path     string `json:"path"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type Pins struct {
	Button    string `json:"button"`
	ActiveLow *bool  `json:"active_low"`
	Trigger   string `json:"trigger"`
	Echo      string `json:"echo"`
	Output    string `json:"output"`
}

type Verbs struct {
	Start  []string `json:"start"`
	Stop   []string `json:"stop"`
	Toggle []string `json:"toggle"`
}

type Config struct {
	Role   string `json:"role"`
	Link   string `json:"link"`
	Baud   int    `json:"baud"`
	Listen string `json:"listen"`
	// Display is "log" or "stdout"
	Display string `json:"display"`

	Controller espnow.Address `json:"controller"`
	Targets    []Target       `json:"targets"`
	Standing   bool           `json:"standing"`

	Store Store `json:"store"`
	Pins  Pins  `json:"pins"`
	Verbs Verbs `json:"verbs"`

	PeriodMS      int     `json:"period_ms"`
	MinDistanceCM float64 `json:"min_distance_cm"`
	AckGeometry   bool    `json:"ack_geometry"`
	ToggleGate    bool    `json:"toggle_gate"`
}

// Load reads and checks the file at path
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse reads a config document
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := json5.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.Link == "" && c.Role == RoleSim {
		c.Link = SimLink
	}
	if c.Baud == 0 {
		c.Baud = espnow.DefaultBaud
	}
	if c.Display == "" {
		c.Display = "log"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.PeriodMS == 0 {
		c.PeriodMS = 1000
	}
}

func (c *Config) validate() error {
	switch c.Role {
	case RoleController:
		if len(c.Targets) == 0 {
			return fmt.Errorf("%w: controller without targets", ErrInvalid)
		}
	case RoleSensor:
		if c.Controller == (espnow.Address{}) {
			return fmt.Errorf("%w: sensor without controller address", ErrInvalid)
		}
	case RoleSwitch, RoleSim:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, c.Role)
	}
	if c.Link == "" {
		return fmt.Errorf("%w: no link", ErrInvalid)
	}
	switch c.Store.Backend {
	case "memory":
	case "file":
		if c.Store.Path == "" {
			return fmt.Errorf("%w: file store without path", ErrInvalid)
		}
	case "redis":
		if c.Store.Address == "" {
			return fmt.Errorf("%w: redis store without address", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalid, c.Store.Backend)
	}
	return nil
}

// Period is the sensor reporting interval
func (c *Config) Period() time.Duration {
	return time.Duration(c.PeriodMS) * time.Millisecond
}

// ButtonActiveLow defaults to true, the menu button pulls to ground
func (c *Config) ButtonActiveLow() bool {
	return c.Pins.ActiveLow == nil || *c.Pins.ActiveLow
}

// Vocabulary merges the configured verbs over the default ones
func (c *Config) Vocabulary() command.Vocabulary {
	v := command.DefaultVocabulary
	if len(c.Verbs.Start) > 0 {
		v.Start = c.Verbs.Start
	}
	if len(c.Verbs.Stop) > 0 {
		v.Stop = c.Verbs.Stop
	}
	if len(c.Verbs.Toggle) > 0 {
		v.Toggle = c.Verbs.Toggle
	}
	return v
}

// MenuTargets converts the target list
func (c *Config) MenuTargets() []menu.Target {
	ts := make([]menu.Target, len(c.Targets))
	for i, t := range c.Targets {
		ts[i] = menu.Target{Label: t.Label, Address: t.Address}
	}
	return ts
}

// OpenStore opens the configured store backend
func (c *Config) OpenStore() (store.Store, error) {
	switch c.Store.Backend {
	case "file":
		return store.NewFileStore(c.Store.Path)
	case "redis":
		return store.NewRedisStore(c.Store.Address, c.Store.Password, c.Store.DB)
	default:
		return store.NewMemStore(), nil
	}
}
