package drivers

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/webthing-core/internal/thing"
)

// Air sensor defaults.
const (
	DefaultSensorID     = "urn:dev:ops:my-air-sensor-1234"
	DefaultSensorTitle  = "Room Air Sensor"
	DefaultPollInterval = 3 * time.Second
)

// AirSensorConfig configures NewAirSensor. Zero values select defaults.
type AirSensorConfig struct {
	ID           string
	Title        string
	Provider     Provider
	PollInterval time.Duration
	Logger       thing.Logger
}

type channel struct {
	name  string
	value *thing.Value[float64]
	pick  func(Reading) float64
}

// AirSensor is a monitor with six read-only channels refreshed from a
// Provider on a fixed interval.
type AirSensor struct {
	*thing.Thing

	provider Provider
	channels []channel
	logger   thing.Logger
}

// NewAirSensor builds the sensor thing and starts its poll loop. The loop
// stops when the thing is closed.
func NewAirSensor(cfg AirSensorConfig, opts ...thing.Option) (*AirSensor, error) {
	if cfg.ID == "" {
		cfg.ID = DefaultSensorID
	}
	if cfg.Title == "" {
		cfg.Title = DefaultSensorTitle
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Provider == nil {
		cfg.Provider = NewRandomProvider(uint64(time.Now().UnixNano()))
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}

	s := &AirSensor{provider: cfg.Provider, logger: cfg.Logger}
	opts = append(opts, thing.WithLogger(cfg.Logger))
	s.Thing = thing.New(cfg.ID, cfg.Title, []string{"Monitor"}, "A web connected air sensor", opts...)

	if err := s.declare(); err != nil {
		s.Close()
		return nil, fmt.Errorf("building air sensor %s: %w", cfg.ID, err)
	}
	if err := s.StartPolling(cfg.PollInterval, s.poll); err != nil {
		s.Close()
		return nil, fmt.Errorf("starting air sensor %s: %w", cfg.ID, err)
	}
	return s, nil
}

func (s *AirSensor) declare() error {
	specs := []struct {
		name, atType, title, desc string
		min                       float64
		unit                      string
		pick                      func(Reading) float64
	}{
		{"temperature", "TemperatureProperty", "Temperature", "The current temperature", -100, "degree celsius",
			func(r Reading) float64 { return r.Temperature }},
		{"humidity", "LevelProperty", "Humidity", "The current humidity in %", 0, "percent",
			func(r Reading) float64 { return r.Humidity }},
		{"pm2p5CC", "LevelProperty", "PM2.5", "The current PM2.5 concentration", 0, "",
			func(r Reading) float64 { return r.PM2p5 }},
		{"pm10CC", "LevelProperty", "PM10", "The current PM10 concentration", 0, "",
			func(r Reading) float64 { return r.PM10 }},
		{"VOCH2S", "LevelProperty", "VOCH2S", "The current VOC/H2S level", 0, "",
			func(r Reading) float64 { return r.VOC }},
		{"CH20NH3", "LevelProperty", "CH20NH3", "The current CH2O/NH3 level", 0, "",
			func(r Reading) float64 { return r.NH3 }},
	}

	for _, sp := range specs {
		meta := thing.Metadata{
			"@type":       sp.atType,
			"title":       sp.title,
			"type":        "number",
			"description": sp.desc,
			"minimum":     sp.min,
			"maximum":     100,
			"readOnly":    true,
		}
		if sp.unit != "" {
			meta["unit"] = sp.unit
		}

		v := thing.NewValue(0.0, nil)
		p, err := thing.NewProperty(sp.name, v, meta)
		if err != nil {
			return err
		}
		if err := s.AddProperty(p); err != nil {
			return err
		}
		s.channels = append(s.channels, channel{name: sp.name, value: v, pick: sp.pick})
	}
	return nil
}

// poll reads the provider once and pushes every channel. A provider error
// leaves all channels untouched.
func (s *AirSensor) poll(ctx context.Context) error {
	r, err := s.provider.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading sensor: %w", err)
	}
	for _, ch := range s.channels {
		level := ch.pick(r)
		s.logger.Debug("setting new level", "thing_id", s.ID(), "channel", ch.name, "value", level)
		ch.value.NotifyOfExternalUpdate(level)
	}
	return nil
}

// Level returns the current value of the named channel.
func (s *AirSensor) Level(name string) (float64, bool) {
	for _, ch := range s.channels {
		if ch.name == name {
			return ch.value.Get(), true
		}
	}
	return 0, false
}

// Channels returns the channel names in declaration order.
func (s *AirSensor) Channels() []string {
	names := make([]string, len(s.channels))
	for i, ch := range s.channels {
		names[i] = ch.name
	}
	return names
}
