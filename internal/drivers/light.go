package drivers

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/webthing-core/internal/thing"
)

// Light defaults.
const (
	DefaultLightID    = "urn:dev:ops:my-lamp-1234"
	DefaultLightTitle = "Desk Lamp"

	// OverheatedCelsius is the payload of the overheated event raised at the
	// end of every fade.
	OverheatedCelsius = 102

	// MaxFadeMillis caps a fade at one day.
	MaxFadeMillis = 24 * 60 * 60 * 1000
)

// LightHardware receives client-driven changes for a physical lamp.
type LightHardware interface {
	SetOn(on bool) error
	SetBrightness(level int) error
}

// LightConfig configures NewDimmableLight. Zero values select defaults.
type LightConfig struct {
	ID    string
	Title string

	// Hardware receives writes. When nil, writes are only logged.
	Hardware LightHardware
	Logger   thing.Logger
}

// DimmableLight is a lamp with on/off and brightness properties, a fade
// action and an overheated event.
type DimmableLight struct {
	*thing.Thing

	on         *thing.Value[bool]
	brightness *thing.Value[int]
	hw         LightHardware
	logger     thing.Logger
}

// NewDimmableLight builds the lamp thing. It starts on at 50% brightness.
func NewDimmableLight(cfg LightConfig, opts ...thing.Option) (*DimmableLight, error) {
	if cfg.ID == "" {
		cfg.ID = DefaultLightID
	}
	if cfg.Title == "" {
		cfg.Title = DefaultLightTitle
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}

	l := &DimmableLight{hw: cfg.Hardware, logger: cfg.Logger}
	opts = append(opts, thing.WithLogger(cfg.Logger))
	l.Thing = thing.New(cfg.ID, cfg.Title, []string{"OnOffSwitch", "Light"}, "A web connected lamp", opts...)

	l.on = thing.NewValue(true, l.forwardOn)
	l.brightness = thing.NewValue(50, l.forwardBrightness)

	if err := l.declare(); err != nil {
		l.Close()
		return nil, fmt.Errorf("building light %s: %w", cfg.ID, err)
	}
	return l, nil
}

func (l *DimmableLight) declare() error {
	on, err := thing.NewProperty("on", l.on, thing.Metadata{
		"@type":       "OnOffProperty",
		"title":       "On/Off",
		"type":        "boolean",
		"description": "Whether the lamp is turned on",
	})
	if err != nil {
		return err
	}
	if err := l.AddProperty(on); err != nil {
		return err
	}

	brightness, err := thing.NewProperty("brightness", l.brightness, thing.Metadata{
		"@type":       "BrightnessProperty",
		"title":       "Brightness",
		"type":        "integer",
		"description": "The level of light from 0-100",
		"minimum":     0,
		"maximum":     100,
		"unit":        "percent",
	})
	if err != nil {
		return err
	}
	if err := l.AddProperty(brightness); err != nil {
		return err
	}

	err = l.AddAvailableAction("fade", thing.Metadata{
		"title":       "Fade",
		"description": "Fade the lamp to a given level",
		"input": map[string]any{
			"type":     "object",
			"required": []any{"brightness", "duration"},
			"properties": map[string]any{
				"brightness": map[string]any{
					"type":    "integer",
					"minimum": 0,
					"maximum": 100,
					"unit":    "percent",
				},
				"duration": map[string]any{
					"type":    "integer",
					"minimum": 1,
					"maximum": MaxFadeMillis,
					"unit":    "milliseconds",
				},
			},
		},
	}, l.fade)
	if err != nil {
		return err
	}

	return l.AddAvailableEvent("overheated", thing.Metadata{
		"description": "The lamp has exceeded its safe operating temperature",
		"type":        "number",
		"unit":        "degree celsius",
	})
}

func (l *DimmableLight) forwardOn(on bool) error {
	l.logger.Info("on-state is now", "thing_id", l.ID(), "on", on)
	if l.hw != nil {
		return l.hw.SetOn(on)
	}
	return nil
}

func (l *DimmableLight) forwardBrightness(level int) error {
	l.logger.Info("brightness is now", "thing_id", l.ID(), "brightness", level)
	if l.hw != nil {
		return l.hw.SetBrightness(level)
	}
	return nil
}

// fade waits for the requested duration, then sets brightness and raises
// the overheated event. Shutdown interrupts the wait; a cancel request is
// honoured once the wait is over.
func (l *DimmableLight) fade(ctx context.Context, a *thing.Action) error {
	in := a.Input()
	level, err := intInput(in, "brightness")
	if err != nil {
		return err
	}
	ms, err := intInput(in, "duration")
	if err != nil {
		return err
	}
	if ms < 1 || ms > MaxFadeMillis {
		return fmt.Errorf("%w: duration must be between 1 and %d", thing.ErrActionInputInvalid, MaxFadeMillis)
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if a.CancelRequested() {
		return thing.ErrCancelled
	}
	if err := l.SetProperty("brightness", level); err != nil {
		return fmt.Errorf("setting brightness: %w", err)
	}
	l.AddEvent(thing.NewEvent("overheated", OverheatedCelsius))
	return nil
}

// On returns the current on-state.
func (l *DimmableLight) On() bool { return l.on.Get() }

// Brightness returns the current brightness level.
func (l *DimmableLight) Brightness() int { return l.brightness.Get() }

// intInput reads a whole-number field from validated action input.
func intInput(in map[string]any, key string) (int, error) {
	switch v := in[key].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", thing.ErrActionInputInvalid, key)
	}
}
