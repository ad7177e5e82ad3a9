// Package drivers provides the concrete things served by webthingd: a
// dimmable light and an air sensor.
//
// The light forwards client writes to an optional LightHardware and offers
// a fade action. The sensor polls a Provider on a fixed interval and pushes
// readings into its read-only properties.
package drivers

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
