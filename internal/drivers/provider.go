package drivers

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
)

// Reading is one sample of every air sensor channel.
type Reading struct {
	Temperature float64
	Humidity    float64
	PM2p5       float64
	PM10        float64
	VOC         float64
	NH3         float64
}

// Provider supplies air sensor readings. Read is called once per poll
// cycle; an error leaves the previous values in place.
type Provider interface {
	Read(ctx context.Context) (Reading, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Reading, error)

// Read calls f(ctx).
func (f ProviderFunc) Read(ctx context.Context) (Reading, error) { return f(ctx) }

// RandomProvider simulates a sensor: each channel is
// |70 * r1 * (r2 - 0.5)| for uniform r1, r2, so readings lie in [0, 35].
type RandomProvider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomProvider creates a provider seeded with seed. Equal seeds yield
// equal sequences.
func NewRandomProvider(seed uint64) *RandomProvider {
	return &RandomProvider{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Read returns the next simulated reading.
func (p *RandomProvider) Read(context.Context) (Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Reading{
		Temperature: p.sample(),
		Humidity:    p.sample(),
		PM2p5:       p.sample(),
		PM10:        p.sample(),
		VOC:         p.sample(),
		NH3:         p.sample(),
	}, nil
}

func (p *RandomProvider) sample() float64 {
	return math.Abs(70 * p.rng.Float64() * (-0.5 + p.rng.Float64()))
}
