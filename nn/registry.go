package nn

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// =============================================================================
// Initializer registry
// =============================================================================

// Initializer fills a weight tensor in place.
type Initializer func(weight *Tensor[float32])

// InitializerFactory builds an Initializer from spec parameters and a random source.
type InitializerFactory func(spec InitializerSpec, src rand.Source) (Initializer, error)

var (
	initializerMu       sync.RWMutex
	initializerRegistry = map[string]InitializerFactory{
		"uniform":          uniformInitializer,
		"normal":           normalInitializer,
		"truncated_normal": truncatedNormalInitializer,
		"xavier_uniform":   xavierUniformInitializer,
		"glorot_uniform":   xavierUniformInitializer,
		"xavier_normal":    xavierNormalInitializer,
		"glorot_normal":    xavierNormalInitializer,
		"zeros":            fixedInitializer(0),
		"ones":             fixedInitializer(1),
		"constant":         constantInitializer,
	}
)

// RegisterInitializer adds or replaces a named initializer.
func RegisterInitializer(name string, f InitializerFactory) {
	initializerMu.Lock()
	defer initializerMu.Unlock()
	initializerRegistry[strings.ToLower(name)] = f
}

// ListInitializers returns the registered initializer names in sorted order.
func ListInitializers() []string {
	initializerMu.RLock()
	defer initializerMu.RUnlock()

	names := make([]string, 0, len(initializerRegistry))
	for name := range initializerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolver turns InitializerSpecs into Initializers. All initializers
// resolved by the same Resolver draw from Src, so a seeded source makes a
// whole layer reproducible.
type Resolver struct {
	Src rand.Source
}

// NewResolver returns a resolver drawing from a source seeded with seed.
func NewResolver(seed uint64) *Resolver {
	return &Resolver{Src: rand.NewSource(seed)}
}

// Resolve returns the Initializer described by spec. A spec carrying Func
// is returned directly; otherwise Name is looked up in the registry.
func (r *Resolver) Resolve(spec InitializerSpec) (Initializer, error) {
	if spec.Func != nil {
		return spec.Func, nil
	}

	name := strings.ToLower(strings.TrimSpace(spec.Name))
	if name == "" {
		name = DefaultInitializer
	}

	initializerMu.RLock()
	factory, ok := initializerRegistry[name]
	initializerMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInitializer, spec.Name)
	}

	var src rand.Source
	if r != nil {
		src = r.Src
	}
	return factory(spec, src)
}

// =============================================================================
// Built-in initializers
// =============================================================================

func fillFrom(weight *Tensor[float32], draw func() float64) {
	for i := range weight.Data {
		weight.Data[i] = float32(draw())
	}
}

// fans returns fan-in and fan-out of a 2-D [rows, cols] weight.
func fans(weight *Tensor[float32]) (float64, float64) {
	if len(weight.Shape) < 2 {
		n := float64(weight.Size())
		return n, n
	}
	return float64(weight.Shape[1]), float64(weight.Shape[0])
}

func uniformInitializer(spec InitializerSpec, src rand.Source) (Initializer, error) {
	lo, hi := spec.param("min", -0.05), spec.param("max", 0.05)
	if hi < lo {
		return nil, fmt.Errorf("uniform initializer: max %v < min %v", hi, lo)
	}
	dist := distuv.Uniform{Min: lo, Max: hi, Src: src}
	return func(weight *Tensor[float32]) {
		fillFrom(weight, dist.Rand)
	}, nil
}

func normalInitializer(spec InitializerSpec, src rand.Source) (Initializer, error) {
	mean, stddev := spec.param("mean", 0), spec.param("stddev", 0.05)
	if stddev < 0 {
		return nil, fmt.Errorf("normal initializer: negative stddev %v", stddev)
	}
	dist := distuv.Normal{Mu: mean, Sigma: stddev, Src: src}
	return func(weight *Tensor[float32]) {
		fillFrom(weight, dist.Rand)
	}, nil
}

// truncatedNormalInitializer redraws samples falling more than two standard
// deviations from the mean.
func truncatedNormalInitializer(spec InitializerSpec, src rand.Source) (Initializer, error) {
	mean, stddev := spec.param("mean", 0), spec.param("stddev", 0.05)
	if stddev < 0 {
		return nil, fmt.Errorf("truncated_normal initializer: negative stddev %v", stddev)
	}
	dist := distuv.Normal{Mu: mean, Sigma: stddev, Src: src}
	return func(weight *Tensor[float32]) {
		fillFrom(weight, func() float64 {
			for {
				v := dist.Rand()
				if math.Abs(v-mean) <= 2*stddev {
					return v
				}
			}
		})
	}, nil
}

func xavierUniformInitializer(spec InitializerSpec, src rand.Source) (Initializer, error) {
	gain := spec.param("gain", 1)
	return func(weight *Tensor[float32]) {
		fanIn, fanOut := fans(weight)
		bound := gain * math.Sqrt(6/(fanIn+fanOut))
		dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
		fillFrom(weight, dist.Rand)
	}, nil
}

func xavierNormalInitializer(spec InitializerSpec, src rand.Source) (Initializer, error) {
	gain := spec.param("gain", 1)
	return func(weight *Tensor[float32]) {
		fanIn, fanOut := fans(weight)
		dist := distuv.Normal{Mu: 0, Sigma: gain * math.Sqrt(2/(fanIn+fanOut)), Src: src}
		fillFrom(weight, dist.Rand)
	}, nil
}

// fixedInitializer fills with v and ignores every parameter.
func fixedInitializer(v float32) InitializerFactory {
	return func(InitializerSpec, rand.Source) (Initializer, error) {
		return fill(v), nil
	}
}

func constantInitializer(spec InitializerSpec, _ rand.Source) (Initializer, error) {
	return fill(float32(spec.param("value", 0))), nil
}

func fill(v float32) Initializer {
	return func(weight *Tensor[float32]) {
		for i := range weight.Data {
			weight.Data[i] = v
		}
	}
}
