package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pagehive/hopper/internal/queueset"
)

// Bus is a minimal in-process change notifier. Handlers run synchronously
// on the emitting goroutine.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]func()
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]func())}
}

// OnChange registers fn for the named event.
func (b *Bus) OnChange(event string, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], fn)
}

// Emit runs every handler registered for the named event.
func (b *Bus) Emit(event string) {
	b.mu.Lock()
	fns := append(([]func())(nil), b.handlers[event]...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Settings binds the loaded queue weights to a change bus. It satisfies the
// configuration contract the QueueSet requires at construction: the weights
// mapping plus a mandatory change-notification capability.
type Settings struct {
	mu      sync.RWMutex
	weights map[string]int
	bus     *Bus
}

// NewSettings wraps weights and bus. A nil bus is a deployment error: the
// dispatch table could never be rebuilt, so construction fails.
func NewSettings(weights map[string]int, bus *Bus) (*Settings, error) {
	if bus == nil {
		return nil, fmt.Errorf("config: settings require a change notification bus")
	}
	return &Settings{weights: weights, bus: bus}, nil
}

// Weights returns the current queue weight mapping.
func (s *Settings) Weights() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights
}

// OnChange registers fn on the underlying bus.
func (s *Settings) OnChange(event string, fn func()) {
	s.bus.OnChange(event, fn)
}

// UpdateWeights swaps the weight mapping and notifies subscribers so the
// dispatch table gets rebuilt.
func (s *Settings) UpdateWeights(weights map[string]int) {
	s.mu.Lock()
	s.weights = weights
	s.mu.Unlock()
	s.bus.Emit(queueset.EventWeightsChanged)
}

// Watch re-reads the weights section whenever the config file changes on
// disk and pushes the update through s. Invalid updates are logged and
// dropped; the previous weights stay in effect.
func Watch(v *viper.Viper, s *Settings, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := Parse(v)
		if err != nil {
			logger.Error("ignoring config file change", zap.Error(err))
			return
		}
		logger.Info("config file changed, updating queue weights",
			zap.Int("queues", len(cfg.Weights)),
		)
		s.UpdateWeights(cfg.Weights)
	})
	v.WatchConfig()
}
