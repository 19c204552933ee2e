package dronesdk

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

// MonitorConfig holds the thresholds the telemetry monitors compare
// against. Zero values are replaced by the defaults.
type MonitorConfig struct {
	LowBattery         float64 `toml:"low_battery" yaml:"lowBattery"`
	CriticalBattery    float64 `toml:"critical_battery" yaml:"criticalBattery"`
	MaxHDOP            float64 `toml:"max_hdop" yaml:"maxHDOP"`
	VibrationThreshold float64 `toml:"vibration_threshold" yaml:"vibrationThreshold"`
	// milliseconds between vibration checks
	VibrationInterval int `toml:"vibration_interval_ms" yaml:"vibrationIntervalMs"`
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.LowBattery == 0 {
		c.LowBattery = 20
	}
	if c.CriticalBattery == 0 {
		c.CriticalBattery = 10
	}
	if c.MaxHDOP == 0 {
		c.MaxHDOP = 5
	}
	if c.VibrationThreshold == 0 {
		c.VibrationThreshold = DefaultVibrationThreshold
	}
	if c.VibrationInterval == 0 {
		c.VibrationInterval = 1000
	}
	return c
}

// SetClock replaces the clock that paces the vibration monitor. It must be
// called before StartMonitoring.
func (h *EventHandler) SetClock(c clock.Clock) {
	h.clock = c
}

// StartMonitoring launches the battery, GPS and vibration monitors. Each
// runs until StopMonitoring, a later StartMonitoring, the end of the
// context or the close of its stream.
func (h *EventHandler) StartMonitoring(ctx context.Context, s *Stream, p *Processor) {
	h.monitorMu.Lock()
	if h.stop != nil {
		close(h.stop)
	}
	stop := make(chan struct{})
	h.stop = stop
	h.monitoring.Store(true)
	h.monitorMu.Unlock()

	battery, unsubBattery := s.SubscribeBattery(channelBufferSize)
	gps, unsubGPS := s.SubscribeGPS(channelBufferSize)

	h.monitors.Add(3)
	go func() {
		defer h.monitors.Done()
		defer unsubBattery()
		h.monitorBattery(ctx, stop, battery)
	}()
	go func() {
		defer h.monitors.Done()
		defer unsubGPS()
		h.monitorGPS(ctx, stop, gps)
	}()
	go func() {
		defer h.monitors.Done()
		h.monitorVibration(ctx, stop, p)
	}()
	log.Info("event monitoring started")
}

// StopMonitoring tells the running monitors to finish. It does not wait
// for them; use WaitMonitors for that.
func (h *EventHandler) StopMonitoring() {
	h.monitorMu.Lock()
	defer h.monitorMu.Unlock()
	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
	h.monitoring.Store(false)
}

func (h *EventHandler) WaitMonitors() {
	h.monitors.Wait()
}

func (h *EventHandler) Monitoring() bool {
	return h.monitoring.Load()
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (h *EventHandler) monitorBattery(ctx context.Context, stop <-chan struct{}, samples <-chan BatterySample) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case b, ok := <-samples:
			if !ok || stopped(stop) {
				return
			}
			// both events fire for a critically low sample
			if b.Remaining < h.config.LowBattery {
				_ = h.Trigger(ctx, EventLowBattery, b)
			}
			if b.Remaining < h.config.CriticalBattery {
				_ = h.Trigger(ctx, EventCriticalBattery, b)
			}
		}
	}
}

func (h *EventHandler) monitorGPS(ctx context.Context, stop <-chan struct{}, samples <-chan GPSSample) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case g, ok := <-samples:
			if !ok || stopped(stop) {
				return
			}
			if g.HDOP > h.config.MaxHDOP {
				_ = h.Trigger(ctx, EventPoorGPSSignal, g)
			}
		}
	}
}

func (h *EventHandler) monitorVibration(ctx context.Context, stop <-chan struct{}, p *Processor) {
	interval := time.Duration(h.config.VibrationInterval) * time.Millisecond
	for !stopped(stop) {
		if p.DetectVibration(h.config.VibrationThreshold) {
			_ = h.Trigger(ctx, EventExcessiveVibration, nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-h.clock.After(interval):
		}
	}
}
