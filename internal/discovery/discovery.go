package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service receivers advertise on the local network.
const ServiceType = "_googlecast._tcp"

// Defaults for sweep behaviour.
const (
	// DefaultTimeout bounds one discovery sweep.
	DefaultTimeout = 3 * time.Second

	// DefaultMaxDevices caps the devices collected per sweep.
	DefaultMaxDevices = 20

	// DefaultInterval is the period between background sweeps.
	DefaultInterval = 30 * time.Second

	// defaultPort is assumed when an advertisement omits the port.
	defaultPort = 8009

	// defaultResultBuffer is the capacity of the periodic results channel.
	defaultResultBuffer = 32
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Device is one receiver advertisement observed on the local network.
type Device struct {
	// Name is the friendly name from the TXT record ("fn"), falling back to
	// the mDNS instance name.
	Name string `json:"name"`

	// IPAddress is the receiver's IPv4 address.
	IPAddress string `json:"ip_address"`

	// Port is the control-channel port, normally 8009.
	Port int `json:"port"`

	// InstanceName is the raw mDNS instance name.
	InstanceName string `json:"instance_name"`

	// Model is the hardware model from the TXT record ("md").
	Model string `json:"model,omitempty"`

	// UUID is the receiver identifier from the TXT record ("id").
	UUID string `json:"uuid,omitempty"`
}

// Valid reports whether the advertisement carries enough information to open
// a control channel.
func (d Device) Valid() bool {
	return d.IPAddress != "" && d.Port > 0
}

// Config holds discovery tunables. The zero value is usable; every field has
// a default applied by NewEngine.
type Config struct {
	// Service is the mDNS service type to query. Default: ServiceType.
	Service string

	// Timeout bounds one sweep. Default: 3 seconds.
	Timeout time.Duration

	// MaxDevices caps the devices collected per sweep. Default: 20.
	MaxDevices int

	// Interval is the period between background sweeps. Default: 30 seconds.
	Interval time.Duration

	// EnableIPv6 also queries over IPv6. Off by default; receivers
	// advertise over IPv4 and only IPv4 addresses are collected.
	EnableIPv6 bool
}

// queryFunc issues one mDNS query, delivering entries to params.Entries
// until the timeout elapses. Overridable for tests.
type queryFunc func(params *mdns.QueryParam) error

// Engine discovers receivers on the local network.
//
// One Engine serializes one-shot sweeps: a second sweep requested while one
// is running is rejected with ErrDiscoveryActive rather than queued, since
// concurrent sweeps would only duplicate multicast traffic. Starting the
// background periodic mode is rejected the same way while a one-shot sweep
// is in flight.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Engine struct {
	cfg   Config
	query queryFunc

	mu       sync.Mutex
	active   bool
	periodic chan struct{} // non-nil while periodic mode runs
	wg       sync.WaitGroup

	results chan Device
	seen    map[string]struct{}
	seenMu  sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewEngine creates a discovery engine with defaults applied.
func NewEngine(cfg Config) *Engine {
	if cfg.Service == "" {
		cfg.Service = ServiceType
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxDevices == 0 {
		cfg.MaxDevices = DefaultMaxDevices
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}

	return &Engine{
		cfg:     cfg,
		query:   mdns.Query,
		results: make(chan Device, defaultResultBuffer),
		seen:    make(map[string]struct{}),
	}
}

// Discover runs one blocking sweep and returns the valid devices observed.
//
// Returns ErrDiscoveryActive without sweeping when another one-shot sweep is
// already running. An empty result is not an error; absence of receivers is
// a normal network condition.
func (e *Engine) Discover(ctx context.Context) ([]Device, error) {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return nil, ErrDiscoveryActive
	}
	e.active = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active = false
		e.mu.Unlock()
	}()

	return e.sweep(ctx)
}

// DiscoverAsync runs one sweep in the background and invokes done exactly
// once with the result. The active-sweep exclusion is checked synchronously
// so the caller learns about a rejected request immediately.
func (e *Engine) DiscoverAsync(ctx context.Context, done func([]Device, error)) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return ErrDiscoveryActive
	}
	e.active = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		devices, err := e.sweep(ctx)
		e.mu.Lock()
		e.active = false
		e.mu.Unlock()
		done(devices, err)
	}()
	return nil
}

// StartPeriodic launches background sweeps on the configured interval.
// Newly observed devices are delivered on Results(); devices already seen in
// a previous sweep are not re-delivered.
//
// Returns ErrPeriodicActive if periodic mode is already running and
// ErrDiscoveryActive if a one-shot sweep is in flight.
func (e *Engine) StartPeriodic(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.periodic != nil {
		return ErrPeriodicActive
	}
	if e.active {
		return ErrDiscoveryActive
	}

	stop := make(chan struct{})
	e.periodic = stop

	e.wg.Add(1)
	go e.periodicLoop(ctx, stop)
	return nil
}

// StopPeriodic stops background sweeps and waits for the loop to exit.
// No-op if periodic mode is not running.
func (e *Engine) StopPeriodic() {
	e.mu.Lock()
	stop := e.periodic
	e.periodic = nil
	e.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	e.wg.Wait()
}

// Results returns the channel carrying devices observed by periodic sweeps.
// The channel is never closed; deliveries are dropped when the consumer
// falls behind.
func (e *Engine) Results() <-chan Device {
	return e.results
}

func (e *Engine) periodicLoop(ctx context.Context, stop chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	// First sweep immediately; waiting a full interval before the first
	// result makes startup look broken.
	e.periodicSweep(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.periodicSweep(ctx)
		}
	}
}

func (e *Engine) periodicSweep(ctx context.Context) {
	devices, err := e.sweep(ctx)
	if err != nil {
		e.logWarn("periodic sweep failed", "error", err)
		return
	}

	for _, device := range devices {
		key := device.UUID
		if key == "" {
			key = device.InstanceName
		}

		e.seenMu.Lock()
		_, dup := e.seen[key]
		if !dup {
			e.seen[key] = struct{}{}
		}
		e.seenMu.Unlock()
		if dup {
			continue
		}

		select {
		case e.results <- device:
		default:
			e.logWarn("results channel full, dropping device", "name", device.Name)
		}
	}
}

// sweep issues one mDNS query and collects valid devices up to the cap.
func (e *Engine) sweep(ctx context.Context) ([]Device, error) {
	e.logDebug("starting discovery sweep",
		"service", e.cfg.Service,
		"timeout", e.cfg.Timeout.String(),
	)

	entries := make(chan *mdns.ServiceEntry, e.cfg.MaxDevices)
	queryErr := make(chan error, 1)
	go func() {
		queryErr <- e.query(&mdns.QueryParam{
			Service:     e.cfg.Service,
			Timeout:     e.cfg.Timeout,
			Entries:     entries,
			DisableIPv6: !e.cfg.EnableIPv6,
		})
		close(entries)
	}()

	// Unblocks the query goroutine when collection stops early.
	drain := func() {
		go func() {
			for range entries {
			}
		}()
	}

	var devices []Device
collect:
	for {
		select {
		case <-ctx.Done():
			drain()
			return devices, ctx.Err()
		case entry, ok := <-entries:
			if !ok {
				break collect
			}
			device, ok := parseEntry(entry)
			if !ok {
				continue
			}
			devices = append(devices, device)
			if len(devices) >= e.cfg.MaxDevices {
				e.logDebug("device cap reached", "max", e.cfg.MaxDevices)
				drain()
				break collect
			}
		}
	}

	if err := <-queryErr; err != nil {
		return devices, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	e.logInfo("discovery sweep complete", "devices", len(devices))
	return devices, nil
}

// parseEntry converts one mDNS service entry into a Device. Entries without
// an IPv4 address are dropped.
func parseEntry(entry *mdns.ServiceEntry) (Device, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return Device{}, false
	}

	device := Device{
		IPAddress:    entry.AddrV4.String(),
		Port:         entry.Port,
		InstanceName: instanceName(entry.Name),
	}
	if device.Port == 0 {
		device.Port = defaultPort
	}

	// TXT records are key=value pairs; fn names the device, md its model,
	// id its identifier.
	for _, field := range entry.InfoFields {
		key, value, found := strings.Cut(field, "=")
		if !found {
			continue
		}
		switch key {
		case "fn":
			device.Name = value
		case "md":
			device.Model = value
		case "id":
			device.UUID = value
		}
	}

	if device.Name == "" {
		device.Name = device.InstanceName
	}

	return device, device.Valid()
}

// instanceName strips the service and domain suffix from a full mDNS name,
// leaving the bare instance label.
func instanceName(name string) string {
	name = strings.TrimSuffix(name, ".")
	if idx := strings.Index(name, "."+ServiceType); idx > 0 {
		name = name[:idx]
	}
	return name
}

// SetLogger sets the logger for this engine.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

func (e *Engine) getLogger() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (e *Engine) logWarn(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
