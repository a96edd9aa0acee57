package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

// fakeQuery returns a queryFunc that delivers the given entries and then
// returns err.
func fakeQuery(entries []*mdns.ServiceEntry, err error) queryFunc {
	return func(params *mdns.QueryParam) error {
		for _, entry := range entries {
			params.Entries <- entry
		}
		return err
	}
}

func castEntry(instance, ip string, port int, txt ...string) *mdns.ServiceEntry {
	return &mdns.ServiceEntry{
		Name:       instance + "._googlecast._tcp.local.",
		AddrV4:     net.ParseIP(ip),
		Port:       port,
		InfoFields: txt,
	}
}

func TestParseEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		want  Device
		ok    bool
	}{
		{
			name: "full txt record",
			entry: castEntry("Chromecast-abc123", "192.168.1.50", 8009,
				"id=abc123", "md=Chromecast Ultra", "fn=Living Room TV"),
			want: Device{
				Name:         "Living Room TV",
				IPAddress:    "192.168.1.50",
				Port:         8009,
				InstanceName: "Chromecast-abc123",
				Model:        "Chromecast Ultra",
				UUID:         "abc123",
			},
			ok: true,
		},
		{
			name:  "missing friendly name falls back to instance",
			entry: castEntry("Kitchen-speaker", "192.168.1.51", 8009, "md=Google Home"),
			want: Device{
				Name:         "Kitchen-speaker",
				IPAddress:    "192.168.1.51",
				Port:         8009,
				InstanceName: "Kitchen-speaker",
				Model:        "Google Home",
			},
			ok: true,
		},
		{
			name:  "zero port defaulted",
			entry: castEntry("Bedroom", "192.168.1.52", 0, "fn=Bedroom Display"),
			want: Device{
				Name:         "Bedroom Display",
				IPAddress:    "192.168.1.52",
				Port:         8009,
				InstanceName: "Bedroom",
			},
			ok: true,
		},
		{
			name: "malformed txt fields skipped",
			entry: castEntry("Hall", "192.168.1.53", 8009,
				"notakeyvalue", "fn=Hallway", "=orphan"),
			want: Device{
				Name:         "Hallway",
				IPAddress:    "192.168.1.53",
				Port:         8009,
				InstanceName: "Hall",
			},
			ok: true,
		},
		{
			name: "no ipv4 address dropped",
			entry: &mdns.ServiceEntry{
				Name: "Ghost._googlecast._tcp.local.",
				Port: 8009,
			},
			ok: false,
		},
		{name: "nil entry dropped", entry: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseEntry(tt.entry)
			if ok != tt.ok {
				t.Fatalf("parseEntry() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("parseEntry() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	engine := NewEngine(Config{})
	engine.query = fakeQuery([]*mdns.ServiceEntry{
		castEntry("A", "192.168.1.10", 8009, "id=aaa", "fn=Device A"),
		castEntry("B", "192.168.1.11", 8009, "id=bbb", "fn=Device B"),
		nil, // dropped
	}, nil)

	devices, err := engine.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	if devices[0].Name != "Device A" || devices[1].Name != "Device B" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestDiscoverEmptyIsNotAnError(t *testing.T) {
	engine := NewEngine(Config{})
	engine.query = fakeQuery(nil, nil)

	devices, err := engine.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("got %d devices, want 0", len(devices))
	}
}

func TestDiscoverCapsDevices(t *testing.T) {
	entries := make([]*mdns.ServiceEntry, 10)
	for i := range entries {
		entries[i] = castEntry("Dev", "192.168.1.10", 8009, "fn=Dev")
	}

	engine := NewEngine(Config{MaxDevices: 3})
	engine.query = fakeQuery(entries, nil)

	devices, err := engine.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(devices) != 3 {
		t.Errorf("got %d devices, want cap of 3", len(devices))
	}
}

func TestDiscoverQueryFailure(t *testing.T) {
	engine := NewEngine(Config{})
	engine.query = fakeQuery(nil, errors.New("no multicast interface"))

	_, err := engine.Discover(context.Background())
	if !errors.Is(err, ErrQueryFailed) {
		t.Errorf("Discover() error = %v, want ErrQueryFailed", err)
	}
}

func TestDiscoverMutualExclusion(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	engine := NewEngine(Config{})
	engine.query = func(params *mdns.QueryParam) error {
		close(started)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = engine.Discover(context.Background())
	}()

	<-started
	if _, err := engine.Discover(context.Background()); !errors.Is(err, ErrDiscoveryActive) {
		t.Errorf("concurrent Discover() error = %v, want ErrDiscoveryActive", err)
	}

	close(release)
	wg.Wait()

	// The exclusion lifts once the first sweep completes.
	engine.query = fakeQuery(nil, nil)
	if _, err := engine.Discover(context.Background()); err != nil {
		t.Errorf("Discover() after release error = %v", err)
	}
}

func TestStartPeriodicRejectedWhileSweepActive(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	engine := NewEngine(Config{Interval: time.Hour})
	engine.query = func(params *mdns.QueryParam) error {
		close(started)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = engine.Discover(context.Background())
	}()

	<-started
	if err := engine.StartPeriodic(context.Background()); !errors.Is(err, ErrDiscoveryActive) {
		t.Errorf("StartPeriodic() during sweep error = %v, want ErrDiscoveryActive", err)
	}

	close(release)
	wg.Wait()

	// Once the sweep completes, periodic mode can start.
	engine.query = fakeQuery(nil, nil)
	if err := engine.StartPeriodic(context.Background()); err != nil {
		t.Errorf("StartPeriodic() after sweep error = %v", err)
	}
	engine.StopPeriodic()
}

func TestQueryIPv6Flag(t *testing.T) {
	tests := []struct {
		name        string
		enableIPv6  bool
		wantDisable bool
	}{
		{name: "ipv4 only by default", enableIPv6: false, wantDisable: true},
		{name: "ipv6 enabled", enableIPv6: true, wantDisable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *mdns.QueryParam
			engine := NewEngine(Config{EnableIPv6: tt.enableIPv6})
			engine.query = func(params *mdns.QueryParam) error {
				got = params
				return nil
			}

			if _, err := engine.Discover(context.Background()); err != nil {
				t.Fatalf("Discover() error = %v", err)
			}
			if got == nil {
				t.Fatal("query was not issued")
			}
			if got.DisableIPv6 != tt.wantDisable {
				t.Errorf("DisableIPv6 = %v, want %v", got.DisableIPv6, tt.wantDisable)
			}
		})
	}
}

func TestDiscoverAsync(t *testing.T) {
	engine := NewEngine(Config{})
	engine.query = fakeQuery([]*mdns.ServiceEntry{
		castEntry("A", "192.168.1.10", 8009, "fn=Device A"),
	}, nil)

	done := make(chan []Device, 1)
	err := engine.DiscoverAsync(context.Background(), func(devices []Device, err error) {
		if err != nil {
			t.Errorf("async sweep error = %v", err)
		}
		done <- devices
	})
	if err != nil {
		t.Fatalf("DiscoverAsync() error = %v", err)
	}

	select {
	case devices := <-done:
		if len(devices) != 1 || devices[0].Name != "Device A" {
			t.Errorf("devices = %+v", devices)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async result")
	}
}

func TestPeriodicDeliversNewDevicesOnce(t *testing.T) {
	engine := NewEngine(Config{Interval: 10 * time.Millisecond})
	engine.query = fakeQuery([]*mdns.ServiceEntry{
		castEntry("A", "192.168.1.10", 8009, "id=aaa", "fn=Device A"),
	}, nil)

	if err := engine.StartPeriodic(context.Background()); err != nil {
		t.Fatalf("StartPeriodic() error = %v", err)
	}
	defer engine.StopPeriodic()

	select {
	case device := <-engine.Results():
		if device.UUID != "aaa" {
			t.Errorf("device = %+v", device)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for periodic result")
	}

	// The same device must not be re-delivered on subsequent sweeps.
	select {
	case device := <-engine.Results():
		t.Errorf("device %+v delivered twice", device)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartPeriodicTwiceRejected(t *testing.T) {
	engine := NewEngine(Config{Interval: time.Hour})
	engine.query = fakeQuery(nil, nil)

	if err := engine.StartPeriodic(context.Background()); err != nil {
		t.Fatalf("StartPeriodic() error = %v", err)
	}
	defer engine.StopPeriodic()

	if err := engine.StartPeriodic(context.Background()); !errors.Is(err, ErrPeriodicActive) {
		t.Errorf("second StartPeriodic() error = %v, want ErrPeriodicActive", err)
	}
}

func TestStopPeriodicIdempotent(t *testing.T) {
	engine := NewEngine(Config{Interval: time.Hour})
	engine.query = fakeQuery(nil, nil)

	if err := engine.StartPeriodic(context.Background()); err != nil {
		t.Fatalf("StartPeriodic() error = %v", err)
	}
	engine.StopPeriodic()
	engine.StopPeriodic()
}

func TestDeviceValid(t *testing.T) {
	tests := []struct {
		name   string
		device Device
		want   bool
	}{
		{name: "complete", device: Device{IPAddress: "192.168.1.1", Port: 8009}, want: true},
		{name: "no address", device: Device{Port: 8009}, want: false},
		{name: "no port", device: Device{IPAddress: "192.168.1.1"}, want: false},
		{name: "empty", device: Device{}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.device.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
