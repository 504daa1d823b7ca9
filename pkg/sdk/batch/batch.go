// Package batch buffers backend-mode events per app key and device before
// they are turned into stored requests.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/beacon/pkg/sdk/records"
)

// Default queue sizes
const (
	DefaultDeviceQueueSize = 10
	DefaultAppQueueSize    = 1000
	DefaultGlobalQueueSize = 10000
	DefaultDumpEvery       = 30 * time.Second
)

// FlushFunc receives the events of one (device, app) bucket. It is called
// with the pool locked and must not call back into the pool.
type FlushFunc func(deviceID, appKey string, events []*records.Event)

// Config holds configuration for the event pool
type Config struct {
	DeviceQueueSize int
	AppQueueSize    int
	GlobalQueueSize int
	DumpEvery       time.Duration
}

// WithDefaults fills unset sizes
func (c Config) WithDefaults() Config {
	if c.DeviceQueueSize <= 0 {
		c.DeviceQueueSize = DefaultDeviceQueueSize
	}
	if c.AppQueueSize <= 0 {
		c.AppQueueSize = DefaultAppQueueSize
	}
	if c.GlobalQueueSize <= 0 {
		c.GlobalQueueSize = DefaultGlobalQueueSize
	}
	if c.DumpEvery <= 0 {
		c.DumpEvery = DefaultDumpEvery
	}
	return c
}

type appBucket struct {
	devices map[string][]*records.Event
	order   []string // device ids, oldest bucket first
	count   int
}

// EventPool holds events per (app key, device id) and flushes them when a
// device, app or global threshold is reached
type EventPool struct {
	config Config
	flush  FlushFunc

	mu       sync.Mutex
	apps     map[string]*appBucket
	appOrder []string
	global   int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new event pool
func New(flush FlushFunc, config Config) *EventPool {
	return &EventPool{
		config: config.WithDefaults(),
		flush:  flush,
		apps:   make(map[string]*appBucket),
	}
}

// Start starts the periodic dump loop
func (p *EventPool) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go p.dumpLoop()
	return nil
}

// Stop stops the dump loop and flushes every bucket
func (p *EventPool) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
		p.cancel = nil
	}
	p.Dump()
}

// Put adds an event to the bucket of (appKey, deviceID), then checks the
// global, app and device thresholds in that order.
func (p *EventPool) Put(deviceID, appKey string, ev *records.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	app := p.ensure(deviceID, appKey)
	app.devices[deviceID] = append(app.devices[deviceID], ev)
	app.count++
	p.global++

	switch {
	case p.global >= p.config.GlobalQueueSize:
		for _, key := range p.appOrder {
			p.flushApp(key)
		}
	case app.count >= p.config.AppQueueSize:
		p.flushApp(appKey)
	case len(app.devices[deviceID]) >= p.config.DeviceQueueSize:
		p.flushDevice(appKey, deviceID)
	}
}

// ensure returns the app bucket, creating it and the device bucket as
// needed. A device bucket already at capacity is flushed first.
func (p *EventPool) ensure(deviceID, appKey string) *appBucket {
	app, ok := p.apps[appKey]
	if !ok {
		app = &appBucket{devices: make(map[string][]*records.Event)}
		p.apps[appKey] = app
		p.appOrder = append(p.appOrder, appKey)
	}

	events, ok := app.devices[deviceID]
	if !ok {
		app.devices[deviceID] = nil
		app.order = append(app.order, deviceID)
	} else if len(events) >= p.config.DeviceQueueSize {
		p.flushDevice(appKey, deviceID)
		app.devices[deviceID] = nil
		app.order = append(app.order, deviceID)
	}
	return app
}

// flushDevice removes one bucket and hands its events to the callback
func (p *EventPool) flushDevice(appKey, deviceID string) {
	app := p.apps[appKey]
	events := app.devices[deviceID]

	delete(app.devices, deviceID)
	for i, id := range app.order {
		if id == deviceID {
			app.order = append(app.order[:i], app.order[i+1:]...)
			break
		}
	}
	app.count -= len(events)
	p.global -= len(events)

	if len(events) > 0 {
		p.flush(deviceID, appKey, events)
	}
}

// flushApp flushes every device bucket of one app, oldest first
func (p *EventPool) flushApp(appKey string) {
	app, ok := p.apps[appKey]
	if !ok {
		return
	}
	for len(app.order) > 0 {
		p.flushDevice(appKey, app.order[0])
	}
}

// Dump flushes every bucket unconditionally
func (p *EventPool) Dump() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, key := range p.appOrder {
		p.flushApp(key)
	}
}

// Counts returns the buffered event count per app key and in total
func (p *EventPool) Counts() (perApp map[string]int, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	perApp = make(map[string]int, len(p.apps))
	for key, app := range p.apps {
		perApp[key] = app.count
	}
	return perApp, p.global
}

// DeviceCount returns the number of events buffered for one bucket
func (p *EventPool) DeviceCount(deviceID, appKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if app, ok := p.apps[appKey]; ok {
		return len(app.devices[deviceID])
	}
	return 0
}

// dumpLoop periodically flushes every bucket so low-traffic devices are
// not held back indefinitely
func (p *EventPool) dumpLoop() {
	defer close(p.done)

	ticker := time.NewTicker(p.config.DumpEvery)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.Dump()
		}
	}
}
