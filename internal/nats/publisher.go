package nats

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/internal/version"
)

// Publisher forwards bus events to NATS and hands inbound control messages
// to a callback. While NATS is unreachable events are dropped.
type Publisher struct {
	url    string
	bus    *events.Bus
	logger *slog.Logger

	mu        sync.Mutex
	conn      *nats.Conn
	unsubs    []func()
	control   *nats.Subscription
	onControl func(device string, msg ControlMessage)
	devices   []string
}

// NewPublisher creates a publisher for bus. logger may be nil.
func NewPublisher(url string, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		url:    url,
		bus:    bus,
		logger: logger.With("component", "nats-publisher"),
	}
}

// OnControl registers fn for control messages addressed to devices. It
// must be called before Start.
func (p *Publisher) OnControl(fn func(device string, msg ControlMessage), devices ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onControl = fn
	p.devices = devices
}

// Start connects and begins forwarding. On a failed first connection
// nothing is forwarded and the error is returned.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := nats.Connect(p.url,
		nats.Name(version.ClientName()),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return err
	}
	p.conn = conn
	p.logger.Info("Connected to NATS", "url", p.url)

	if p.onControl != nil && len(p.devices) > 0 {
		sub, err := conn.Subscribe(SubjectControlPrefix+".*.restart", p.handleControl)
		if err != nil {
			conn.Close()
			p.conn = nil
			return err
		}
		if err := conn.Flush(); err != nil {
			p.logger.Warn("Failed to flush control subscription", "error", err)
		}
		p.control = sub
	}

	p.unsubs = []func(){
		p.bus.Subscribe(func(e events.StreamStateChangedEvent) { p.publish(SubjectStreamState(e.Device), e) }),
		p.bus.Subscribe(func(e events.StreamMetricsEvent) { p.publish(SubjectStreamMetrics(e.Device), e) }),
		p.bus.Subscribe(func(e events.StreamErrorEvent) { p.publish(SubjectStreamErrors(e.Device), e) }),
		p.bus.Subscribe(func(e events.DeviceChangedEvent) { p.publish(SubjectDevices, e) }),
	}
	return nil
}

// Stop unsubscribes and closes the connection.
func (p *Publisher) Stop() {
	p.mu.Lock()
	unsubs, control, conn := p.unsubs, p.control, p.conn
	p.unsubs, p.control, p.conn = nil, nil, nil
	p.mu.Unlock()

	// Handlers take p.mu, so they are cancelled without holding it.
	for _, unsub := range unsubs {
		unsub()
	}
	if control != nil {
		_ = control.Unsubscribe()
	}
	if conn != nil {
		conn.Close()
		p.logger.Info("NATS publisher stopped")
	}
}

// IsConnected reports whether the connection is up.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && p.conn.IsConnected()
}

func (p *Publisher) publish(subject string, v any) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}

func (p *Publisher) handleControl(msg *nats.Msg) {
	ctrl, err := UnmarshalControl(msg.Data)
	if err != nil {
		p.logger.Warn("Failed to unmarshal control message", "error", err, "subject", msg.Subject)
		return
	}

	p.mu.Lock()
	fn, devices := p.onControl, p.devices
	p.mu.Unlock()

	for _, device := range devices {
		if msg.Subject == SubjectControlRestart(device) && ctrl.Action == ActionRestart {
			p.logger.Info("Received control command", "device", device, "action", ctrl.Action, "reason", ctrl.Reason)
			fn(device, ctrl)
			return
		}
	}
	p.logger.Debug("Ignoring control message", "subject", msg.Subject, "action", ctrl.Action)
}
