package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	appLog "boxdisplay/internal/log"
)

// MQTTOptions configures an MQTT listener.
type MQTTOptions struct {
	// Broker is a URL such as tcp://localhost:1883.
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	// OnReady, if set, is called once the topic subscription succeeds.
	OnReady func()
}

// MQTT subscribes to a topic whose messages carry a box number.
type MQTT struct {
	opts    MQTTOptions
	handler Handler
	lost    chan error
}

// NewMQTT validates opts. Nothing connects until Run.
func NewMQTT(opts MQTTOptions, h Handler) (*MQTT, error) {
	if opts.Broker == "" {
		return nil, errors.New("notify: mqtt broker not set")
	}
	if opts.Topic == "" {
		return nil, errors.New("notify: mqtt topic not set")
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("boxdisplay-%d", time.Now().Unix())
	}
	return &MQTT{opts: opts, handler: h, lost: make(chan error, 1)}, nil
}

func (m *MQTT) Name() string { return SourceMQTT }

// Run connects, subscribes and blocks until ctx is done or the broker
// connection is lost.
func (m *MQTT) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	dispatch, stop := m.messageHandler(ctx, &wg)
	defer stop()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.opts.Broker)
	opts.SetClientID(m.opts.ClientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case m.lost <- err:
		default:
		}
	})

	client := mqtt.NewClient(opts)
	appLog.Info("mqtt connecting", "broker", m.opts.Broker)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("notify: mqtt connect: %w", token.Error())
	}
	defer client.Disconnect(250)

	if token := client.Subscribe(m.opts.Topic, m.opts.QoS, dispatch); token.Wait() && token.Error() != nil {
		return fmt.Errorf("notify: mqtt subscribe %q: %w", m.opts.Topic, token.Error())
	}
	appLog.Info("mqtt subscribed", "topic", m.opts.Topic)
	if m.opts.OnReady != nil {
		m.opts.OnReady()
	}

	select {
	case <-ctx.Done():
		client.Unsubscribe(m.opts.Topic)
		return nil
	case err := <-m.lost:
		return fmt.Errorf("notify: mqtt connection lost: %w", err)
	}
}

// messageHandler returns the paho callback for ctx. Each handler call runs
// on its own goroutine tracked by wg; after stop no new calls are started.
func (m *MQTT) messageHandler(ctx context.Context, wg *sync.WaitGroup) (mqtt.MessageHandler, func()) {
	var mu sync.Mutex
	stopped := false

	h := func(_ mqtt.Client, msg mqtt.Message) {
		id, err := ParseBoxNumber(msg.Payload())
		if err != nil {
			appLog.Warn("mqtt: bad payload", "topic", msg.Topic(), "err", err.Error())
			return
		}
		appLog.Info("mqtt event", "topic", msg.Topic(), "box", id)

		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.handler(ctx, id)
		}()
	}
	stop := func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
	}
	return h, stop
}
