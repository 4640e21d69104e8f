package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	appLog "boxdisplay/internal/log"
)

// Pusher protocol event names.
const (
	evConnectionEstablished = "pusher:connection_established"
	evSubscribe             = "pusher:subscribe"
	evSubscribed            = "pusher_internal:subscription_succeeded"
	evPing                  = "pusher:ping"
	evPong                  = "pusher:pong"
	evError                 = "pusher:error"
)

// DefaultEvents are the channel events that mean a box changed.
var DefaultEvents = []string{"file-uploaded", "file-deleted"}

const (
	handshakeTimeout       = 10 * time.Second
	defaultActivityTimeout = 120 * time.Second
)

// PusherOptions configures a Pusher listener.
type PusherOptions struct {
	AppKey  string
	Cluster string
	Channel string
	Events  []string
	// URL overrides the endpoint derived from Cluster and AppKey.
	URL string
	// OnReady, if set, is called once the channel subscription is sent.
	OnReady func()
}

// Pusher subscribes to one public channel on the Pusher websocket API.
type Pusher struct {
	opts    PusherOptions
	events  map[string]bool
	handler Handler
	dialer  *websocket.Dialer

	writeMu sync.Mutex
}

type pusherMessage struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type pusherInbound struct {
	Event   string              `json:"event"`
	Channel string              `json:"channel"`
	Data    jsoniter.RawMessage `json:"data"`
}

type connectionInfo struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// NewPusher validates opts and returns a listener. Nothing is dialed until
// Run.
func NewPusher(opts PusherOptions, h Handler) (*Pusher, error) {
	if opts.URL == "" && opts.AppKey == "" {
		return nil, errors.New("notify: pusher app key not set")
	}
	if opts.Channel == "" {
		return nil, errors.New("notify: pusher channel not set")
	}
	if opts.Cluster == "" {
		opts.Cluster = "us2"
	}
	if len(opts.Events) == 0 {
		opts.Events = DefaultEvents
	}
	events := make(map[string]bool, len(opts.Events))
	for _, e := range opts.Events {
		events[e] = true
	}
	return &Pusher{
		opts:    opts,
		events:  events,
		handler: h,
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}, nil
}

func (p *Pusher) Name() string { return SourcePusher }

// Endpoint is the websocket URL dialed by Run.
func (p *Pusher) Endpoint() string {
	if p.opts.URL != "" {
		return p.opts.URL
	}
	u := url.URL{
		Scheme:   "wss",
		Host:     fmt.Sprintf("ws-%s.pusher.com", p.opts.Cluster),
		Path:     "/app/" + p.opts.AppKey,
		RawQuery: "protocol=7&client=boxdisplay&version=1.0",
	}
	return u.String()
}

func (p *Pusher) send(conn *websocket.Conn, msg pusherMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func readInbound(conn *websocket.Conn) (pusherInbound, error) {
	var in pusherInbound
	_, data, err := conn.ReadMessage()
	if err != nil {
		return in, err
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("notify: decode pusher frame: %w", err)
	}
	return in, nil
}

// decodeData unwraps Pusher's string-encoded data field into v.
func decodeData(raw []byte, v any) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = []byte(s)
	}
	return json.Unmarshal(raw, v)
}

// Run connects, subscribes and dispatches events until ctx is done or the
// connection drops.
func (p *Pusher) Run(ctx context.Context) error {
	endpoint := p.Endpoint()
	conn, _, err := p.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: pusher dial: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	first, err := readInbound(conn)
	if err != nil {
		return fmt.Errorf("notify: pusher handshake: %w", err)
	}
	if first.Event != evConnectionEstablished {
		return fmt.Errorf("notify: pusher handshake: unexpected event %q", first.Event)
	}
	var info connectionInfo
	if err := decodeData(first.Data, &info); err != nil {
		appLog.Warn("pusher: unreadable connection info", "err", err.Error())
	}
	activity := defaultActivityTimeout
	if info.ActivityTimeout > 0 {
		activity = time.Duration(info.ActivityTimeout) * time.Second
	}

	if err := p.send(conn, pusherMessage{
		Event: evSubscribe,
		Data:  map[string]string{"channel": p.opts.Channel},
	}); err != nil {
		return fmt.Errorf("notify: pusher subscribe: %w", err)
	}
	appLog.Info("pusher connected", "socket_id", info.SocketID, "channel", p.opts.Channel)
	if p.opts.OnReady != nil {
		p.opts.OnReady()
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Keepalive and shutdown. Closing the connection unblocks the read loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(activity)
		defer t.Stop()
		for {
			select {
			case <-runCtx.Done():
				p.writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				p.writeMu.Unlock()
				conn.Close()
				return
			case <-t.C:
				if err := p.send(conn, pusherMessage{Event: evPing, Data: map[string]string{}}); err != nil {
					appLog.Warn("pusher: ping failed", "err", err.Error())
				}
			}
		}
	}()

	for {
		// The server pings within its activity timeout; silence beyond
		// twice that means the link is gone.
		conn.SetReadDeadline(time.Now().Add(2*activity + handshakeTimeout))
		in, err := readInbound(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("notify: pusher connection lost: %w", err)
		}
		p.dispatch(runCtx, conn, in, &wg)
	}
}

func (p *Pusher) dispatch(ctx context.Context, conn *websocket.Conn, in pusherInbound, wg *sync.WaitGroup) {
	switch in.Event {
	case evPing:
		if err := p.send(conn, pusherMessage{Event: evPong, Data: map[string]string{}}); err != nil {
			appLog.Warn("pusher: pong failed", "err", err.Error())
		}
	case evPong:
	case evSubscribed:
		appLog.Info("pusher subscribed", "channel", in.Channel)
	case evError:
		appLog.Warn("pusher error", "data", string(in.Data))
	default:
		if !p.events[in.Event] {
			appLog.Debug("pusher: ignoring event", "event", in.Event, "channel", in.Channel)
			return
		}
		id, err := ParseBoxNumber(in.Data)
		if err != nil {
			appLog.Warn("pusher: bad event payload", "event", in.Event, "err", err.Error())
			return
		}
		appLog.Info("pusher event", "event", in.Event, "box", id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.handler(ctx, id)
		}()
	}
}
