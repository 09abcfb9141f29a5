// Package notify mirrors session events to an MQTT broker so studio
// pipeline tools can react to transcription progress without polling the
// HTTP API. It is optional and only wired up when a broker URL is
// configured.
package notify

import (
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/events"
)

type Publisher struct {
	conn      mqtt.Client
	topic     string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL string
	Topic     string
	ClientID  string
	Username  string
	Password  string
	Log       zerolog.Logger
}

// Connect dials the broker and returns a Publisher. The connection
// auto-reconnects; events published while disconnected are dropped.
func Connect(opts Options) (*Publisher, error) {
	p := &Publisher{
		topic: opts.Topic,
		log:   opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Publisher) onConnect(mqtt.Client) {
	p.connected.Store(true)
	p.log.Info().Str("topic", p.topic).Msg("mqtt connected")
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	p.connected.Store(false)
	p.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Publish sends one session event to the broker under <topic>/<type>.
// Fire and forget at QoS 0.
func (p *Publisher) Publish(e events.Event) {
	if !p.connected.Load() {
		return
	}
	p.conn.Publish(p.topic+"/"+e.Type, 0, false, []byte(e.Data))
}

// Forward subscribes to the bus and republishes everything until cancel
// is called. Run it in its own goroutine.
func (p *Publisher) Forward(bus *events.Bus) (cancel func()) {
	ch, unsub := bus.Subscribe(events.Filter{})
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				p.Publish(e)
			}
		}
	}()
	return func() {
		unsub()
		close(done)
	}
}

func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

func (p *Publisher) Close() {
	p.log.Info().Msg("disconnecting mqtt publisher")
	p.conn.Disconnect(1000)
}
