package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttQoS            = 0
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttDisconnectMS   = 250
	mqttQueueLength    = 1024
)

var ErrMQTTConnectTimeout = errors.New("events: mqtt connect timed out")

type MQTTOptions struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
}

// MQTTPublisher publishes each event as JSON to <prefix>/<room>. Publish only
// enqueues; a single worker drains the queue so a slow or absent broker never
// stalls the registry.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	log    *slog.Logger

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DialMQTT connects to the broker and starts the publish worker.
func DialMQTT(opts MQTTOptions, logger *slog.Logger) (*MQTTPublisher, error) {
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.BrokerURL)
	co.SetClientID(opts.ClientID)
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "err", err)
	})
	co.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", opts.BrokerURL)
	})

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrMQTTConnectTimeout, opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.BrokerURL, err)
	}
	return NewMQTTPublisher(client, opts.TopicPrefix, logger), nil
}

// NewMQTTPublisher wraps an already connected client.
func NewMQTTPublisher(client mqtt.Client, prefix string, logger *slog.Logger) *MQTTPublisher {
	p := &MQTTPublisher{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		log:    logger,
		queue:  make(chan Event, mqttQueueLength),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *MQTTPublisher) Publish(ev Event) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- ev:
	default:
		p.log.Warn("mqtt event dropped", "kind", ev.Kind, "room", ev.Room)
	}
}

// Topic returns the topic an event for room is published to. The room is
// path-escaped so it cannot add levels or wildcards.
func (p *MQTTPublisher) Topic(room string) string {
	escaped := strings.ReplaceAll(url.PathEscape(room), "+", "%2B")
	return p.prefix + "/" + escaped
}

func (p *MQTTPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case ev := <-p.queue:
			p.send(ev)
		}
	}
}

func (p *MQTTPublisher) send(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("mqtt event encode", "err", err)
		return
	}
	token := p.client.Publish(p.Topic(ev.Room), mqttQoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		p.log.Warn("mqtt publish timed out", "kind", ev.Kind, "room", ev.Room)
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warn("mqtt publish failed", "kind", ev.Kind, "room", ev.Room, "err", err)
	}
}

// Close stops the worker and disconnects. Queued events are discarded.
func (p *MQTTPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.client.Disconnect(mqttDisconnectMS)
	})
}
