package main

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// bus is the slice of an MQTT client a simulated donor uses.
type bus interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, h func(topic string, payload []byte)) error
	Close()
}

type pahoBus struct {
	cli paho.Client
}

func newMQTTClient(broker, clientID string) (bus, error) {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts.AutoReconnect = true
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return pahoBus{cli: cli}, nil
}

func (b pahoBus) Publish(topic string, payload []byte) error {
	token := b.cli.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return token.Error()
}

func (b pahoBus) Subscribe(topic string, h func(string, []byte)) error {
	token := b.cli.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) { h(m.Topic(), m.Payload()) })
	token.Wait()
	return token.Error()
}

func (b pahoBus) Close() { b.cli.Disconnect(250) }
