package main

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

type publisher interface {
	publish(r SensorReading) error
}

// mqttPublisher sends every reading as JSON to one topic.
type mqttPublisher struct {
	client mqtt.Client
	topic  string
}

func newMQTTPublisher(broker, clientID, topic string) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "couldn't connect to %s", broker)
	}
	return &mqttPublisher{client: client, topic: topic}, nil
}

func (p *mqttPublisher) publish(r SensorReading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal reading")
	}
	if token := p.client.Publish(p.topic, 0, false, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "publish to %s", p.topic)
	}
	return nil
}

func (p *mqttPublisher) close() {
	p.client.Disconnect(250)
}
