// Package mqtt provides MQTT client connectivity for the WyzeSense bridge.
//
// This package manages:
//   - Connection to the broker with connect retry and auto-reconnect
//   - Message publishing with QoS and retain control
//   - Topic subscriptions, restored after every reconnect
//   - Topic validation for publish topics and subscription filters
//
// # Architecture
//
//	USB gateway → bridge → MQTT broker → Home Assistant / other consumers
//
// Telemetry and discovery descriptors flow out; scan and remove commands
// flow in on two subscribed topics.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(cfg.Topics.Scan, 1, handler)
//	err = client.Publish(cfg.Topics.Publish+mac, payload, byte(cfg.MQTT.QoS), cfg.MQTT.Retain)
package mqtt
