package config

import (
	"gopkg.in/yaml.v3"
)

// legacyConfig mirrors the config/config.json layout used by existing
// wyzesense2mqtt installs. Pointer fields distinguish "absent" from zero so
// that defaults survive for keys the file does not set.
//
// JSON is a subset of YAML, so the yaml decoder reads it directly.
type legacyConfig struct {
	MQTT *struct {
		Host         *string `yaml:"host"`
		Port         *int    `yaml:"port"`
		User         *string `yaml:"user"`
		Password     *string `yaml:"password"`
		Client       *string `yaml:"client"`
		CleanSession *bool   `yaml:"clean_session"`
		KeepAlive    *int    `yaml:"keepalive"`
		QoS          *int    `yaml:"qos"`
		Retain       *bool   `yaml:"retain"`
	} `yaml:"mqtt"`
	PublishTopic         *string `yaml:"publishTopic"`
	PublishScanResult    *string `yaml:"publishScanResult"`
	SubscribeScanTopic   *string `yaml:"subscribeScanTopic"`
	SubscribeRemoveTopic *string `yaml:"subscribeRemoveTopic"`
	DiscoveryTopic       *string `yaml:"discoveryTopic"`
	PerformDiscovery     *bool   `yaml:"performDiscovery"`
	USB                  *string `yaml:"usb"`
}

// applyLegacyJSON overlays a legacy config.json onto cfg.
func applyLegacyJSON(data []byte, cfg *Config) error {
	var legacy legacyConfig
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return err
	}

	if m := legacy.MQTT; m != nil {
		setString(&cfg.MQTT.Broker.Host, m.Host)
		setInt(&cfg.MQTT.Broker.Port, m.Port)
		setString(&cfg.MQTT.Auth.Username, m.User)
		setString(&cfg.MQTT.Auth.Password, m.Password)
		setString(&cfg.MQTT.Broker.ClientID, m.Client)
		setBool(&cfg.MQTT.Broker.CleanSession, m.CleanSession)
		setInt(&cfg.MQTT.Broker.KeepAlive, m.KeepAlive)
		setInt(&cfg.MQTT.QoS, m.QoS)
		setBool(&cfg.MQTT.Retain, m.Retain)
	}

	setString(&cfg.Topics.Publish, legacy.PublishTopic)
	setString(&cfg.Topics.ScanResult, legacy.PublishScanResult)
	setString(&cfg.Topics.Scan, legacy.SubscribeScanTopic)
	setString(&cfg.Topics.Remove, legacy.SubscribeRemoveTopic)
	setString(&cfg.Topics.Discovery, legacy.DiscoveryTopic)
	setBool(&cfg.Discovery.Enabled, legacy.PerformDiscovery)
	setString(&cfg.Gateway.Device, legacy.USB)

	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
