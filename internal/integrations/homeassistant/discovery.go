package homeassistant

import (
	"fmt"

	"facebooth-go/config"

	log "github.com/sirupsen/logrus"
)

// Component-Typen und Node-ID für Home Assistant MQTT Discovery
const (
	ComponentSensor       = "sensor"
	ComponentBinarySensor = "binary_sensor"
	NodeID                = "facebooth"
)

// MessagePublisher veröffentlicht Nachrichten. *mqtt.Client implementiert es.
type MessagePublisher interface {
	PublishMessage(topic string, payload any, retain bool) error
	Topic(parts ...string) string
	AvailabilityTopic() string
}

// SensorConfig repräsentiert die MQTT-Discovery-Konfiguration für einen Sensor in Home Assistant
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	Icon                string  `json:"icon,omitempty"`
	DeviceClass         string  `json:"device_class,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	ValueTemplate       string  `json:"value_template,omitempty"`
	PayloadOn           string  `json:"payload_on,omitempty"`
	PayloadOff          string  `json:"payload_off,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device repräsentiert die Geräteinformationen für Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryManager verwaltet die Home Assistant MQTT Discovery
type DiscoveryManager struct {
	pub     MessagePublisher
	cfg     config.HomeAssistantConfig
	version string
}

// NewDiscoveryManager erstellt einen neuen Manager für Home Assistant Discovery
func NewDiscoveryManager(pub MessagePublisher, cfg config.HomeAssistantConfig, version string) *DiscoveryManager {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	return &DiscoveryManager{pub: pub, cfg: cfg, version: version}
}

// RegisterSensors veröffentlicht die Discovery-Konfigurationen des Kiosks
func (dm *DiscoveryManager) RegisterSensors() error {
	device := &Device{
		Identifiers:  []string{"facebooth_go"},
		Name:         "Facebooth",
		Manufacturer: "Facebooth",
		Model:        "Kiosk",
		SWVersion:    dm.version,
	}

	sensors := []struct {
		component string
		objectID  string
		config    SensorConfig
	}{
		{ComponentBinarySensor, "visitor_present", SensorConfig{
			Name:        "Facebooth Visitor Present",
			StateTopic:  dm.pub.Topic(TopicPresence),
			DeviceClass: "occupancy",
			PayloadOn:   PresenceOn,
			PayloadOff:  PresenceOff,
		}},
		{ComponentSensor, "booth_state", SensorConfig{
			Name:                "Facebooth State",
			StateTopic:          dm.pub.Topic(TopicState),
			ValueTemplate:       "{{ value_json.state }}",
			JSONAttributesTopic: dm.pub.Topic(TopicState),
			Icon:                "mdi:face-recognition",
		}},
		{ComponentSensor, "last_match", SensorConfig{
			Name:                "Facebooth Last Match",
			StateTopic:          dm.pub.Topic(TopicMatches),
			ValueTemplate:       "{{ value_json.generation }}",
			JSONAttributesTopic: dm.pub.Topic(TopicMatches),
			Icon:                "mdi:account-search",
		}},
	}

	for _, s := range sensors {
		cfg := s.config
		cfg.UniqueID = fmt.Sprintf("%s_%s", NodeID, s.objectID)
		cfg.AvailabilityTopic = dm.pub.AvailabilityTopic()
		cfg.PayloadAvailable = "online"
		cfg.PayloadNotAvailable = "offline"
		cfg.Device = device

		topic := fmt.Sprintf("%s/%s/%s/%s/config", dm.cfg.DiscoveryPrefix, s.component, NodeID, s.objectID)
		log.Infof("Registering Home Assistant %s %s", s.component, s.objectID)
		if err := dm.pub.PublishMessage(topic, cfg, true); err != nil {
			return fmt.Errorf("failed to publish discovery configuration: %w", err)
		}
	}
	return nil
}
