package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"facebooth-go/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Nutzdaten des Verfügbarkeits-Topics
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Client ist der MQTT-Client des Kiosks
type Client struct {
	config   config.MQTTConfig
	client   mqtt.Client
	mu       sync.RWMutex
	handlers map[string][]MessageHandler
}

// MessageHandler ist ein Interface für Handler, die MQTT-Nachrichten verarbeiten
type MessageHandler interface {
	HandleMessage(topic string, payload []byte)
}

// MessageHandlerFunc macht eine Funktion zum MessageHandler
type MessageHandlerFunc func(topic string, payload []byte)

// HandleMessage ruft f auf
func (f MessageHandlerFunc) HandleMessage(topic string, payload []byte) {
	f(topic, payload)
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{
		config:   cfg,
		handlers: make(map[string][]MessageHandler),
	}
}

// Topic bildet ein Topic unterhalb des konfigurierten Präfixes
func (c *Client) Topic(parts ...string) string {
	return strings.Join(append([]string{c.config.TopicPrefix}, parts...), "/")
}

// AvailabilityTopic ist das Topic für den Online-Status
func (c *Client) AvailabilityTopic() string {
	return c.Topic("status")
}

// RegisterHandler registriert einen Handler für ein Topic unterhalb des Präfixes.
// Muss vor Start aufgerufen werden.
func (c *Client) RegisterHandler(subtopic string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	topic := c.Topic(subtopic)
	c.handlers[topic] = append(c.handlers[topic], handler)
	log.Debugf("Registered MQTT message handler for %s", topic)
}

// Start startet den MQTT-Client und verbindet ihn mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	// Optionale Authentifizierung
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// Der Broker meldet uns offline, wenn die Verbindung abreißt
	opts.SetWill(c.AvailabilityTopic(), PayloadOffline, 1, true)

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)

	// Automatische Wiederverbindung
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop meldet den Kiosk offline und beendet den MQTT-Client
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		if err := c.PublishRetain(c.AvailabilityTopic(), PayloadOffline); err != nil {
			log.Warnf("Failed to publish offline status: %v", err)
		}
		log.Info("Disconnecting MQTT client...")
		c.client.Disconnect(250) // 250ms Wartezeit
		log.Info("MQTT client disconnected")
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// onConnectHandler wird nach jeder (Wieder-)Verbindung aufgerufen
func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)

	if token := client.Publish(c.AvailabilityTopic(), 1, true, PayloadOnline); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to publish online status: %v", token.Error())
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for topic := range c.handlers {
		log.Infof("Subscribing to MQTT topic: %s", topic)
		if token := client.Subscribe(topic, 1, c.messageHandler); token.Wait() && token.Error() != nil {
			log.Errorf("Failed to subscribe to topic %s: %v", topic, token.Error())
		}
	}
}

// connectionLostHandler wird aufgerufen, wenn die Verbindung verloren geht
func (c *Client) connectionLostHandler(_ mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
}

// messageHandler verarbeitet eingehende MQTT-Nachrichten
func (c *Client) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.dispatch(msg.Topic(), msg.Payload())
}

func (c *Client) dispatch(topic string, payload []byte) {
	log.Debugf("Received MQTT message on topic: %s", topic)

	c.mu.RLock()
	handlers := c.handlers[topic]
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler.HandleMessage(topic, payload)
	}
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (c *Client) PublishMessage(topic string, payload any, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	payloadBytes, err := encodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, token.Error())
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRetain veröffentlicht eine Nachricht mit dem Retain-Flag
func (c *Client) PublishRetain(topic string, payload any) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish veröffentlicht eine Nachricht ohne Retain-Flag
func (c *Client) Publish(topic string, payload any) error {
	return c.PublishMessage(topic, payload, false)
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return []byte(fmt.Sprintf("%v", p)), nil
	default:
		// Versuche, das Objekt in JSON zu konvertieren
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return data, nil
	}
}
