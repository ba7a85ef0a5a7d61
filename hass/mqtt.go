package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"

	defaultMQTTTimeout = 10 * time.Second
)

type MQTTOptions struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	DiscoveryPrefix string
	TopicPrefix     string
	Timeout         time.Duration
}

type entityTopics struct {
	state      string
	attributes string
}

type command struct {
	schema  Schema
	handler Handler
}

// discoveredDevice is a Device as Home Assistant expects it in a discovery
// payload.
type discoveredDevice struct {
	Identifiers      []string `json:"identifiers"`
	Name             string   `json:"name"`
	Manufacturer     string   `json:"manufacturer"`
	Model            string   `json:"model,omitempty"`
	SWVersion        string   `json:"sw_version,omitempty"`
	ConfigurationURL string   `json:"configuration_url,omitempty"`
}

type discoveryConfig struct {
	Name                string           `json:"name"`
	UniqueID            string           `json:"unique_id"`
	ObjectID            string           `json:"object_id"`
	StateTopic          string           `json:"state_topic"`
	JSONAttributesTopic string           `json:"json_attributes_topic,omitempty"`
	AvailabilityTopic   string           `json:"availability_topic"`
	UnitOfMeasurement   string           `json:"unit_of_measurement,omitempty"`
	DeviceClass         string           `json:"device_class,omitempty"`
	StateClass          string           `json:"state_class,omitempty"`
	Icon                string           `json:"icon,omitempty"`
	EntityCategory      string           `json:"entity_category,omitempty"`
	Device              discoveredDevice `json:"device"`
}

type commandResult struct {
	DeviceID string `json:"device_id,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// MQTT implements Publisher and CommandRegistry on top of Home Assistant's
// MQTT discovery. Commands arrive as JSON on <topic prefix>/command/<name>
// and the outcome is reported on .../<name>/result.
type MQTT struct {
	client mqtt.Client
	opts   MQTTOptions

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	topics    map[string]entityTopics
	announced map[string][]Entity
	devices   map[string]Device
	commands  map[string]command
}

func NewMQTT(opts MQTTOptions) *MQTT {
	m := newMQTT(nil, opts)

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(m.opts.Broker)
	clientOpts.SetClientID(m.opts.ClientID)
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetMaxReconnectInterval(30 * time.Second)
	clientOpts.SetKeepAlive(60 * time.Second)
	clientOpts.SetWriteTimeout(m.opts.Timeout)
	clientOpts.SetWill(m.availabilityTopic(), payloadOffline, 1, true)
	clientOpts.SetOnConnectHandler(m.onConnect)
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("MQTT connection to %s lost, reconnecting: %v", m.opts.Broker, err)
	})
	if m.opts.Username != "" {
		clientOpts.SetUsername(m.opts.Username)
		clientOpts.SetPassword(m.opts.Password)
	}
	m.client = mqtt.NewClient(clientOpts)
	return m
}

func newMQTT(client mqtt.Client, opts MQTTOptions) *MQTT {
	if opts.DiscoveryPrefix == "" {
		opts.DiscoveryPrefix = "homeassistant"
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = Domain
	}
	if opts.ClientID == "" {
		opts.ClientID = "ampeco-ha"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultMQTTTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MQTT{
		client:    client,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		topics:    map[string]entityTopics{},
		announced: map[string][]Entity{},
		devices:   map[string]Device{},
		commands:  map[string]command{},
	}
}

// Connect blocks until the broker accepted the connection. Command handlers
// run with a context derived from ctx.
func (m *MQTT) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	log.Infof("connecting to MQTT broker %s", m.opts.Broker)
	return m.wait(m.client.Connect())
}

// Close marks the bridge offline and disconnects.
func (m *MQTT) Close() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()

	if !m.client.IsConnected() {
		return
	}
	if err := m.wait(m.client.Publish(m.availabilityTopic(), 1, true, payloadOffline)); err != nil {
		log.Warnf("failed to publish availability: %v", err)
	}
	m.client.Disconnect(250)
}

func (m *MQTT) Announce(_ context.Context, device Device, entities []Entity) error {
	m.mu.Lock()
	m.announced[device.ID] = entities
	m.devices[device.ID] = device
	for _, e := range entities {
		m.topics[e.EntityID] = m.entityTopics(e)
	}
	m.mu.Unlock()

	for _, e := range entities {
		payload, err := json.Marshal(m.discoveryConfig(device, e))
		if err != nil {
			return err
		}
		if err := m.wait(m.client.Publish(m.discoveryTopic(e), 1, true, payload)); err != nil {
			return fmt.Errorf("failed to announce %s: %w", e.EntityID, err)
		}
	}
	log.Debugf("announced %d entities for %s", len(entities), device.ChargepointID)
	return nil
}

func (m *MQTT) Publish(_ context.Context, entityID string, value Value) error {
	m.mu.Lock()
	topics, ok := m.topics[entityID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("entity %s was not announced", entityID)
	}

	if err := m.wait(m.client.Publish(topics.state, 0, true, FormatState(value.State))); err != nil {
		return err
	}
	if value.Attributes == nil {
		return nil
	}
	payload, err := json.Marshal(value.Attributes)
	if err != nil {
		return err
	}
	return m.wait(m.client.Publish(topics.attributes, 0, true, payload))
}

// RegisterCommand subscribes immediately when connected; every registered
// command is subscribed again on reconnect.
func (m *MQTT) RegisterCommand(name string, schema Schema, handler Handler) error {
	m.mu.Lock()
	m.commands[name] = command{schema: schema, handler: handler}
	m.mu.Unlock()

	if !m.client.IsConnected() {
		return nil
	}
	return m.subscribe(name)
}

func (m *MQTT) onConnect(client mqtt.Client) {
	log.Infof("connected to MQTT broker %s", m.opts.Broker)
	if err := m.wait(client.Publish(m.availabilityTopic(), 1, true, payloadOnline)); err != nil {
		log.Warnf("failed to publish availability: %v", err)
	}

	m.mu.Lock()
	names := make([]string, 0, len(m.commands))
	for name := range m.commands {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		if err := m.subscribe(name); err != nil {
			log.Errorf("failed to subscribe to %s: %v", name, err)
		}
	}

	// Home Assistant announces "online" on its status topic after a restart
	token := client.Subscribe(m.opts.DiscoveryPrefix+"/status", 1, func(_ mqtt.Client, msg mqtt.Message) {
		if string(msg.Payload()) == payloadOnline {
			go m.reannounce()
		}
	})
	if err := m.wait(token); err != nil {
		log.Warnf("failed to subscribe to Home Assistant status: %v", err)
	}
	m.reannounce()
}

func (m *MQTT) reannounce() {
	m.mu.Lock()
	ctx := m.ctx
	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	announced := make(map[string][]Entity, len(m.announced))
	for id, e := range m.announced {
		announced[id] = e
	}
	m.mu.Unlock()

	for _, d := range devices {
		if err := m.Announce(ctx, d, announced[d.ID]); err != nil {
			log.Warnf("failed to announce %s again: %v", d.ChargepointID, err)
		}
	}
}

func (m *MQTT) subscribe(name string) error {
	return m.wait(m.client.Subscribe(m.commandTopic(name), 1, func(_ mqtt.Client, msg mqtt.Message) {
		// handlers block on the API, keep paho's router free
		go m.handleCommand(name, msg.Payload())
	}))
}

func (m *MQTT) handleCommand(name string, payload []byte) {
	m.mu.Lock()
	cmd, ok := m.commands[name]
	ctx := m.ctx
	m.mu.Unlock()
	if !ok {
		return
	}

	result := commandResult{Success: true}
	call, err := cmd.schema.Decode(payload)
	result.DeviceID = call.DeviceID
	if err == nil {
		err = cmd.handler(ctx, call)
	}
	if err != nil {
		log.Warnf("command %s failed: %v", name, err)
		result.Success = false
		result.Error = err.Error()
	}

	out, _ := json.Marshal(result)
	if err := m.wait(m.client.Publish(m.commandTopic(name)+"/result", 1, false, out)); err != nil {
		log.Warnf("failed to publish %s result: %v", name, err)
	}
}

func (m *MQTT) wait(token mqtt.Token) error {
	if !token.WaitTimeout(m.opts.Timeout) {
		return errors.New("timed out waiting for MQTT broker")
	}
	return token.Error()
}

func (m *MQTT) availabilityTopic() string {
	return m.opts.TopicPrefix + "/status"
}

func (m *MQTT) commandTopic(name string) string {
	return m.opts.TopicPrefix + "/command/" + name
}

func (m *MQTT) discoveryTopic(e Entity) string {
	return fmt.Sprintf("%s/sensor/%s_%s/%s/config", m.opts.DiscoveryPrefix, Domain, e.Slug, e.Sensor.Key)
}

func (m *MQTT) entityTopics(e Entity) entityTopics {
	base := fmt.Sprintf("%s/%s/%s", m.opts.TopicPrefix, e.Slug, e.Sensor.Key)
	return entityTopics{state: base + "/state", attributes: base + "/attributes"}
}

func (m *MQTT) discoveryConfig(device Device, e Entity) discoveryConfig {
	topics := m.entityTopics(e)
	cfg := discoveryConfig{
		Name:              e.Sensor.Name,
		UniqueID:          e.UniqueID,
		ObjectID:          e.UniqueID,
		StateTopic:        topics.state,
		AvailabilityTopic: m.availabilityTopic(),
		UnitOfMeasurement: e.Sensor.Unit,
		DeviceClass:       e.Sensor.DeviceClass,
		StateClass:        e.Sensor.StateClass,
		Icon:              e.Sensor.Icon,
		EntityCategory:    e.Sensor.Category,
		Device: discoveredDevice{
			Identifiers:      []string{device.ID},
			Name:             device.Name,
			Manufacturer:     device.Manufacturer,
			Model:            device.Model,
			SWVersion:        device.SWVersion,
			ConfigurationURL: device.ConfigurationURL,
		},
	}
	if e.Sensor.Attributes != nil {
		cfg.JSONAttributesTopic = topics.attributes
	}
	return cfg
}

// FormatState renders a sensor value as an MQTT payload. Home Assistant reads
// "None" as unknown.
func FormatState(v any) string {
	switch s := v.(type) {
	case nil:
		return "None"
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}

var (
	_ Publisher       = (*MQTT)(nil)
	_ CommandRegistry = (*MQTT)(nil)
)
