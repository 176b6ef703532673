package mqtt

import (
	"fmt"

	"pdu-bridge/internal/domain"
)

// discoveryConfig is one Home Assistant MQTT discovery payload. Unlike
// the generic per-OID-mapping version this bridge once used, the PDU
// entity set is fixed by the domain (outlets, banks, ATS sources), so
// each Publish* method below builds its config directly rather than
// driving it from a vendor profile table.
type discoveryConfig struct {
	Name                string           `json:"name"`
	UniqueID            string           `json:"unique_id"`
	ObjectID            string           `json:"object_id,omitempty"`
	StateTopic          string           `json:"state_topic,omitempty"`
	CommandTopic        string           `json:"command_topic,omitempty"`
	AvailabilityTopic   string           `json:"availability_topic"`
	PayloadAvailable    string           `json:"payload_available"`
	PayloadNotAvailable string           `json:"payload_not_available"`
	Device              *discoveryDevice `json:"device,omitempty"`
	DeviceClass         string           `json:"device_class,omitempty"`
	StateClass          string           `json:"state_class,omitempty"`
	UnitOfMeasurement   string           `json:"unit_of_measurement,omitempty"`
	PayloadOn           string           `json:"payload_on,omitempty"`
	PayloadOff          string           `json:"payload_off,omitempty"`
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// Discovery publishes and retracts Home Assistant auto-discovery
// configs for one bridge instance.
type Discovery struct {
	client          *Client
	discoveryPrefix string
	topicPrefix     string
}

// NewDiscovery builds a Discovery publisher. discoveryPrefix is
// typically "homeassistant".
func NewDiscovery(client *Client, discoveryPrefix, topicPrefix string) *Discovery {
	return &Discovery{client: client, discoveryPrefix: discoveryPrefix, topicPrefix: topicPrefix}
}

func (d *Discovery) device(deviceID, label string, identity *domain.Identity) *discoveryDevice {
	dev := &discoveryDevice{
		Identifiers:  []string{fmt.Sprintf("pdu_bridge_%s", deviceID)},
		Name:         label,
		Manufacturer: "CyberPower",
	}
	if identity != nil {
		dev.Model = identity.Model
		dev.SwVersion = identity.FirmwareVersion
	}
	return dev
}

func (d *Discovery) availability(deviceID string) (topic, on, off string) {
	return fmt.Sprintf("%s/%s/bridge/status", d.topicPrefix, deviceID), "online", "offline"
}

func (d *Discovery) publish(component, deviceID, objectID string, payload any) error {
	topic := fmt.Sprintf("%s/%s/%s/%s/config", d.discoveryPrefix, component, deviceID, objectID)
	return d.client.Publish(topic, payload, true, 1)
}

// PublishDevice registers one Home Assistant entity per outlet
// (switch), per bank metric (sensor), and, when hasATS, the ATS
// redundancy binary sensor for deviceID. The manager calls it once
// when the device's poller is started.
func (d *Discovery) PublishDevice(deviceID, label string, identity *domain.Identity, outletCount, bankCount int, hasATS bool) error {
	avail, onPayload, offPayload := d.availability(deviceID)
	haDevice := d.device(deviceID, label, identity)

	for n := 1; n <= outletCount; n++ {
		objectID := fmt.Sprintf("outlet_%d", n)
		cfg := &discoveryConfig{
			Name:                fmt.Sprintf("%s Outlet %d", label, n),
			UniqueID:            fmt.Sprintf("pdu_bridge_%s_%s", deviceID, objectID),
			ObjectID:            objectID,
			Device:              haDevice,
			AvailabilityTopic:   avail,
			PayloadAvailable:    onPayload,
			PayloadNotAvailable: offPayload,
			StateTopic:          fmt.Sprintf("%s/%s/outlet/%d/state", d.topicPrefix, deviceID, n),
			CommandTopic:        fmt.Sprintf("%s/%s/outlet/%d/command", d.topicPrefix, deviceID, n),
			PayloadOn:           "on",
			PayloadOff:          "off",
		}
		if err := d.publish("switch", deviceID, objectID, cfg); err != nil {
			return fmt.Errorf("publish outlet %d discovery: %w", n, err)
		}
	}

	for n := 1; n <= bankCount; n++ {
		if err := d.publishBankSensor(deviceID, label, haDevice, avail, onPayload, offPayload, n, "voltage", "voltage", "V", "measurement"); err != nil {
			return err
		}
		if err := d.publishBankSensor(deviceID, label, haDevice, avail, onPayload, offPayload, n, "current", "current", "A", "measurement"); err != nil {
			return err
		}
		if err := d.publishBankSensor(deviceID, label, haDevice, avail, onPayload, offPayload, n, "power", "power", "W", "measurement"); err != nil {
			return err
		}
	}

	if hasATS {
		cfg := &discoveryConfig{
			Name:                fmt.Sprintf("%s ATS Redundancy", label),
			UniqueID:            fmt.Sprintf("pdu_bridge_%s_ats_redundancy", deviceID),
			ObjectID:            "ats_redundancy",
			Device:              haDevice,
			DeviceClass:         "problem",
			AvailabilityTopic:   avail,
			PayloadAvailable:    onPayload,
			PayloadNotAvailable: offPayload,
			StateTopic:          fmt.Sprintf("%s/%s/ats/redundancy", d.topicPrefix, deviceID),
			PayloadOn:           "lost",
			PayloadOff:          "ok",
		}
		if err := d.publish("binary_sensor", deviceID, "ats_redundancy", cfg); err != nil {
			return fmt.Errorf("publish ats redundancy discovery: %w", err)
		}
	}

	return nil
}

func (d *Discovery) publishBankSensor(deviceID, label string, haDevice *discoveryDevice, avail, onPayload, offPayload string, bank int, metric, deviceClass, unit, stateClass string) error {
	objectID := fmt.Sprintf("bank_%d_%s", bank, metric)
	cfg := &discoveryConfig{
		Name:                fmt.Sprintf("%s Bank %d %s", label, bank, metric),
		UniqueID:            fmt.Sprintf("pdu_bridge_%s_%s", deviceID, objectID),
		ObjectID:            objectID,
		Device:              haDevice,
		DeviceClass:         deviceClass,
		StateClass:          stateClass,
		UnitOfMeasurement:   unit,
		AvailabilityTopic:   avail,
		PayloadAvailable:    onPayload,
		PayloadNotAvailable: offPayload,
		StateTopic:          fmt.Sprintf("%s/%s/bank/%d/%s", d.topicPrefix, deviceID, bank, metric),
	}
	if err := d.publish("sensor", deviceID, objectID, cfg); err != nil {
		return fmt.Errorf("publish bank %d %s discovery: %w", bank, metric, err)
	}
	return nil
}

// RemoveDevice retracts every discovery config this bridge could have
// published for deviceID, used on hot remove.
func (d *Discovery) RemoveDevice(deviceID string, outletCount, bankCount int, hasATS bool) error {
	for n := 1; n <= outletCount; n++ {
		if err := d.publish("switch", deviceID, fmt.Sprintf("outlet_%d", n), ""); err != nil {
			return err
		}
	}
	for n := 1; n <= bankCount; n++ {
		for _, metric := range []string{"voltage", "current", "power"} {
			if err := d.publish("sensor", deviceID, fmt.Sprintf("bank_%d_%s", n, metric), ""); err != nil {
				return err
			}
		}
	}
	if hasATS {
		if err := d.publish("binary_sensor", deviceID, "ats_redundancy", ""); err != nil {
			return err
		}
	}
	return nil
}
