package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srg/blerpc/internal/device"
)

// CharacteristicConfig describes a characteristic of a mocked peripheral.
// A characteristic with "notify" or "indicate" properties carries a CCCD
// unless NoCCCD is set.
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"`
	NoCCCD     bool   `json:"no_cccd,omitempty"`
}

// ServiceConfig describes a service of a mocked peripheral.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig is the JSON profile of a mocked peripheral.
type PeripheralConfig struct {
	Address  string          `json:"address"`
	Name     string          `json:"name"`
	RSSI     int             `json:"rssi"`
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds FakePeripheral values.
type PeripheralBuilder struct {
	config PeripheralConfig
}

// NewPeripheralBuilder creates an empty builder.
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{}
}

// NewRPCPeripheralBuilder creates a builder for a well-formed JSON-RPC peer at address.
func NewRPCPeripheralBuilder(address, name string) *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(`{
		"address": %q,
		"name": %q,
		"rssi": -50,
		"services": [
			{
				"uuid": %q,
				"characteristics": [
					{ "uuid": %q, "properties": "write" },
					{ "uuid": %q, "properties": "notify" }
				]
			}
		]
	}`, address, name, device.ServiceUUID, device.RequestCharUUID, device.ResponseCharUUID)
}

// WithAddress sets the peripheral address.
func (b *PeripheralBuilder) WithAddress(addr string) *PeripheralBuilder {
	b.config.Address = addr
	return b
}

// WithName sets the advertised name.
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.config.Name = name
	return b
}

// WithRSSI sets the advertised signal strength.
func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.config.RSSI = rssi
	return b
}

// WithService adds a service to the profile.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.config.Services = append(b.config.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string) *PeripheralBuilder {
	if len(b.config.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.config.Services) - 1
	b.config.Services[last].Characteristics = append(b.config.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// FromJSON replaces the profile with the given JSON, formatted with args.
// Panics on invalid JSON as this is intended for test data setup.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config PeripheralConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.config = config
	return b
}

// Build creates the peripheral.
func (b *PeripheralBuilder) Build() *FakePeripheral {
	p := &FakePeripheral{
		Address: b.config.Address,
		Name:    b.config.Name,
		RSSI:    b.config.RSSI,
	}
	for _, sc := range b.config.Services {
		svc := &FakeService{UUIDValue: sc.UUID}
		for _, cc := range sc.Characteristics {
			notify := strings.Contains(cc.Properties, "notify") || strings.Contains(cc.Properties, "indicate")
			svc.Chars = append(svc.Chars, &FakeCharacteristic{
				UUIDValue:  cc.UUID,
				Properties: cc.Properties,
				HasCCCD:    notify && !cc.NoCCCD,
			})
		}
		p.Services = append(p.Services, svc)
	}
	return p
}
