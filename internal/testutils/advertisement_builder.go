package testutils

import (
	"encoding/json"
	"fmt"
)

// FakeAdvertisement is a device.Advertisement with fixed values.
type FakeAdvertisement struct {
	AddrValue        string   `json:"address"`
	LocalNameValue   string   `json:"name"`
	RSSIValue        int      `json:"rssi"`
	ServicesValue    []string `json:"services"`
	ConnectableValue bool     `json:"connectable"`
}

func (a *FakeAdvertisement) Addr() string       { return a.AddrValue }
func (a *FakeAdvertisement) LocalName() string  { return a.LocalNameValue }
func (a *FakeAdvertisement) RSSI() int          { return a.RSSIValue }
func (a *FakeAdvertisement) Services() []string { return a.ServicesValue }
func (a *FakeAdvertisement) Connectable() bool  { return a.ConnectableValue }

// AdvertisementBuilder builds FakeAdvertisement values with a fluent API.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: FakeAdvertisement{ConnectableValue: true}}
}

// WithName sets the local name.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.LocalNameValue = name
	return b
}

// WithAddress sets the device address.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.AddrValue = addr
	return b
}

// WithRSSI sets the signal strength.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.RSSIValue = rssi
	return b
}

// WithServices adds advertised service UUIDs.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServicesValue = append(b.adv.ServicesValue, uuids...)
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.ConnectableValue = c
	return b
}

// FromJSON fills the advertisement from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)
	if err := json.Unmarshal([]byte(jsonStr), &b.adv); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	return b
}

// Build returns a copy of the configured advertisement.
func (b *AdvertisementBuilder) Build() *FakeAdvertisement {
	adv := b.adv
	adv.ServicesValue = append([]string(nil), b.adv.ServicesValue...)
	return &adv
}
