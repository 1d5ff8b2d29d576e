package ble

import (
	"context"
	"testing"
	"time"

	"github.com/chaz8081/sparkctl/internal/ble/adv"
)

func ampPayload(name string) []byte {
	p := adv.AppendField(nil, adv.TypeFlags, []byte{0x06})
	p = adv.AppendUUID16List(p, ServiceUUID)
	if name != "" {
		p = adv.AppendField(p, adv.TypeCompleteName, []byte(name))
	}
	return p
}

func otherPayload() []byte {
	// Advertises 0xFFC1 with the "some UUIDs" type: not the amp.
	return adv.AppendField(nil, adv.TypeSomeUUID16, []byte{0xC1, 0xFF})
}

func TestServiceMatcherDeliversFirstMatchOnce(t *testing.T) {
	m := NewServiceMatcher(adv.UUID16(ServiceUUID))

	m.HandleAdvertisement(Report{Address: "11:11:11:11:11:11", Payload: otherPayload()})
	m.HandleAdvertisement(Report{Address: "AA:AA:AA:AA:AA:AA", Payload: ampPayload("Spark 40")})
	m.HandleAdvertisement(Report{Address: "BB:BB:BB:BB:BB:BB", Payload: ampPayload("Spark Mini")})

	select {
	case r := <-m.Found():
		if r.Address != "AA:AA:AA:AA:AA:AA" {
			t.Errorf("Address = %q, want first match", r.Address)
		}
		if r.LocalName != "Spark 40" {
			t.Errorf("LocalName = %q, want name parsed from payload", r.LocalName)
		}
	default:
		t.Fatal("no match delivered")
	}

	select {
	case r := <-m.Found():
		t.Errorf("second match delivered: %+v", r)
	default:
	}
}

func TestServiceMatcherIgnoresMalformedPayload(t *testing.T) {
	m := NewServiceMatcher(adv.UUID16(ServiceUUID))
	m.HandleAdvertisement(Report{Payload: []byte{0x09, 0x03, 0xC0}})
	m.HandleAdvertisement(Report{Payload: nil})

	select {
	case r := <-m.Found():
		t.Errorf("unexpected match: %+v", r)
	default:
	}
}

func TestDeviceCollector(t *testing.T) {
	c := NewDeviceCollector(adv.UUID16(ServiceUUID))

	c.HandleAdvertisement(Report{Address: "AA", RSSI: -80, Payload: ampPayload("")})
	c.HandleAdvertisement(Report{Address: "BB", RSSI: -50, Payload: ampPayload("Spark Mini")})
	c.HandleAdvertisement(Report{Address: "CC", RSSI: -40, Payload: otherPayload()})
	// Repeat advertisement updates RSSI and fills in the name.
	c.HandleAdvertisement(Report{Address: "AA", RSSI: -45, LocalName: "Spark 40", Payload: ampPayload("")})

	got := c.Devices()
	if len(got) != 2 {
		t.Fatalf("Devices() = %+v, want 2 amps", got)
	}
	if got[0].Address != "AA" || got[0].Name != "Spark 40" || got[0].RSSI != -45 {
		t.Errorf("Devices()[0] = %+v, want AA/Spark 40/-45", got[0])
	}
	if got[1].Address != "BB" || got[1].Name != "Spark Mini" {
		t.Errorf("Devices()[1] = %+v, want BB/Spark Mini", got[1])
	}
}

func TestScanForDevices(t *testing.T) {
	adapter := newMockAdapter([]Report{
		{Address: "AA:BB:CC:DD:EE:FF", AddressKind: AddressRandom, RSSI: -45, Payload: ampPayload("Spark 40")},
		{Address: "11:22:33:44:55:66", RSSI: -30, Payload: otherPayload()},
	})

	devices, err := ScanForDevices(context.Background(), adapter, ScanParams{Active: true}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("devices = %+v, want 1", devices)
	}
	if devices[0].Name != "Spark 40" || devices[0].AddressKind != AddressRandom {
		t.Errorf("device = %+v", devices[0])
	}
}

func TestParseAddressKind(t *testing.T) {
	tests := []struct {
		in      string
		want    AddressKind
		wantErr bool
	}{
		{"public", AddressPublic, false},
		{"random", AddressRandom, false},
		{"static", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAddressKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAddressKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAddressKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if !tt.wantErr && got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}
