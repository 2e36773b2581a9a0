package ble

import (
	"errors"
	"testing"
)

func TestResolveByWellKnownUUIDs(t *testing.T) {
	conn := newMockConnection()
	ep, err := Resolve(conn, DefaultUUIDs())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ep.ControlPoint != conn.control || ep.DataOut != conn.dataOut || ep.Info != conn.info {
		t.Error("resolved endpoint does not reference the discovered characteristics")
	}
	if ep.WriteMode != WriteWithResponse {
		t.Errorf("WriteMode = %s, want write-with-response on the primary path", ep.WriteMode)
	}
}

func TestResolveFallbackByPropertySignature(t *testing.T) {
	conn := newMockConnection()
	conn.discoverErr = errors.New("no such characteristic")
	control := &mockCharacteristic{}
	dataOut := &mockCharacteristic{}
	info := &mockCharacteristic{}
	conn.enumerated = []CharacteristicInfo{
		{UUID: "0000aaaa-0000-1000-8000-00805f9b34fb", Props: PropWriteNoResponse | PropIndicate, Char: control},
		{UUID: "0000bbbb-0000-1000-8000-00805f9b34fb", Props: PropNotify, Char: dataOut},
		{UUID: "0000cccc-0000-1000-8000-00805f9b34fb", Props: PropRead, Char: info},
	}

	ep, err := Resolve(conn, DefaultUUIDs())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ep.ControlPoint != Characteristic(control) || ep.DataOut != Characteristic(dataOut) || ep.Info != Characteristic(info) {
		t.Error("fallback bound the wrong characteristics")
	}
	// Control point only declares write-without-response.
	if ep.WriteMode != WriteWithoutResponse {
		t.Errorf("WriteMode = %s, want write-without-response", ep.WriteMode)
	}
}

func TestResolveFallbackPrefersWriteWithResponse(t *testing.T) {
	conn := newMockConnection()
	conn.discoverErr = errors.New("no such characteristic")
	conn.enumerated = []CharacteristicInfo{
		{UUID: "aaaa", Props: PropWrite | PropWriteNoResponse | PropIndicate, Char: &mockCharacteristic{}},
		{UUID: "bbbb", Props: PropNotify, Char: &mockCharacteristic{}},
		{UUID: "cccc", Props: PropRead, Char: &mockCharacteristic{}},
	}

	ep, err := Resolve(conn, DefaultUUIDs())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ep.WriteMode != WriteWithResponse {
		t.Errorf("WriteMode = %s, want write-with-response when the flag is declared", ep.WriteMode)
	}
}

func TestResolveFallbackAmbiguousCandidates(t *testing.T) {
	conn := newMockConnection()
	conn.discoverErr = errors.New("no such characteristic")
	// Two notify characteristics: the data-out slot is ambiguous and
	// resolution must fail rather than guess.
	conn.enumerated = []CharacteristicInfo{
		{UUID: "aaaa", Props: PropWrite | PropIndicate, Char: &mockCharacteristic{}},
		{UUID: "bbbb", Props: PropNotify, Char: &mockCharacteristic{}},
		{UUID: "b2b2", Props: PropNotify, Char: &mockCharacteristic{}},
		{UUID: "cccc", Props: PropRead, Char: &mockCharacteristic{}},
	}

	_, err := Resolve(conn, DefaultUUIDs())
	if !errors.Is(err, ErrCharacteristicsNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrCharacteristicsNotFound", err)
	}
}

func TestResolveFallbackNoCandidates(t *testing.T) {
	conn := newMockConnection()
	conn.discoverErr = errors.New("no such characteristic")

	_, err := Resolve(conn, DefaultUUIDs())
	if !errors.Is(err, ErrCharacteristicsNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrCharacteristicsNotFound", err)
	}
}

func TestResolveFallbackEnumerationFailure(t *testing.T) {
	conn := newMockConnection()
	conn.discoverErr = errors.New("no such characteristic")
	conn.enumerateErr = errors.New("discovery timed out")

	_, err := Resolve(conn, DefaultUUIDs())
	if !errors.Is(err, ErrCharacteristicsNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrCharacteristicsNotFound", err)
	}
}

func TestResolveIgnoresUnrelatedCharacteristics(t *testing.T) {
	conn := newMockConnection()
	conn.discoverErr = errors.New("no such characteristic")
	conn.enumerated = []CharacteristicInfo{
		{UUID: "aaaa", Props: PropWrite | PropIndicate, Char: &mockCharacteristic{}},
		{UUID: "bbbb", Props: PropNotify, Char: &mockCharacteristic{}},
		{UUID: "cccc", Props: PropRead, Char: &mockCharacteristic{}},
		// Read+notify+indicate matches no slot signature.
		{UUID: "dddd", Props: PropRead | PropNotify | PropIndicate, Char: &mockCharacteristic{}},
	}

	ep, err := Resolve(conn, DefaultUUIDs())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ep == nil {
		t.Fatal("Resolve() returned nil endpoint")
	}
}
