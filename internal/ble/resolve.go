package ble

import (
	"fmt"
	"log/slog"
	"strings"
)

// WriteMode records how commands are written to the control point.
type WriteMode int

const (
	WriteWithResponse WriteMode = iota
	WriteWithoutResponse
)

func (m WriteMode) String() string {
	if m == WriteWithoutResponse {
		return "write-without-response"
	}
	return "write-with-response"
}

// ServiceUUIDs is the characteristic triple the resolver looks up.
// Overridable for firmware builds that relocate the service.
type ServiceUUIDs struct {
	Service      string
	ControlPoint string
	DataOut      string
	Info         string
}

// DefaultUUIDs returns the vendor-documented provisioning UUIDs.
func DefaultUUIDs() ServiceUUIDs {
	return ServiceUUIDs{
		Service:      ServiceUUID,
		ControlPoint: ControlPointUUID,
		DataOut:      DataOutCharUUID,
		Info:         InfoCharUUID,
	}
}

// Endpoint is the resolved characteristic triple for one connected
// peripheral. It is owned by exactly one session and dies with it.
type Endpoint struct {
	ControlPoint Characteristic
	DataOut      Characteristic
	Info         Characteristic
	WriteMode    WriteMode
}

// Resolve locates the provisioning characteristics on a connected
// peripheral. The primary strategy looks the triple up by its well-known
// UUIDs. If any are missing, the fallback enumerates every
// characteristic and matches by declared property signature — some
// firmware builds expose non-standard UUIDs while keeping the property
// shapes intact. The fallback fails unless each signature is satisfied
// by exactly one candidate.
func Resolve(conn Connection, uuids ServiceUUIDs) (*Endpoint, error) {
	if ep, err := resolveByUUID(conn, uuids); err == nil {
		return ep, nil
	}
	slog.Debug("[BLE] well-known UUID lookup failed, trying property-signature fallback")
	return resolveByProperties(conn)
}

func resolveByUUID(conn Connection, uuids ServiceUUIDs) (*Endpoint, error) {
	cp, err := conn.DiscoverCharacteristic(uuids.Service, uuids.ControlPoint)
	if err != nil {
		return nil, fmt.Errorf("ble: control point: %w", err)
	}
	out, err := conn.DiscoverCharacteristic(uuids.Service, uuids.DataOut)
	if err != nil {
		return nil, fmt.Errorf("ble: data out: %w", err)
	}
	info, err := conn.DiscoverCharacteristic(uuids.Service, uuids.Info)
	if err != nil {
		return nil, fmt.Errorf("ble: info: %w", err)
	}
	return &Endpoint{
		ControlPoint: cp,
		DataOut:      out,
		Info:         info,
		WriteMode:    WriteWithResponse,
	}, nil
}

// resolveByProperties matches characteristics by their declared GATT
// property signatures:
//
//	control point: write or write-without-response, plus indicate
//	data out:      notify
//	info:          read only
//
// Each slot must match exactly one characteristic, otherwise resolution
// fails deterministically.
func resolveByProperties(conn Connection) (*Endpoint, error) {
	chars, err := conn.EnumerateCharacteristics()
	if err != nil {
		return nil, fmt.Errorf("ble: enumerate characteristics: %v: %w", err, ErrCharacteristicsNotFound)
	}

	var control, dataOut, info []CharacteristicInfo
	for _, ci := range chars {
		switch {
		case isControlPoint(ci.Props):
			control = append(control, ci)
		case isDataOut(ci.Props):
			dataOut = append(dataOut, ci)
		case isInfo(ci.Props):
			info = append(info, ci)
		}
	}

	if len(control) != 1 || len(dataOut) != 1 || len(info) != 1 {
		return nil, fmt.Errorf(
			"ble: property signature matched %d control-point, %d data-out, %d info candidates (%s): %w",
			len(control), len(dataOut), len(info), summarize(chars), ErrCharacteristicsNotFound)
	}

	mode := WriteWithResponse
	if !control[0].Props.Has(PropWrite) {
		mode = WriteWithoutResponse
	}
	slog.Info("[BLE] resolved characteristics by property signature",
		"control_point", control[0].UUID, "data_out", dataOut[0].UUID, "info", info[0].UUID,
		"write_mode", mode.String())

	return &Endpoint{
		ControlPoint: control[0].Char,
		DataOut:      dataOut[0].Char,
		Info:         info[0].Char,
		WriteMode:    mode,
	}, nil
}

func isControlPoint(p CharProps) bool {
	writable := p.Has(PropWrite) || p.Has(PropWriteNoResponse)
	return writable && p.Has(PropIndicate)
}

func isDataOut(p CharProps) bool {
	return p.Has(PropNotify) && !p.Has(PropIndicate)
}

func isInfo(p CharProps) bool {
	return p == PropRead
}

func summarize(chars []CharacteristicInfo) string {
	uuids := make([]string, 0, len(chars))
	for _, ci := range chars {
		uuids = append(uuids, ci.UUID)
	}
	return strings.Join(uuids, ", ")
}
