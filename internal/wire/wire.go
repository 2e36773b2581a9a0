// Package wire implements the binary encoding of the Nordic WiFi
// provisioning messages carried over the control-point and data-out
// characteristics. The field layout follows the vendor-published .proto
// definitions; messages are mapped onto the protobuf wire format by hand
// because the schema files and their codegen live outside this repository.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// OpCode identifies a provisioning command.
type OpCode uint32

const (
	OpReserved     OpCode = 0
	OpGetStatus    OpCode = 1
	OpStartScan    OpCode = 2
	OpStopScan     OpCode = 3
	OpSetConfig    OpCode = 4
	OpForgetConfig OpCode = 5
)

func (op OpCode) String() string {
	switch op {
	case OpGetStatus:
		return "GET_STATUS"
	case OpStartScan:
		return "START_SCAN"
	case OpStopScan:
		return "STOP_SCAN"
	case OpSetConfig:
		return "SET_CONFIG"
	case OpForgetConfig:
		return "FORGET_CONFIG"
	default:
		return fmt.Sprintf("OpCode(%d)", uint32(op))
	}
}

// Status is the device-reported outcome of a command.
type Status uint32

const (
	StatusSuccess         Status = 0
	StatusInvalidArgument Status = 1
	StatusInvalidProto    Status = 2
	StatusInternalError   Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusInvalidProto:
		return "INVALID_PROTO"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	default:
		return fmt.Sprintf("Status(%d)", uint32(s))
	}
}

// ConnectionState is the device's WiFi link state.
type ConnectionState uint32

const (
	StateDisconnected     ConnectionState = 0
	StateAuthentication   ConnectionState = 1
	StateAssociation      ConnectionState = 2
	StateObtainingIP      ConnectionState = 3
	StateConnected        ConnectionState = 4
	StateConnectionFailed ConnectionState = 5
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateAuthentication:
		return "AUTHENTICATION"
	case StateAssociation:
		return "ASSOCIATION"
	case StateObtainingIP:
		return "OBTAINING_IP"
	case StateConnected:
		return "CONNECTED"
	case StateConnectionFailed:
		return "CONNECTION_FAILED"
	default:
		return fmt.Sprintf("ConnectionState(%d)", uint32(s))
	}
}

// ConnectionFailureReason qualifies a CONNECTION_FAILED state.
type ConnectionFailureReason uint32

const (
	ReasonAuthError       ConnectionFailureReason = 0
	ReasonNetworkNotFound ConnectionFailureReason = 1
	ReasonTimeout         ConnectionFailureReason = 2
	ReasonFailIP          ConnectionFailureReason = 3
	ReasonFailConn        ConnectionFailureReason = 4
)

func (r ConnectionFailureReason) String() string {
	switch r {
	case ReasonAuthError:
		return "AUTH_ERROR"
	case ReasonNetworkNotFound:
		return "NETWORK_NOT_FOUND"
	case ReasonTimeout:
		return "TIMEOUT"
	case ReasonFailIP:
		return "FAIL_IP"
	case ReasonFailConn:
		return "FAIL_CONN"
	default:
		return fmt.Sprintf("ConnectionFailureReason(%d)", uint32(r))
	}
}

// AuthMode is the WiFi authentication mode.
type AuthMode uint32

const (
	AuthOpen           AuthMode = 1
	AuthWEP            AuthMode = 2
	AuthWPAPSK         AuthMode = 3
	AuthWPA2PSK        AuthMode = 4
	AuthWPAWPA2PSK     AuthMode = 5
	AuthWPA2Enterprise AuthMode = 6
)

func (a AuthMode) String() string {
	switch a {
	case AuthOpen:
		return "OPEN"
	case AuthWEP:
		return "WEP"
	case AuthWPAPSK:
		return "WPA_PSK"
	case AuthWPA2PSK:
		return "WPA2_PSK"
	case AuthWPAWPA2PSK:
		return "WPA_WPA2_PSK"
	case AuthWPA2Enterprise:
		return "WPA2_ENTERPRISE"
	default:
		return fmt.Sprintf("AuthMode(%d)", uint32(a))
	}
}

// Band selects the WiFi frequency band.
type Band uint32

const (
	BandAny Band = 1
	Band24  Band = 2
	Band5   Band = 3
)

func (b Band) String() string {
	switch b {
	case BandAny:
		return "BAND_ANY"
	case Band24:
		return "BAND_2_4_GHZ"
	case Band5:
		return "BAND_5_GHZ"
	default:
		return fmt.Sprintf("Band(%d)", uint32(b))
	}
}

// WifiInfo identifies a WiFi network.
//
//	field 1 (bytes):  ssid
//	field 2 (bytes):  bssid
//	field 3 (enum):   band
//	field 4 (uint32): channel
//	field 5 (enum):   auth
type WifiInfo struct {
	SSID    []byte
	BSSID   []byte
	Band    Band
	Channel uint32
	Auth    AuthMode
}

// ScanParams controls a device-side WiFi scan.
//
//	field 1 (enum):   band
//	field 2 (bool):   passive
//	field 3 (uint32): period_ms
type ScanParams struct {
	Band     Band
	Passive  bool
	PeriodMS uint32
}

// WifiConfig carries credentials for SET_CONFIG.
//
//	field 1 (message): wifi
//	field 2 (bytes):   passphrase
//	field 3 (bool):    volatile memory flag
type WifiConfig struct {
	Wifi       *WifiInfo
	Passphrase []byte
	Volatile   bool
}

// Request is the outbound command envelope.
//
//	field 1 (enum):    op_code
//	field 2 (message): scan_params
//	field 3 (message): config
type Request struct {
	OpCode     OpCode
	ScanParams *ScanParams
	Config     *WifiConfig
}

// DeviceStatus is the status payload of a GET_STATUS response.
//
//	field 1 (enum):    state
//	field 2 (message): wifi
//	field 3 (string):  ipv4_addr
type DeviceStatus struct {
	State    ConnectionState
	Wifi     *WifiInfo
	IPv4Addr string
}

// Response is the inbound reply envelope. OpCode echoes the request it
// answers, which is how replies are correlated to the pending command.
//
//	field 1 (enum):    op_code
//	field 2 (enum):    status
//	field 3 (message): device_status
type Response struct {
	OpCode       OpCode
	Status       Status
	DeviceStatus *DeviceStatus
}

// ScanRecord is one network observed by the device.
//
//	field 1 (message): wifi
//	field 2 (int32):   rssi
type ScanRecord struct {
	Wifi *WifiInfo
	RSSI int32
}

// Result is an unsolicited notification frame: either one scan record,
// a connection-state transition, or the scan-complete marker.
//
//	field 1 (message): scan_record
//	field 2 (enum):    state
//	field 3 (enum):    reason
//	field 4 (bool):    scan_done
type Result struct {
	ScanRecord *ScanRecord
	State      *ConnectionState
	Reason     *ConnectionFailureReason
	ScanDone   bool
}

// Info is the static payload of the read-only info characteristic.
//
//	field 1 (uint32): version
type Info struct {
	Version uint32
}

// EncodeRequest serializes a Request for the control point.
func EncodeRequest(r *Request) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("wire: nil request")
	}
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.OpCode))
	if r.ScanParams != nil {
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeScanParams(r.ScanParams))
	}
	if r.Config != nil {
		enc, err := encodeWifiConfig(r.Config)
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, 3, protowire.BytesType)
		buf = protowire.AppendBytes(buf, enc)
	}
	return buf, nil
}

func encodeScanParams(p *ScanParams) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(p.Band))
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeBool(p.Passive))
	buf = protowire.AppendTag(buf, 3, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(p.PeriodMS))
	return buf
}

func encodeWifiConfig(c *WifiConfig) ([]byte, error) {
	if c.Wifi == nil {
		return nil, fmt.Errorf("wire: config without wifi info")
	}
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendBytes(buf, encodeWifiInfo(c.Wifi))
	buf = protowire.AppendTag(buf, 2, protowire.BytesType)
	buf = protowire.AppendBytes(buf, c.Passphrase)
	if c.Volatile {
		buf = protowire.AppendTag(buf, 3, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeBool(true))
	}
	return buf, nil
}

func encodeWifiInfo(w *WifiInfo) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendBytes(buf, w.SSID)
	if len(w.BSSID) > 0 {
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendBytes(buf, w.BSSID)
	}
	buf = protowire.AppendTag(buf, 3, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(w.Band))
	buf = protowire.AppendTag(buf, 4, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(w.Channel))
	buf = protowire.AppendTag(buf, 5, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(w.Auth))
	return buf
}

// DecodeRequest parses a Request from control-point bytes. Used by
// device simulators in tests.
func DecodeRequest(data []byte) (*Request, error) {
	req := &Request{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case 1:
			if typ != protowire.VarintType {
				return fmt.Errorf("wire: request op_code has wire type %d", typ)
			}
			req.OpCode = OpCode(val)
		case 2:
			if typ != protowire.BytesType {
				return fmt.Errorf("wire: request scan_params has wire type %d", typ)
			}
			sp, err := decodeScanParams(raw)
			if err != nil {
				return err
			}
			req.ScanParams = sp
		case 3:
			if typ != protowire.BytesType {
				return fmt.Errorf("wire: request config has wire type %d", typ)
			}
			cfg, err := decodeWifiConfig(raw)
			if err != nil {
				return err
			}
			req.Config = cfg
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func decodeScanParams(data []byte) (*ScanParams, error) {
	sp := &ScanParams{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case 1:
			sp.Band = Band(val)
		case 2:
			sp.Passive = protowire.DecodeBool(val)
		case 3:
			sp.PeriodMS = uint32(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sp, nil
}

func decodeWifiConfig(data []byte) (*WifiConfig, error) {
	cfg := &WifiConfig{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case 1:
			w, err := decodeWifiInfo(raw)
			if err != nil {
				return err
			}
			cfg.Wifi = w
		case 2:
			cfg.Passphrase = append([]byte(nil), raw...)
		case 3:
			cfg.Volatile = protowire.DecodeBool(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// DecodeResponse parses a Response from reassembled notification bytes.
// Structurally invalid input, including truncated fragments, returns an
// error; the protocol engine uses that to distinguish an incomplete
// reassembly from a finished one. Devices emit each top-level field at
// most once, in ascending order, so a repeated or regressing field
// number means the buffer runs past the response into the next frame
// and is rejected the same way.
func DecodeResponse(data []byte) (*Response, error) {
	resp := &Response{}
	var last protowire.Number
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		if num <= last {
			return fmt.Errorf("wire: response field %d repeated or out of order after %d", num, last)
		}
		last = num
		switch num {
		case 1:
			if typ != protowire.VarintType {
				return fmt.Errorf("wire: response op_code has wire type %d", typ)
			}
			resp.OpCode = OpCode(val)
		case 2:
			if typ != protowire.VarintType {
				return fmt.Errorf("wire: response status has wire type %d", typ)
			}
			resp.Status = Status(val)
		case 3:
			if typ != protowire.BytesType {
				return fmt.Errorf("wire: response device_status has wire type %d", typ)
			}
			ds, err := decodeDeviceStatus(raw)
			if err != nil {
				return err
			}
			resp.DeviceStatus = ds
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func decodeDeviceStatus(data []byte) (*DeviceStatus, error) {
	ds := &DeviceStatus{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case 1:
			ds.State = ConnectionState(val)
		case 2:
			if typ != protowire.BytesType {
				return fmt.Errorf("wire: device_status wifi has wire type %d", typ)
			}
			w, err := decodeWifiInfo(raw)
			if err != nil {
				return err
			}
			ds.Wifi = w
		case 3:
			if typ != protowire.BytesType {
				return fmt.Errorf("wire: device_status ipv4_addr has wire type %d", typ)
			}
			ds.IPv4Addr = string(raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func decodeWifiInfo(data []byte) (*WifiInfo, error) {
	w := &WifiInfo{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case 1:
			w.SSID = append([]byte(nil), raw...)
		case 2:
			w.BSSID = append([]byte(nil), raw...)
		case 3:
			w.Band = Band(val)
		case 4:
			w.Channel = uint32(val)
		case 5:
			w.Auth = AuthMode(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// DecodeResult parses a Result notification frame.
func DecodeResult(data []byte) (*Result, error) {
	res := &Result{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case 1:
			if typ != protowire.BytesType {
				return fmt.Errorf("wire: result scan_record has wire type %d", typ)
			}
			rec, err := decodeScanRecord(raw)
			if err != nil {
				return err
			}
			res.ScanRecord = rec
		case 2:
			st := ConnectionState(val)
			res.State = &st
		case 3:
			r := ConnectionFailureReason(val)
			res.Reason = &r
		case 4:
			res.ScanDone = protowire.DecodeBool(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func decodeScanRecord(data []byte) (*ScanRecord, error) {
	rec := &ScanRecord{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case 1:
			if typ != protowire.BytesType {
				return fmt.Errorf("wire: scan_record wifi has wire type %d", typ)
			}
			w, err := decodeWifiInfo(raw)
			if err != nil {
				return err
			}
			rec.Wifi = w
		case 2:
			rec.RSSI = int32(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// EncodeResult serializes a Result frame. The host never sends these;
// device simulators in tests do.
func EncodeResult(r *Result) []byte {
	var buf []byte
	if r.ScanRecord != nil {
		var rec []byte
		if r.ScanRecord.Wifi != nil {
			rec = protowire.AppendTag(rec, 1, protowire.BytesType)
			rec = protowire.AppendBytes(rec, encodeWifiInfo(r.ScanRecord.Wifi))
		}
		rec = protowire.AppendTag(rec, 2, protowire.VarintType)
		rec = protowire.AppendVarint(rec, uint64(uint32(r.ScanRecord.RSSI)))
		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendBytes(buf, rec)
	}
	if r.State != nil {
		buf = protowire.AppendTag(buf, 2, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(*r.State))
	}
	if r.Reason != nil {
		buf = protowire.AppendTag(buf, 3, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(*r.Reason))
	}
	if r.ScanDone {
		buf = protowire.AppendTag(buf, 4, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeBool(true))
	}
	return buf
}

// EncodeResponse serializes a Response. Used by device simulators in tests.
func EncodeResponse(r *Response) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.OpCode))
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Status))
	if r.DeviceStatus != nil {
		var ds []byte
		ds = protowire.AppendTag(ds, 1, protowire.VarintType)
		ds = protowire.AppendVarint(ds, uint64(r.DeviceStatus.State))
		if r.DeviceStatus.Wifi != nil {
			ds = protowire.AppendTag(ds, 2, protowire.BytesType)
			ds = protowire.AppendBytes(ds, encodeWifiInfo(r.DeviceStatus.Wifi))
		}
		if r.DeviceStatus.IPv4Addr != "" {
			ds = protowire.AppendTag(ds, 3, protowire.BytesType)
			ds = protowire.AppendBytes(ds, []byte(r.DeviceStatus.IPv4Addr))
		}
		buf = protowire.AppendTag(buf, 3, protowire.BytesType)
		buf = protowire.AppendBytes(buf, ds)
	}
	return buf
}

// DecodeInfo parses the info characteristic payload.
func DecodeInfo(data []byte) (*Info, error) {
	info := &Info{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		if num == 1 {
			info.Version = uint32(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// EncodeInfo serializes an Info payload. Used by device simulators in tests.
func EncodeInfo(i *Info) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(i.Version))
	return buf
}

// walkFields iterates top-level protobuf fields, handing each to fn.
// Varint fields pass their value in val; length-delimited fields pass
// their bytes in raw. Unknown field numbers are skipped, matching
// protobuf's forward-compatibility rules.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: field %d: malformed varint: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := fn(num, typ, val, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: field %d: malformed length-delimited field: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := fn(num, typ, 0, raw); err != nil {
				return err
			}
		case protowire.Fixed32Type:
			val, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return fmt.Errorf("wire: field %d: malformed fixed32: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := fn(num, typ, uint64(val), nil); err != nil {
				return err
			}
		case protowire.Fixed64Type:
			val, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return fmt.Errorf("wire: field %d: malformed fixed64: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := fn(num, typ, val, nil); err != nil {
				return err
			}
		default:
			return fmt.Errorf("wire: unsupported wire type %d for field %d", typ, num)
		}
	}
	return nil
}

// ParseAuthMode maps the CLI auth-mode names onto AuthMode values.
func ParseAuthMode(s string) (AuthMode, error) {
	switch s {
	case "OPEN":
		return AuthOpen, nil
	case "WEP":
		return AuthWEP, nil
	case "WPA_PSK":
		return AuthWPAPSK, nil
	case "WPA2_PSK":
		return AuthWPA2PSK, nil
	case "WPA_WPA2_PSK":
		return AuthWPAWPA2PSK, nil
	case "WPA2_ENTERPRISE":
		return AuthWPA2Enterprise, nil
	default:
		return 0, fmt.Errorf("wire: unknown auth mode %q", s)
	}
}
