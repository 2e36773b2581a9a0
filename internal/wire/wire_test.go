package wire

import (
	"bytes"
	"testing"
)

func TestEncodeRequestGetStatus(t *testing.T) {
	got, err := EncodeRequest(&Request{OpCode: OpGetStatus})
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	// field 1 varint: tag 0x08, value 1
	want := []byte{0x08, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeRequest(GET_STATUS) = %x, want %x", got, want)
	}
}

func TestEncodeRequestNil(t *testing.T) {
	if _, err := EncodeRequest(nil); err == nil {
		t.Error("EncodeRequest(nil) should error")
	}
}

func TestEncodeConfigVolatileFlagOnly(t *testing.T) {
	mk := func(volatile bool) []byte {
		req := &Request{
			OpCode: OpSetConfig,
			Config: &WifiConfig{
				Wifi: &WifiInfo{
					SSID: []byte("MyWiFi"),
					Band: BandAny,
					Auth: AuthWPA2PSK,
				},
				Passphrase: []byte("mypassword"),
				Volatile:   volatile,
			},
		}
		enc, err := EncodeRequest(req)
		if err != nil {
			t.Fatalf("EncodeRequest() error = %v", err)
		}
		return enc
	}

	plain := mk(false)
	volatile := mk(true)

	if bytes.Equal(plain, volatile) {
		t.Fatal("volatile and non-volatile requests encode identically")
	}
	// The volatile request carries exactly two extra bytes: the field-3
	// tag inside WifiConfig and the bool value, plus the enclosing length
	// bump. Strip the flag bytes and the remainder must match.
	if len(volatile) != len(plain)+2 {
		t.Errorf("volatile request is %d bytes, want %d", len(volatile), len(plain)+2)
	}
	// Both must still reference the same SSID and passphrase bytes.
	if !bytes.Contains(volatile, []byte("MyWiFi")) || !bytes.Contains(volatile, []byte("mypassword")) {
		t.Error("volatile request lost ssid or passphrase bytes")
	}
}

func TestEncodeConfigRequiresWifiInfo(t *testing.T) {
	_, err := EncodeRequest(&Request{
		OpCode: OpSetConfig,
		Config: &WifiConfig{Passphrase: []byte("pw")},
	})
	if err == nil {
		t.Error("EncodeRequest() with nil wifi info should error")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	in := &Response{
		OpCode: OpGetStatus,
		Status: StatusSuccess,
		DeviceStatus: &DeviceStatus{
			State:    StateConnected,
			Wifi:     &WifiInfo{SSID: []byte("MyWiFi"), Channel: 6, Auth: AuthWPA2PSK, Band: Band24},
			IPv4Addr: "192.168.1.40",
		},
	}
	out, err := DecodeResponse(EncodeResponse(in))
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if out.OpCode != OpGetStatus || out.Status != StatusSuccess {
		t.Errorf("envelope = %v/%v, want GET_STATUS/SUCCESS", out.OpCode, out.Status)
	}
	if out.DeviceStatus == nil {
		t.Fatal("device status missing after round trip")
	}
	if out.DeviceStatus.State != StateConnected {
		t.Errorf("state = %v, want CONNECTED", out.DeviceStatus.State)
	}
	if string(out.DeviceStatus.Wifi.SSID) != "MyWiFi" {
		t.Errorf("ssid = %q, want MyWiFi", out.DeviceStatus.Wifi.SSID)
	}
	if out.DeviceStatus.IPv4Addr != "192.168.1.40" {
		t.Errorf("ipv4 = %q, want 192.168.1.40", out.DeviceStatus.IPv4Addr)
	}
}

func TestResultRoundTrip(t *testing.T) {
	in := &Result{
		ScanRecord: &ScanRecord{
			Wifi: &WifiInfo{SSID: []byte("GuestWiFi"), BSSID: []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, Channel: 11, Auth: AuthWPA2PSK},
			RSSI: -61,
		},
	}
	out, err := DecodeResult(EncodeResult(in))
	if err != nil {
		t.Fatalf("DecodeResult() error = %v", err)
	}
	if out.ScanRecord == nil {
		t.Fatal("scan record missing after round trip")
	}
	if string(out.ScanRecord.Wifi.SSID) != "GuestWiFi" {
		t.Errorf("ssid = %q, want GuestWiFi", out.ScanRecord.Wifi.SSID)
	}
	if out.ScanRecord.RSSI != -61 {
		t.Errorf("rssi = %d, want -61", out.ScanRecord.RSSI)
	}
	if out.ScanDone {
		t.Error("scan_done should be unset")
	}
}

func TestResultScanDoneMarker(t *testing.T) {
	out, err := DecodeResult(EncodeResult(&Result{ScanDone: true}))
	if err != nil {
		t.Fatalf("DecodeResult() error = %v", err)
	}
	if !out.ScanDone {
		t.Error("scan_done marker lost in round trip")
	}
	if out.ScanRecord != nil || out.State != nil {
		t.Error("marker frame should carry no record or state")
	}
}

func TestResultStateTransition(t *testing.T) {
	st := StateConnectionFailed
	rs := ReasonAuthError
	out, err := DecodeResult(EncodeResult(&Result{State: &st, Reason: &rs}))
	if err != nil {
		t.Fatalf("DecodeResult() error = %v", err)
	}
	if out.State == nil || *out.State != StateConnectionFailed {
		t.Errorf("state = %v, want CONNECTION_FAILED", out.State)
	}
	if out.Reason == nil || *out.Reason != ReasonAuthError {
		t.Errorf("reason = %v, want AUTH_ERROR", out.Reason)
	}
}

func TestDecodeResponseTruncated(t *testing.T) {
	full := EncodeResponse(&Response{
		OpCode:       OpGetStatus,
		Status:       StatusSuccess,
		DeviceStatus: &DeviceStatus{State: StateConnected, IPv4Addr: "10.0.0.2"},
	})
	// Cutting inside the nested device_status field must fail, not
	// silently produce a partial message.
	if _, err := DecodeResponse(full[:len(full)-3]); err == nil {
		t.Error("DecodeResponse() of truncated payload should error")
	}
}

func TestDecodeResponseGarbage(t *testing.T) {
	if _, err := DecodeResponse([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("DecodeResponse() of garbage should error")
	}
}

func TestDecodeResponseSkipsUnknownFields(t *testing.T) {
	enc := EncodeResponse(&Response{OpCode: OpForgetConfig, Status: StatusSuccess})
	// Append an unknown varint field (number 9) — decode must ignore it.
	enc = append(enc, 0x48, 0x07)
	out, err := DecodeResponse(enc)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if out.OpCode != OpForgetConfig {
		t.Errorf("op = %v, want FORGET_CONFIG", out.OpCode)
	}
}

func TestDecodeResponseRejectsTrailingFrame(t *testing.T) {
	// A buffer that runs past the response into the next frame (here a
	// link report) repeats a top-level field number and must not decode
	// as one message.
	state := StateConnected
	buf := EncodeResponse(&Response{OpCode: OpSetConfig, Status: StatusSuccess})
	buf = append(buf, EncodeResult(&Result{State: &state})...)
	if _, err := DecodeResponse(buf); err == nil {
		t.Error("DecodeResponse() spanning two frames should error")
	}
}

func TestInfoRoundTrip(t *testing.T) {
	out, err := DecodeInfo(EncodeInfo(&Info{Version: 17}))
	if err != nil {
		t.Fatalf("DecodeInfo() error = %v", err)
	}
	if out.Version != 17 {
		t.Errorf("version = %d, want 17", out.Version)
	}
}

func TestParseAuthMode(t *testing.T) {
	cases := []struct {
		in   string
		want AuthMode
	}{
		{"OPEN", AuthOpen},
		{"WEP", AuthWEP},
		{"WPA_PSK", AuthWPAPSK},
		{"WPA2_PSK", AuthWPA2PSK},
		{"WPA_WPA2_PSK", AuthWPAWPA2PSK},
		{"WPA2_ENTERPRISE", AuthWPA2Enterprise},
	}
	for _, tc := range cases {
		got, err := ParseAuthMode(tc.in)
		if err != nil {
			t.Errorf("ParseAuthMode(%q) error = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAuthMode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := ParseAuthMode("wpa2"); err == nil {
		t.Error("ParseAuthMode(\"wpa2\") should error (names are exact)")
	}
}

func TestRequestRoundTrip(t *testing.T) {
	in := &Request{
		OpCode: OpSetConfig,
		Config: &WifiConfig{
			Wifi: &WifiInfo{
				SSID: []byte("MyWiFi"),
				Band: BandAny,
				Auth: AuthWPA2PSK,
			},
			Passphrase: []byte("mypassword"),
			Volatile:   true,
		},
	}
	data, err := EncodeRequest(in)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	out, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if out.OpCode != OpSetConfig {
		t.Errorf("op_code = %v, want SET_CONFIG", out.OpCode)
	}
	if out.Config == nil || out.Config.Wifi == nil {
		t.Fatalf("config lost in transit: %+v", out)
	}
	if string(out.Config.Wifi.SSID) != "MyWiFi" || out.Config.Wifi.Auth != AuthWPA2PSK {
		t.Errorf("wifi info = %+v", out.Config.Wifi)
	}
	if string(out.Config.Passphrase) != "mypassword" || !out.Config.Volatile {
		t.Errorf("passphrase/volatile = %q/%v", out.Config.Passphrase, out.Config.Volatile)
	}
}

func TestScanParamsRoundTrip(t *testing.T) {
	in := &Request{
		OpCode:     OpStartScan,
		ScanParams: &ScanParams{Band: BandAny, PeriodMS: 15000},
	}
	data, err := EncodeRequest(in)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	out, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if out.ScanParams == nil || out.ScanParams.PeriodMS != 15000 || out.ScanParams.Passive {
		t.Errorf("scan params = %+v", out.ScanParams)
	}
}
