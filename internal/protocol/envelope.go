package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message type tags used in envelopes and packs
const (
	TypeScan   = "scan"
	TypePack   = "pack"
	TypeBind   = "bind"
	TypeBindOK = "bindok"
	TypeStatus = "status"
	TypeDat    = "dat"
	TypeCmd    = "cmd"
	TypeRes    = "res"
	TypeDevice = "dev"
)

const (
	// MaxDatagramSize is the receive buffer size for device replies
	MaxDatagramSize = 1024

	appClientID = "app"
)

// Envelope is the outer, unencrypted JSON object carrying routing metadata and a pack
type Envelope struct {
	CID  string `json:"cid"`
	I    int    `json:"i"`
	T    string `json:"t"`
	UID  int    `json:"uid"`
	TCID string `json:"tcid"`
	Pack string `json:"pack"`
}

// ScanRequest is the only envelope sent without a pack
type ScanRequest struct {
	T string `json:"t"`
}

// Reply is the lenient view of any envelope received from the device.
// Only the fields needed for routing and decryption are kept.
type Reply struct {
	T    string `json:"t"`
	CID  string `json:"cid"`
	TCID string `json:"tcid"`
	Pack string `json:"pack"`
}

// BindPack asks the device for its session key
type BindPack struct {
	T   string `json:"t"`
	UID int    `json:"uid"`
	MAC string `json:"mac"`
}

// StatusPack requests the listed columns
type StatusPack struct {
	MAC  string   `json:"mac"`
	T    string   `json:"t"`
	Cols []string `json:"cols"`
}

// CommandPack writes values to the listed fields
type CommandPack struct {
	MAC string   `json:"mac"`
	T   string   `json:"t"`
	Opt []string `json:"opt"`
	P   []int    `json:"p"`
}

// ScanResult is the decoded pack of a scan reply
type ScanResult struct {
	T       string `json:"t"`
	MAC     string `json:"mac"`
	CID     string `json:"cid"`
	Name    string `json:"name"`
	Brand   string `json:"brand"`
	Model   string `json:"model"`
	Version string `json:"ver"`
}

// BindResult is the decoded pack of a bind reply
type BindResult struct {
	T   string `json:"t"`
	MAC string `json:"mac"`
	Key string `json:"key"`
}

// StatusResult is the decoded pack of a status reply
type StatusResult struct {
	T    string          `json:"t"`
	MAC  string          `json:"mac"`
	Cols []string        `json:"cols"`
	Dat  json.RawMessage `json:"dat"`
}

// CommandResult is the decoded pack of a command reply
type CommandResult struct {
	T   string          `json:"t"`
	MAC string          `json:"mac"`
	R   json.Number     `json:"r"`
	Opt []string        `json:"opt"`
	P   json.RawMessage `json:"p"`
	Val json.RawMessage `json:"val"`
}

// NewScanRequest builds the discovery datagram
func NewScanRequest() []byte {
	b, _ := json.Marshal(ScanRequest{T: TypeScan})
	return b
}

// NewBindRequest builds a bind datagram, encrypted with the well-known key cipher
func NewBindRequest(mac string, c *Cipher) ([]byte, error) {
	return newPackRequest(mac, 1, BindPack{T: TypeBind, UID: 0, MAC: mac}, c)
}

// NewStatusRequest builds a status query for cols, encrypted with the session cipher
func NewStatusRequest(mac string, cols []string, c *Cipher) ([]byte, error) {
	return newPackRequest(mac, 0, StatusPack{MAC: mac, T: TypeStatus, Cols: cols}, c)
}

// NewCommandRequest builds a single-field command, encrypted with the session cipher
func NewCommandRequest(mac, field string, value int, c *Cipher) ([]byte, error) {
	return newPackRequest(mac, 0, CommandPack{MAC: mac, T: TypeCmd, Opt: []string{field}, P: []int{value}}, c)
}

func newPackRequest(mac string, i int, pack any, c *Cipher) ([]byte, error) {
	if mac == "" {
		return nil, NewProtocolError("encode", "device MAC is required", nil)
	}
	enc, err := c.Encode(pack)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(Envelope{CID: appClientID, I: i, T: TypePack, UID: 0, TCID: mac, Pack: enc})
	if err != nil {
		return nil, NewFramingError("failed to marshal envelope", err)
	}
	return b, nil
}

// ParseReply parses a received datagram into its envelope
func ParseReply(data []byte) (*Reply, error) {
	data = bytes.TrimRight(data, "\x00")
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, NewFramingError("reply is not a JSON envelope", err)
	}
	if r.Pack == "" {
		return nil, NewProtocolError("reply", fmt.Sprintf("envelope of type %q carries no pack", r.T), nil)
	}
	return &r, nil
}

// DecodeScanReply extracts the scan result from a reply, decoded with c
func DecodeScanReply(data []byte, c *Cipher) (*ScanResult, error) {
	r, err := ParseReply(data)
	if err != nil {
		return nil, err
	}
	var res ScanResult
	if err := c.Decode(r.Pack, &res); err != nil {
		return nil, err
	}
	if res.MAC == "" {
		return nil, NewProtocolError("scan", "scan reply has no mac", nil)
	}
	return &res, nil
}

// DecodeBindReply extracts the bind result from a reply, decoded with c
func DecodeBindReply(data []byte, c *Cipher) (*BindResult, error) {
	r, err := ParseReply(data)
	if err != nil {
		return nil, err
	}
	var res BindResult
	if err := c.Decode(r.Pack, &res); err != nil {
		return nil, err
	}
	if res.Key == "" {
		return nil, NewProtocolError("bind", fmt.Sprintf("bind reply of type %q has no key", res.T), nil)
	}
	return &res, nil
}

// DecodeStatusReply decodes a status reply and reconciles dat against the
// columns that were requested.
func DecodeStatusReply(data []byte, cols []string, c *Cipher) (FieldMap, error) {
	r, err := ParseReply(data)
	if err != nil {
		return nil, err
	}
	var res StatusResult
	if err := c.Decode(r.Pack, &res); err != nil {
		return nil, err
	}
	return DecodeStatusData(cols, res.Dat)
}

// DecodeCommandReply decodes a command reply. The content is informational only.
func DecodeCommandReply(data []byte, c *Cipher) (*CommandResult, error) {
	r, err := ParseReply(data)
	if err != nil {
		return nil, err
	}
	var res CommandResult
	if err := c.Decode(r.Pack, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
