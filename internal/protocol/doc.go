// Package protocol implements the Gree heat pump LAN protocol.
//
// The device speaks JSON over UDP port 7000. Every request and reply is an
// unencrypted JSON envelope whose "pack" field carries an encrypted JSON
// object. Packs are AES-128-ECB encrypted, PKCS7 padded and base64 encoded.
//
// # Envelope Format
//
// Requests other than scan use the same envelope:
//
//	{"cid":"app","i":1,"t":"pack","uid":0,"tcid":"<mac>","pack":"<base64>"}
//
// The "i" field is 1 for bind requests and 0 for everything else. The
// discovery request is the bare object {"t":"scan"}.
//
// # Keys
//
// Two keys are in play:
//   - WellKnownKey: the fixed key shared by every device, used for scan and bind
//   - Session key: returned by the device in the bind reply, used for status and cmd
//
// # Status Replies
//
// A status reply's "dat" field is either an object keyed by field name or an
// array of values in the order of the requested columns. DecodeStatusData
// normalizes both shapes into a FieldMap.
//
// # Usage Example
//
//	c, _ := protocol.NewCipher(protocol.WellKnownKey)
//	req, err := protocol.NewBindRequest(mac, c)
//	if err != nil {
//	    return err
//	}
//	// send req, receive reply ...
//	res, err := protocol.DecodeBindReply(reply, c)
//
// # Error Handling
//
// All failures are *Error values carrying an ErrorKind:
//   - Transport: socket failures and receive timeouts
//   - Framing: malformed base64, ciphertext, padding or JSON
//   - Handshake: discovery or binding did not yield a MAC or key
//   - Protocol: well-formed replies missing required fields
//
// # Thread Safety
//
// A Cipher is immutable after construction and safe for concurrent use.
package protocol
