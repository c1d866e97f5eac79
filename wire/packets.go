package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// UsernameSize is the fixed width of the CONNECT_REQ username field.
	UsernameSize = 32
	// AuthTokenSize is the fixed width of the CONNECT_REQ auth_token field,
	// which doubles as the client's Curve25519 public key (§3, §9 — the
	// overload is preserved for wire compatibility, not cleaned up here).
	AuthTokenSize = 32
	// PublicKeySize is the size of a Curve25519 public key as carried on
	// the wire (CONNECT_RESP's server_public_key).
	PublicKeySize = 32

	connectReqPayloadSize  = UsernameSize + AuthTokenSize
	connectRespPayloadSize = 1 + 4 + 4 + PublicKeySize

	// NonceSize and TagSize describe the DATA payload's AEAD envelope.
	NonceSize = 12
	TagSize   = 16
)

// ConnectRequest is the CONNECT_REQ payload: a NUL-padded username and an
// auth_token field that carries the client's Curve25519 public key.
type ConnectRequest struct {
	Username  [UsernameSize]byte
	AuthToken [AuthTokenSize]byte // client's Curve25519 public key
}

// BuildConnectRequest encodes a full CONNECT_REQ frame (header + payload)
// into buf, which must be at least HeaderSize+connectReqPayloadSize bytes.
func BuildConnectRequest(buf []byte, seq uint32, username string, pubKey [32]byte) int {
	EncodeHeader(buf, ConnectReq, connectReqPayloadSize, seq)
	payload := buf[HeaderSize:]
	var user [UsernameSize]byte
	copy(user[:], username) // truncates silently if username is too long
	copy(payload[0:UsernameSize], user[:])
	copy(payload[UsernameSize:UsernameSize+AuthTokenSize], pubKey[:])
	return HeaderSize + connectReqPayloadSize
}

// ParseConnectRequest extracts the CONNECT_REQ payload following a
// previously-validated header.
func ParseConnectRequest(payload []byte) (ConnectRequest, error) {
	if len(payload) < connectReqPayloadSize {
		return ConnectRequest{}, errors.Errorf("wire: short CONNECT_REQ payload: %d bytes", len(payload))
	}
	var req ConnectRequest
	copy(req.Username[:], payload[0:UsernameSize])
	copy(req.AuthToken[:], payload[UsernameSize:UsernameSize+AuthTokenSize])
	return req, nil
}

// UsernameString returns the username with trailing NUL padding stripped.
func (r ConnectRequest) UsernameString() string {
	i := 0
	for i < len(r.Username) && r.Username[i] != 0 {
		i++
	}
	return string(r.Username[:i])
}

// ConnectResponse is the CONNECT_RESP payload.
type ConnectResponse struct {
	Status       uint8 // 0 success, non-zero failure
	VPNIP        uint32
	SessionID    uint32
	ServerPubKey [PublicKeySize]byte
}

// BuildConnectResponse encodes a full CONNECT_RESP frame into buf.
func BuildConnectResponse(buf []byte, seq uint32, resp ConnectResponse) int {
	EncodeHeader(buf, ConnectResp, connectRespPayloadSize, seq)
	payload := buf[HeaderSize:]
	payload[0] = resp.Status
	binary.BigEndian.PutUint32(payload[1:5], resp.VPNIP)
	binary.BigEndian.PutUint32(payload[5:9], resp.SessionID)
	copy(payload[9:9+PublicKeySize], resp.ServerPubKey[:])
	return HeaderSize + connectRespPayloadSize
}

// ParseConnectResponse extracts the CONNECT_RESP payload.
func ParseConnectResponse(payload []byte) (ConnectResponse, error) {
	if len(payload) < connectRespPayloadSize {
		return ConnectResponse{}, errors.Errorf("wire: short CONNECT_RESP payload: %d bytes", len(payload))
	}
	var resp ConnectResponse
	resp.Status = payload[0]
	resp.VPNIP = binary.BigEndian.Uint32(payload[1:5])
	resp.SessionID = binary.BigEndian.Uint32(payload[5:9])
	copy(resp.ServerPubKey[:], payload[9:9+PublicKeySize])
	return resp, nil
}

// BuildData encodes a DATA frame around an already-AEAD-sealed envelope
// (nonce ∥ ciphertext ∥ tag, as produced by vpncrypto.Encrypt).
func BuildData(buf []byte, seq uint32, sealed []byte) int {
	EncodeHeader(buf, Data, uint16(len(sealed)), seq)
	copy(buf[HeaderSize:HeaderSize+len(sealed)], sealed)
	return HeaderSize + len(sealed)
}

// ParseData returns the sealed AEAD envelope (nonce ∥ ciphertext ∥ tag)
// carried by a DATA frame, requiring at least a nonce and tag's worth of
// bytes so that vpncrypto.Decrypt never has to re-validate this.
func ParseData(payload []byte) ([]byte, error) {
	if len(payload) < NonceSize+TagSize {
		return nil, errors.Errorf("wire: DATA payload too short: %d bytes", len(payload))
	}
	return payload, nil
}

// BuildControl encodes a zero-payload control frame: PING, PONG, or
// DISCONNECT.
func BuildControl(buf []byte, typ PacketType, seq uint32) int {
	EncodeHeader(buf, typ, 0, seq)
	return HeaderSize
}
