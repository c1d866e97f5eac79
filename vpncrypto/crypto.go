// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package vpncrypto implements the cryptographic primitives shared by the
// enclave and the client peer: Curve25519 ECDH, HKDF session-key
// derivation, and ChaCha20-Poly1305 AEAD. Both sides MUST use identical
// parameters to agree on a session key (§3).
package vpncrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/pkg/errors"
)

var newSHA256 = sha256.New

const (
	// KeySize is the width of an X25519 key or a derived session key.
	KeySize = 32
	// NonceSize is the ChaCha20-Poly1305 nonce width.
	NonceSize = 12
	// TagSize is the ChaCha20-Poly1305 authentication tag width.
	TagSize = 16

	// sessionKeyContext is the KDF context label required by §3; both
	// peers must derive with this exact label to agree.
	sessionKeyContext = "VPN_SESS"
	// There is no separate subkey-id constant: only one subkey is ever
	// derived per session, so "subkey_id=1" from §3 is folded into a
	// single HKDF Expand call under this fixed info string.
)

// KeyPair is a Curve25519 identity: a public key safe to hand to a peer,
// and a private key that must never leave the owning process's memory.
type KeyPair struct {
	Public  [KeySize]byte
	private [KeySize]byte
}

// Private exposes the private scalar. Callers that need to retain a
// KeyPair past the handshake should scrub it with Zero once the shared
// secret has been derived.
func (kp KeyPair) Private() [KeySize]byte {
	return kp.private
}

// GenerateKeyPair creates a fresh Curve25519 identity.
func GenerateKeyPair() (KeyPair, error) {
	var priv [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return KeyPair{}, errors.Wrap(err, "vpncrypto: generate private scalar")
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "vpncrypto: derive public key")
	}
	kp := KeyPair{private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes the ECDH shared secret between a local private key
// and a peer's public key.
func SharedSecret(priv, peerPub [KeySize]byte) ([KeySize]byte, error) {
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return [KeySize]byte{}, errors.Wrap(err, "vpncrypto: ECDH")
	}
	var out [KeySize]byte
	copy(out[:], secret)
	return out, nil
}

// DeriveSessionKey derives the session key from an ECDH shared secret via
// HKDF-SHA256, using the fixed context label from §3. Both the enclave and
// the client peer call this with identical parameters.
func DeriveSessionKey(sharedSecret [KeySize]byte) [KeySize]byte {
	reader := hkdf.New(newSHA256, sharedSecret[:], nil, []byte(sessionKeyContext))
	var out [KeySize]byte
	// hkdf.New never fails to produce output for a request this small;
	// an error here would indicate a broken io.Reader implementation.
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		panic(errors.Wrap(err, "vpncrypto: HKDF expand"))
	}
	return out
}

// Encrypt seals plaintext under key with a freshly-generated random nonce
// and no additional data, returning nonce and ciphertext (ciphertext
// includes the trailing Poly1305 tag).
func Encrypt(key [KeySize]byte, plaintext []byte) (nonce []byte, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nil, errors.Wrap(err, "vpncrypto: new AEAD")
	}
	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, errors.Wrap(err, "vpncrypto: generate nonce")
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// Decrypt opens an AEAD envelope. Authentication failure returns a non-nil
// error and never returns partial or tampered plaintext.
func Decrypt(key [KeySize]byte, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "vpncrypto: new AEAD")
	}
	if len(nonce) != NonceSize {
		return nil, errors.Errorf("vpncrypto: bad nonce size %d", len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "vpncrypto: AEAD authentication failed")
	}
	return plaintext, nil
}

// Zero overwrites b with zeroes. Go provides no guaranteed non-optimizable
// memset, so this is best-effort: it writes through the slice and pins the
// backing array alive across the write with runtime.KeepAlive so the
// compiler cannot prove the store dead and elide it.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// ZeroArray is the fixed-size convenience form of Zero for key material
// held in [32]byte fields.
func ZeroArray(b *[KeySize]byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
