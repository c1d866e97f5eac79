package vpncrypto

import (
	"bytes"
	"testing"
)

func TestHandshakeAgreement(t *testing.T) {
	server, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair(server): %v", err)
	}
	client, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair(client): %v", err)
	}

	serverSecret, err := SharedSecret(server.Private(), client.Public)
	if err != nil {
		t.Fatalf("SharedSecret(server): %v", err)
	}
	clientSecret, err := SharedSecret(client.Private(), server.Public)
	if err != nil {
		t.Fatalf("SharedSecret(client): %v", err)
	}

	if serverSecret != clientSecret {
		t.Fatalf("ECDH shared secrets disagree")
	}

	serverKey := DeriveSessionKey(serverSecret)
	clientKey := DeriveSessionKey(clientSecret)
	if serverKey != clientKey {
		t.Fatalf("derived session keys disagree: server=%x client=%x", serverKey, clientKey)
	}
}

func TestAEADRoundTripVariousLengths(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], bytes.Repeat([]byte{0x42}, KeySize))

	for _, n := range []int{0, 1, 17, 1500, 4068} {
		plaintext := bytes.Repeat([]byte{0xAA}, n)
		nonce, ciphertext, err := Encrypt(key, plaintext)
		if err != nil {
			t.Fatalf("Encrypt(len=%d): %v", n, err)
		}
		got, err := Decrypt(key, nonce, ciphertext)
		if err != nil {
			t.Fatalf("Decrypt(len=%d): %v", n, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch at len=%d", n)
		}
	}
}

func TestAEADDetectsTampering(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], bytes.Repeat([]byte{0x11}, KeySize))

	nonce, ciphertext, err := Encrypt(key, []byte("hello, vpn"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	t.Run("mutated nonce", func(t *testing.T) {
		bad := append([]byte(nil), nonce...)
		bad[0] ^= 0x01
		if _, err := Decrypt(key, bad, ciphertext); err == nil {
			t.Fatalf("expected decrypt failure on mutated nonce")
		}
	})

	t.Run("mutated ciphertext", func(t *testing.T) {
		bad := append([]byte(nil), ciphertext...)
		bad[0] ^= 0x01
		if _, err := Decrypt(key, nonce, bad); err == nil {
			t.Fatalf("expected decrypt failure on mutated ciphertext")
		}
	})

	t.Run("mutated tag", func(t *testing.T) {
		bad := append([]byte(nil), ciphertext...)
		bad[len(bad)-1] ^= 0x01
		if _, err := Decrypt(key, nonce, bad); err == nil {
			t.Fatalf("expected decrypt failure on mutated tag")
		}
	})
}

func TestNonceFreshness(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], bytes.Repeat([]byte{0x77}, KeySize))

	seen := make(map[string]bool)
	const n = 2000
	for i := 0; i < n; i++ {
		nonce, _, err := Encrypt(key, []byte("x"))
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		s := string(nonce)
		if seen[s] {
			t.Fatalf("nonce collision after %d encryptions", i)
		}
		seen[s] = true
	}
}

func TestZeroClearsBuffer(t *testing.T) {
	b := bytes.Repeat([]byte{0xFF}, 32)
	Zero(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, v)
		}
	}
}
