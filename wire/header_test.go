package wire

import "testing"

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderSize+10)
	EncodeHeader(buf, Data, 10, 42)

	h, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader returned error: %v", err)
	}
	if h.Type != Data {
		t.Fatalf("expected type Data, got %v", h.Type)
	}
	if h.Version != ProtocolVersion {
		t.Fatalf("expected version %d, got %d", ProtocolVersion, h.Version)
	}
	if h.Length != 10 {
		t.Fatalf("expected length 10, got %d", h.Length)
	}
	if h.Sequence != 42 {
		t.Fatalf("expected sequence 42, got %d", h.Sequence)
	}
}

func TestDecodeHeaderShortFrame(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	if err == nil {
		t.Fatalf("expected error for short frame")
	}
}

func TestDecodeHeaderBadVersion(t *testing.T) {
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, Ping, 0, 1)
	buf[1] = 0x02 // corrupt version
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatalf("expected error for bad version")
	}
}

func TestDecodeHeaderLengthExceedsReceived(t *testing.T) {
	buf := make([]byte, HeaderSize+4)
	EncodeHeader(buf, Data, 100, 1) // claims 100 bytes but buffer only has 4
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatalf("expected error for declared length exceeding received bytes")
	}
}

func TestSequenceCounterMonotonic(t *testing.T) {
	var c SequenceCounter
	a := c.Next()
	b := c.Next()
	if b != a+1 {
		t.Fatalf("expected monotonic increment, got %d then %d", a, b)
	}
}
