package address

import (
	"testing"
)

func testAddress() *Address {
	addr := &Address{Prefix: 0x14820c}
	for i := range addr.PublicSpendKey {
		addr.PublicSpendKey[i] = byte(i)
	}
	for i := range addr.PublicViewKey {
		addr.PublicViewKey[i] = byte(0xff - i)
	}
	return addr
}

func TestRoundTrip(t *testing.T) {
	addr := testAddress()
	encoded := Encode(addr)

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode returned error: %s", err)
	}
	if decoded.Prefix != addr.Prefix {
		t.Errorf("prefix mismatch: got %x, want %x", decoded.Prefix, addr.Prefix)
	}
	if decoded.PublicSpendKey != addr.PublicSpendKey {
		t.Errorf("spend key mismatch")
	}
	if decoded.PublicViewKey != addr.PublicViewKey {
		t.Errorf("view key mismatch")
	}
}

func TestCorruptedCharacterFailsChecksum(t *testing.T) {
	addr := testAddress()
	encoded := []byte(Encode(addr))

	original := encoded[len(encoded)/2]
	for _, c := range []byte("123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz") {
		if c != original {
			encoded[len(encoded)/2] = c
			break
		}
	}

	if _, err := Decode(string(encoded)); err == nil {
		t.Fatalf("expected decode of a corrupted address to fail")
	}
}

func TestDecodeRejectsTooShort(t *testing.T) {
	if _, err := Decode("abc"); err == nil {
		t.Fatalf("expected error decoding a too-short address")
	}
}
