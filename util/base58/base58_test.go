package base58

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		bytes.Repeat([]byte{0xff}, 32),
		bytes.Repeat([]byte{0xab, 0xcd}, 40),
	}

	for _, data := range cases {
		enc := Encode(data)
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%x) returned error: %s", data, err)
		}
		if !bytes.Equal(dec, data) {
			t.Fatalf("round trip mismatch: got %x, want %x", dec, data)
		}
	}
}

func TestDecodeOfCorruptedStringDoesNotRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 69)
	enc := Encode(data)

	corrupted := []byte(enc)
	// Flip the last character to a different valid alphabet symbol.
	if corrupted[len(corrupted)-1] == '1' {
		corrupted[len(corrupted)-1] = '2'
	} else {
		corrupted[len(corrupted)-1] = '1'
	}

	dec, err := Decode(string(corrupted))
	if err == nil && bytes.Equal(dec, data) {
		t.Fatalf("corrupting a character should not decode back to the original data")
	}
}

func TestDecodeRejectsInvalidLength(t *testing.T) {
	if _, err := Decode("x"); err == nil {
		t.Fatalf("expected an error for an encoded length with no valid block size")
	}
}
