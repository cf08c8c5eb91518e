package crypto

import (
	"testing"

	"github.com/go-cnote/cnoted/util"
)

func TestGenerateKeysRoundTrip(t *testing.T) {
	pub, sec, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %s", err)
	}
	if !CheckKey(pub) {
		t.Fatalf("generated public key failed CheckKey")
	}
	recovered, err := SecretKeyToPublicKey(sec)
	if err != nil {
		t.Fatalf("SecretKeyToPublicKey: %s", err)
	}
	if recovered != pub {
		t.Fatalf("SecretKeyToPublicKey(sec) != pub")
	}
}

func TestCheckKeyRejectsGarbage(t *testing.T) {
	var pk util.PublicKey
	for i := range pk {
		pk[i] = 0xff
	}
	if CheckKey(pk) {
		t.Fatalf("expected an all-0xff buffer to fail CheckKey")
	}
}

func TestDeriveKeyRoundTrip(t *testing.T) {
	spendPub, spendSec, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys(spend): %s", err)
	}
	viewPub, viewSec, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys(view): %s", err)
	}
	txPub, txSec, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys(tx): %s", err)
	}
	_ = txSec

	const outputIndex = 3

	d, err := GenerateKeyDerivation(txPub, viewSec)
	if err != nil {
		t.Fatalf("GenerateKeyDerivation: %s", err)
	}

	outPub, err := DerivePublicKey(d, outputIndex, spendPub)
	if err != nil {
		t.Fatalf("DerivePublicKey: %s", err)
	}
	outSec, err := DeriveSecretKey(d, outputIndex, spendSec)
	if err != nil {
		t.Fatalf("DeriveSecretKey: %s", err)
	}

	recoveredPub, err := SecretKeyToPublicKey(outSec)
	if err != nil {
		t.Fatalf("SecretKeyToPublicKey(outSec): %s", err)
	}
	if recoveredPub != outPub {
		t.Fatalf("derived secret key does not correspond to derived public key")
	}

	underived, err := UnderivePublicKey(d, outputIndex, outPub)
	if err != nil {
		t.Fatalf("UnderivePublicKey: %s", err)
	}
	if underived != spendPub {
		t.Fatalf("UnderivePublicKey did not recover the spend public key")
	}

	_ = viewPub
}

func TestKeyImageIsDeterministic(t *testing.T) {
	pub, sec, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %s", err)
	}
	i1, err := GenerateKeyImage(pub, sec)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %s", err)
	}
	i2, err := GenerateKeyImage(pub, sec)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %s", err)
	}
	if i1 != i2 {
		t.Fatalf("GenerateKeyImage is not deterministic")
	}
}

func TestRingSignatureRoundTrip(t *testing.T) {
	const ringSize = 4
	const realIndex = 2

	pubs := make([]util.PublicKey, ringSize)
	var realSec util.SecretKey
	for i := range pubs {
		pub, sec, err := GenerateKeys()
		if err != nil {
			t.Fatalf("GenerateKeys(%d): %s", i, err)
		}
		pubs[i] = pub
		if i == realIndex {
			realSec = sec
		}
	}

	keyImage, err := GenerateKeyImage(pubs[realIndex], realSec)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %s", err)
	}

	var prefixHash util.Hash
	prefixHash[0] = 0x42

	sigs, err := GenerateRingSignatures(prefixHash, keyImage, pubs, realSec, realIndex)
	if err != nil {
		t.Fatalf("GenerateRingSignatures: %s", err)
	}
	if len(sigs) != ringSize {
		t.Fatalf("expected %d signatures, got %d", ringSize, len(sigs))
	}

	ok, err := CheckRingSignature(prefixHash, keyImage, pubs, sigs)
	if err != nil {
		t.Fatalf("CheckRingSignature: %s", err)
	}
	if !ok {
		t.Fatalf("valid ring signature failed verification")
	}
}

func TestRingSignatureRejectsTamperedMessage(t *testing.T) {
	const ringSize = 3
	const realIndex = 0

	pubs := make([]util.PublicKey, ringSize)
	var realSec util.SecretKey
	for i := range pubs {
		pub, sec, err := GenerateKeys()
		if err != nil {
			t.Fatalf("GenerateKeys(%d): %s", i, err)
		}
		pubs[i] = pub
		if i == realIndex {
			realSec = sec
		}
	}

	keyImage, err := GenerateKeyImage(pubs[realIndex], realSec)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %s", err)
	}

	var prefixHash util.Hash
	prefixHash[0] = 0x01

	sigs, err := GenerateRingSignatures(prefixHash, keyImage, pubs, realSec, realIndex)
	if err != nil {
		t.Fatalf("GenerateRingSignatures: %s", err)
	}

	tamperedHash := prefixHash
	tamperedHash[1] = 0xff

	ok, err := CheckRingSignature(tamperedHash, keyImage, pubs, sigs)
	if err != nil {
		t.Fatalf("CheckRingSignature: %s", err)
	}
	if ok {
		t.Fatalf("ring signature verified against a tampered message")
	}
}

func TestCnSlowHashIsDeterministic(t *testing.T) {
	data := []byte("cnoted proof of work fixture")
	h1, err := CnSlowHash(data)
	if err != nil {
		t.Fatalf("CnSlowHash: %s", err)
	}
	h2, err := CnSlowHash(data)
	if err != nil {
		t.Fatalf("CnSlowHash: %s", err)
	}
	if h1 != h2 {
		t.Fatalf("CnSlowHash is not deterministic")
	}

	h3, err := CnSlowHash(append(append([]byte{}, data...), 0x00))
	if err != nil {
		t.Fatalf("CnSlowHash: %s", err)
	}
	if h1 == h3 {
		t.Fatalf("CnSlowHash did not change for different input")
	}
}
