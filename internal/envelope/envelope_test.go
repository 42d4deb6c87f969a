package envelope

import "testing"

type greeting struct {
	Hello string `json:"hello"`
}

func TestPackUnpackRoundTrip(t *testing.T) {
	signer, verifier, err := GenerateSecp256k1Signer()
	if err != nil {
		t.Fatalf("GenerateSecp256k1Signer: %v", err)
	}

	data, err := Pack(signer, greeting{Hello: "world"})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	var got greeting
	if err := Unpack(verifier, data, &got); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if got.Hello != "world" {
		t.Fatalf("got %+v", got)
	}
}

func TestUnpackRejectsJunkBytes(t *testing.T) {
	_, verifier, err := GenerateSecp256k1Signer()
	if err != nil {
		t.Fatalf("GenerateSecp256k1Signer: %v", err)
	}

	for _, junk := range [][]byte{[]byte("XRandomXJunk"), []byte(".Random.Junk")} {
		var out greeting
		if err := Unpack(verifier, junk, &out); err == nil {
			t.Fatalf("expected error unpacking %q", junk)
		}
	}
}

func TestUnpackRejectsWrongKey(t *testing.T) {
	signer, _, err := GenerateSecp256k1Signer()
	if err != nil {
		t.Fatalf("GenerateSecp256k1Signer: %v", err)
	}
	_, otherVerifier, err := GenerateSecp256k1Signer()
	if err != nil {
		t.Fatalf("GenerateSecp256k1Signer: %v", err)
	}

	data, err := Pack(signer, greeting{Hello: "world"})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	var out greeting
	if err := Unpack(otherVerifier, data, &out); err == nil {
		t.Fatal("expected verification with mismatched key to fail")
	}
}
