package prescription

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature("data:image/png;base64,aGVsbG8=")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.MIME != "image/png" || string(sig.Data) != "hello" {
		t.Errorf("unexpected signature %+v", sig)
	}

	bare, err := ParseSignature("aGVsbG8=")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bare.MIME != "application/octet-stream" {
		t.Errorf("expected default mime, got %s", bare.MIME)
	}
}

func TestParseSignature_Invalid(t *testing.T) {
	for _, raw := range []string{"data:image/png,aGVsbG8=", "data:image/png;base64", "%%%", "data:image/png;base64,"} {
		if _, err := ParseSignature(raw); !errors.Is(err, ErrInvalidPrescription) {
			t.Errorf("ParseSignature(%q) = %v, want ErrInvalidPrescription", raw, err)
		}
	}
}

func TestSignature_JSON(t *testing.T) {
	var req CreateRequest
	body := `{"patient_ref":"p@x.io","issuer_signature":"data:image/png;base64,aGVsbG8="}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Signature.Empty() {
		t.Fatal("expected signature to be parsed")
	}

	out, _ := json.Marshal(req.Signature)
	if string(out) != `"data:image/png;base64,aGVsbG8="` {
		t.Errorf("unexpected JSON %s", out)
	}

	empty, _ := json.Marshal(Signature{})
	if string(empty) != "null" {
		t.Errorf("expected null for empty signature, got %s", empty)
	}
}

func TestNewView(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p := &Prescription{
		ID:         uuid.New(),
		UsageLimit: 2,
		Used:       1,
		ExpiresAt:  now.Add(time.Hour),
	}

	draft := NewView(p, DefaultCodec(), now)
	if draft.Signed || draft.Token != "" {
		t.Error("unsigned records must not carry a token")
	}
	if draft.Status != StatusActive || draft.Remaining != 1 {
		t.Errorf("unexpected view %+v", draft)
	}

	p.Signature = Signature{MIME: "image/png", Data: []byte{1}}
	signed := NewView(p, DefaultCodec(), now)
	if signed.Token != DefaultCodec().Encode(p.ID) {
		t.Errorf("unexpected token %q", signed.Token)
	}

	data, _ := json.Marshal(signed)
	var decoded map[string]interface{}
	_ = json.Unmarshal(data, &decoded)
	if decoded["status"] != "active" || decoded["id"] != p.ID.String() {
		t.Errorf("unexpected JSON %s", data)
	}
}

func TestClone_IsDeep(t *testing.T) {
	age := 40
	p := &Prescription{Medications: []string{"a"}, Signature: Signature{Data: []byte{1}}}
	p.Demographics.Age = &age

	cp := p.Clone()
	cp.Medications[0] = "b"
	cp.Signature.Data[0] = 2
	*cp.Demographics.Age = 41

	if p.Medications[0] != "a" || p.Signature.Data[0] != 1 || *p.Demographics.Age != 40 {
		t.Error("clone shares memory with original")
	}
}
