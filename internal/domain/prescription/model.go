package prescription

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Demographics are optional patient measurements recorded with the
// prescription.
type Demographics struct {
	Age    *int     `json:"age,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

// Signature is the issuer's opaque signature artifact, usually a drawn
// signature image. In JSON it is a data URL; plain base64 is also accepted.
type Signature struct {
	MIME string
	Data []byte
}

func (s Signature) Empty() bool { return len(s.Data) == 0 }

// DataURL renders the signature as data:<mime>;base64,<payload>.
func (s Signature) DataURL() string {
	if s.Empty() {
		return ""
	}
	mime := s.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(s.Data)
}

func (s Signature) MarshalJSON() ([]byte, error) {
	if s.Empty() {
		return []byte("null"), nil
	}
	return json.Marshal(s.DataURL())
}

func (s *Signature) UnmarshalJSON(b []byte) error {
	var raw *string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("signature must be a string: %w", err)
	}
	if raw == nil || *raw == "" {
		*s = Signature{}
		return nil
	}
	parsed, err := ParseSignature(*raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSignature accepts a data URL or bare base64.
func ParseSignature(raw string) (Signature, error) {
	raw = strings.TrimSpace(raw)
	mime := "application/octet-stream"
	payload := raw
	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if !found {
			return Signature{}, fmt.Errorf("%w: malformed signature data URL", ErrInvalidPrescription)
		}
		m, isB64 := strings.CutSuffix(meta, ";base64")
		if !isB64 {
			return Signature{}, fmt.Errorf("%w: signature data URL must be base64 encoded", ErrInvalidPrescription)
		}
		if m != "" {
			mime = m
		}
		payload = data
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: signature is not valid base64", ErrInvalidPrescription)
	}
	if len(data) == 0 {
		return Signature{}, fmt.Errorf("%w: signature is empty", ErrInvalidPrescription)
	}
	return Signature{MIME: mime, Data: data}, nil
}

// Prescription is the stored record. Status is deliberately absent; use
// StatusAt or View.
type Prescription struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	IssuerID     string       `db:"issuer_id" json:"issuer_id"`
	PatientRef   string       `db:"patient_ref" json:"patient_ref"`
	Instructions string       `db:"instructions" json:"instructions"`
	Medications  []string     `db:"medications" json:"medications"`
	Demographics Demographics `db:"-" json:"demographics"`
	UsageLimit   int          `db:"usage_limit" json:"usage_limit"`
	Used         int          `db:"used" json:"used"`
	ExpiresAt    time.Time    `db:"expires_at" json:"expires_at"`
	Signature    Signature    `db:"-" json:"issuer_signature"`
	SignedAt     *time.Time   `db:"signed_at" json:"signed_at,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

func (p *Prescription) Signed() bool { return !p.Signature.Empty() }

// StatusAt evaluates the lifecycle for this record.
func (p *Prescription) StatusAt(now time.Time) Status {
	return StatusAt(p.Used, p.UsageLimit, p.ExpiresAt, now)
}

// Remaining is the unused budget.
func (p *Prescription) Remaining() int {
	if r := p.UsageLimit - p.Used; r > 0 {
		return r
	}
	return 0
}

// Clone returns a deep copy.
func (p *Prescription) Clone() *Prescription {
	cp := *p
	cp.Medications = append([]string(nil), p.Medications...)
	cp.Signature.Data = append([]byte(nil), p.Signature.Data...)
	if p.SignedAt != nil {
		t := *p.SignedAt
		cp.SignedAt = &t
	}
	if p.Demographics.Age != nil {
		v := *p.Demographics.Age
		cp.Demographics.Age = &v
	}
	if p.Demographics.Weight != nil {
		v := *p.Demographics.Weight
		cp.Demographics.Weight = &v
	}
	if p.Demographics.Height != nil {
		v := *p.Demographics.Height
		cp.Demographics.Height = &v
	}
	return &cp
}

// View is what every consumer sees: the record plus its derived status and,
// once signed, its token.
type View struct {
	*Prescription
	Status    Status `json:"status"`
	Remaining int    `json:"remaining"`
	Signed    bool   `json:"signed"`
	Token     string `json:"token,omitempty"`
}

// NewView derives the view of p at now.
func NewView(p *Prescription, codec *Codec, now time.Time) *View {
	v := &View{
		Prescription: p,
		Status:       p.StatusAt(now),
		Remaining:    p.Remaining(),
		Signed:       p.Signed(),
	}
	if v.Signed {
		v.Token = codec.Encode(p.ID)
	}
	return v
}

// CreateRequest is the input for issuing a prescription.
type CreateRequest struct {
	PatientRef   string       `json:"patient_ref"`
	Instructions string       `json:"instructions"`
	Medications  []string     `json:"medications"`
	Demographics Demographics `json:"demographics"`
	UsageLimit   int          `json:"usage_limit"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Signature    Signature    `json:"issuer_signature"`
}

// Redemption is one successful verification.
type Redemption struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	RedeemedBy     string    `db:"redeemed_by" json:"redeemed_by"`
	RedeemedAt     time.Time `db:"redeemed_at" json:"redeemed_at"`
	UsedAfter      int       `db:"used_after" json:"used_after"`
}
