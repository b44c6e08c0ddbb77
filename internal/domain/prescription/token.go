package prescription

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultTokenPrefix    = "RX"
	DefaultTokenSuffixLen = 8

	// uuidNodeLen is the length of the last hyphen-free group of a UUID.
	uuidNodeLen = 12
)

// Codec turns prescription ids into short scannable tokens of the form
// PREFIX:suffix, where suffix is the trailing hex of the id. A token is only a
// lookup key; it carries no authority of its own.
type Codec struct {
	prefix    string
	suffixLen int
}

// NewCodec panics on a suffix length outside 1..12, since longer suffixes
// would cross a hyphen in the UUID text form.
func NewCodec(prefix string, suffixLen int) *Codec {
	if suffixLen < 1 || suffixLen > uuidNodeLen {
		panic(fmt.Sprintf("prescription: token suffix length %d out of range", suffixLen))
	}
	if prefix == "" || strings.Contains(prefix, ":") {
		panic(fmt.Sprintf("prescription: invalid token prefix %q", prefix))
	}
	return &Codec{prefix: prefix, suffixLen: suffixLen}
}

// DefaultCodec produces RX:xxxxxxxx tokens.
func DefaultCodec() *Codec {
	return NewCodec(DefaultTokenPrefix, DefaultTokenSuffixLen)
}

func (c *Codec) SuffixLen() int { return c.suffixLen }

// Suffix returns the lookup suffix of id.
func (c *Codec) Suffix(id uuid.UUID) string {
	s := id.String()
	return s[len(s)-c.suffixLen:]
}

// Encode returns the token for id.
func (c *Codec) Encode(id uuid.UUID) string {
	return c.prefix + ":" + c.Suffix(id)
}

// Decode validates token and returns its lowercase suffix. Surrounding
// whitespace from scanners is ignored; anything else malformed is
// ErrInvalidToken.
func (c *Codec) Decode(token string) (string, error) {
	prefix, suffix, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok || prefix != c.prefix || len(suffix) != c.suffixLen {
		return "", ErrInvalidToken
	}
	suffix = strings.ToLower(suffix)
	for i := 0; i < len(suffix); i++ {
		ch := suffix[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return "", ErrInvalidToken
		}
	}
	return suffix, nil
}

// Matches reports whether id carries suffix.
func (c *Codec) Matches(id uuid.UUID, suffix string) bool {
	return c.Suffix(id) == suffix
}
