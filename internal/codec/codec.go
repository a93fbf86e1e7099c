// Package codec turns task call bundles into opaque signed blobs. Only a
// holder of the signing secret can produce blobs the decoder will accept;
// any bit flip in transit or at rest fails verification.
package codec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"gorq/internal/domain"
)

// Payload is the bundle a worker needs to execute a task. Args and
// Kwargs survive round-trips including nested containers; numbers decode
// as float64 per encoding/json.
type Payload struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Func   string         `json:"func"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// Codec signs and verifies payload blobs with HMAC-SHA256.
type Codec struct {
	secret []byte
}

func New(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// seal encodes v as base64(json) + "." + base64(hmac).
func (c *Codec) seal(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", &domain.CodecError{Reason: err.Error()}
	}
	return base64.RawURLEncoding.EncodeToString(body) + "." + c.sign(body), nil
}

// open verifies the signature and unmarshals the body into v.
func (c *Codec) open(blob string, v any) error {
	dot := strings.LastIndexByte(blob, '.')
	if dot < 0 {
		return &domain.CodecError{Reason: "missing signature"}
	}
	body, err := base64.RawURLEncoding.DecodeString(blob[:dot])
	if err != nil {
		return &domain.CodecError{Reason: "malformed body: " + err.Error()}
	}
	if !hmac.Equal([]byte(c.sign(body)), []byte(blob[dot+1:])) {
		return &domain.CodecError{Reason: "signature mismatch"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &domain.CodecError{Reason: "malformed payload: " + err.Error()}
	}
	return nil
}

func (c *Codec) sign(body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// EncodePayload seals a task call bundle for the broker queue.
func (c *Codec) EncodePayload(p Payload) (string, error) {
	return c.seal(p)
}

// DecodePayload verifies and opens a broker queue blob.
func (c *Codec) DecodePayload(blob string) (Payload, error) {
	var p Payload
	if err := c.open(blob, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// EncodeResult seals an arbitrary task result value for storage.
func (c *Codec) EncodeResult(v any) ([]byte, error) {
	blob, err := c.seal(v)
	if err != nil {
		return nil, err
	}
	return []byte(blob), nil
}

// DecodeResult verifies and opens a stored result blob. A nil blob
// (task not terminal, or no return value) decodes to nil.
func (c *Codec) DecodeResult(blob []byte) (any, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var v any
	if err := c.open(string(blob), &v); err != nil {
		return nil, err
	}
	return v, nil
}
