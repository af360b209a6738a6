package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/gowebpki/jcs"
)

// GenesisPrevHash is the previous-hash sentinel carried by every genesis Record.
const GenesisPrevHash = "0"

// TimestampLayout is the only string form a creation time takes, both in the
// hash input and on disk. The fraction is fixed-width so that a parsed value
// formats back to the exact same bytes.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// Timestamp is a UTC instant that serializes in TimestampLayout.
type Timestamp struct {
	t time.Time
}

// NewTimestamp converts t to UTC and drops any monotonic clock reading.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC().Round(0)}
}

// ParseTimestamp parses s strictly in TimestampLayout.
func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	ts := NewTimestamp(t)
	if ts.String() != s {
		return Timestamp{}, fmt.Errorf("timestamp %q is not in canonical form", s)
	}
	return ts, nil
}

// Time returns the instant as a time.Time in UTC.
func (ts Timestamp) Time() time.Time { return ts.t }

// String returns the canonical representation used for hashing.
func (ts Timestamp) String() string { return ts.t.Format(TimestampLayout) }

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + ts.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// Record is a single entry in a Ledger.
//
// Payload holds the canonical JSON encoding of the caller's value. The hash is
// derived at construction; a Record decoded from storage keeps the stored hash
// as-is.
type Record struct {
	Sequence     uint64          `json:"sequence"`
	CreatedAt    Timestamp       `json:"createdAt"`
	Payload      json.RawMessage `json:"payload"`
	PreviousHash string          `json:"previousHash"`
	Hash         string          `json:"hash"`
}

// NewRecord builds a Record and derives its hash. Sequence continuity is the
// Ledger's job, not the Record's.
func NewRecord(sequence uint64, payload any, previousHash string, now time.Time) (*Record, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	r := &Record{
		Sequence:     sequence,
		CreatedAt:    NewTimestamp(now),
		Payload:      canonical,
		PreviousHash: previousHash,
	}
	r.Hash = Digest(r.Sequence, r.CreatedAt, r.PreviousHash, r.Payload)
	return r, nil
}

// ComputeHash recomputes the digest over the Record's current fields.
func (r *Record) ComputeHash() string {
	return Digest(r.Sequence, r.CreatedAt, r.PreviousHash, r.Payload)
}

// Decode unmarshals the payload into v.
func (r *Record) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode payload of record %d: %w", r.Sequence, err)
	}
	return nil
}

// clone returns a deep copy so callers cannot reach into a Ledger's entries.
func (r *Record) clone() *Record {
	c := *r
	c.Payload = append(json.RawMessage(nil), r.Payload...)
	return &c
}

// Digest is the hex-encoded SHA-256 of "sequence|createdAt|previousHash|payload".
func Digest(sequence uint64, createdAt Timestamp, previousHash string, canonicalPayload []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s", sequence, createdAt, previousHash, canonicalPayload)
	return hex.EncodeToString(h.Sum(nil))
}

// Canonicalize returns the canonical JSON encoding of v: RFC 8785 key order and
// number formatting, with HTML-sensitive characters escaped the way
// encoding/json escapes them. The escaping makes the result a fixed point of
// json.Marshal, so a Record re-encoded inside its Ledger keeps identical bytes.
func Canonicalize(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	if err := checkNumbers(raw); err != nil {
		return nil, &SerializationError{Err: err}
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	var buf bytes.Buffer
	json.HTMLEscape(&buf, canonical)
	return json.RawMessage(buf.Bytes()), nil
}

// checkNumbers rejects any number in raw that does not survive conversion to
// an IEEE 754 double, which is the only number form JCS can emit.
func checkNumbers(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return walkNumbers(v)
}

func walkNumbers(v any) error {
	switch t := v.(type) {
	case json.Number:
		return exactDouble(t.String())
	case map[string]any:
		for _, e := range t {
			if err := walkNumbers(e); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range t {
			if err := walkNumbers(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// exactDouble reports whether the shortest float64 form of s denotes the same
// value as s.
func exactDouble(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("number %s: %w", s, err)
	}
	want, ok := new(big.Rat).SetString(s)
	if !ok {
		return fmt.Errorf("number %s: not a decimal", s)
	}
	got, _ := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	if got == nil || want.Cmp(got) != 0 {
		return fmt.Errorf("number %s cannot be represented exactly (would become %s)", s, strconv.FormatFloat(f, 'g', -1, 64))
	}
	return nil
}
