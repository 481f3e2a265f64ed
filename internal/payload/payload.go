// Package payload encodes and decodes the text carried by attendance and
// session QR codes. Decoding is total: any input maps to a classified
// payload, never an error.
package payload

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// TypeAttendance is the literal tag required on attendance payloads.
const TypeAttendance = "attendance"

// SessionMarker is the URL-fragment prefix carrying an encoded session token.
const SessionMarker = "#session="

// Kind classifies a decoded QR payload.
type Kind int

const (
	// KindAttendance is a structured payload that may mutate the ledger.
	KindAttendance Kind = iota
	// KindLegacy is JSON carrying id and name but not the attendance tag.
	KindLegacy
	// KindURL is a plain http/https link.
	KindURL
	// KindRaw is anything else; informational only.
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindAttendance:
		return "attendance"
	case KindLegacy:
		return "legacy"
	case KindURL:
		return "url"
	default:
		return "raw"
	}
}

// Attendance is the structured content of a student QR code. Timestamps
// travel as the strings the generating client produced.
type Attendance struct {
	Type             string `json:"type"`
	ID               string `json:"id"`
	Name             string `json:"name"`
	Course           string `json:"course,omitempty"`
	Year             string `json:"year,omitempty"`
	Section          string `json:"section,omitempty"`
	IP               string `json:"ip,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
	SessionTimestamp string `json:"sessionTimestamp,omitempty"`
}

// Payload is the result of decoding QR text. Attendance is set only when
// Kind is KindAttendance; Raw always holds the original text.
type Payload struct {
	Kind       Kind
	Attendance Attendance
	Raw        string
}

// Decode classifies QR text. Structured attendance requires the type tag
// plus non-empty id and name; JSON with id and name but the wrong tag is
// reported as legacy, URLs and free text as informational.
func Decode(text string) Payload {
	var att Attendance
	if err := json.Unmarshal([]byte(text), &att); err == nil {
		if att.Type == TypeAttendance && att.ID != "" && att.Name != "" {
			return Payload{Kind: KindAttendance, Attendance: att, Raw: text}
		}
		if att.ID != "" && att.Name != "" {
			return Payload{Kind: KindLegacy, Attendance: att, Raw: text}
		}
		return Payload{Kind: KindRaw, Raw: text}
	}
	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		return Payload{Kind: KindURL, Raw: text}
	}
	return Payload{Kind: KindRaw, Raw: text}
}

// Encode serializes an attendance payload for QR generation, forcing the
// type tag so the result round-trips through Decode.
func Encode(att Attendance) (string, error) {
	if att.ID == "" || att.Name == "" {
		return "", errors.New("payload: id and name are required")
	}
	att.Type = TypeAttendance
	b, err := json.Marshal(att)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SessionToken is the admin-issued credential embedded in a join link.
// It is immutable once issued; joining devices compare it, never change it.
type SessionToken struct {
	AdminIP   string `json:"adminIP"`
	Timestamp string `json:"timestamp"`
}

// EncodeSessionLink builds the join link: base URL plus a base64 JSON
// envelope behind the session fragment marker.
func EncodeSessionLink(baseURL string, tok SessionToken) (string, error) {
	b, err := json.Marshal(tok)
	if err != nil {
		return "", err
	}
	base := strings.SplitN(baseURL, "#", 2)[0]
	return base + SessionMarker + base64.StdEncoding.EncodeToString(b), nil
}

// ErrMalformedSession reports a join link whose envelope cannot be parsed.
var ErrMalformedSession = errors.New("payload: malformed session envelope")

// DecodeSessionToken extracts the token from a join link or from a bare
// encoded envelope.
func DecodeSessionToken(link string) (SessionToken, error) {
	encoded := link
	if i := strings.Index(link, SessionMarker); i >= 0 {
		encoded = link[i+len(SessionMarker):]
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return SessionToken{}, ErrMalformedSession
	}
	var tok SessionToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return SessionToken{}, ErrMalformedSession
	}
	return tok, nil
}
