package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// Coder selects how a raw payload is turned into template values.
type Coder string

const (
	// CoderJSON treats the payload as a flat JSON object.
	CoderJSON Coder = "json"
	// CoderBinary leaves the payload opaque; it is rendered as base64.
	CoderBinary Coder = "binary"
)

var (
	// ErrNotObject is returned when the payload is valid JSON but not a flat object.
	ErrNotObject = errors.New("payload is not a flat JSON object")
	// ErrUnknownCoder is returned by ParseCoder for unsupported names.
	ErrUnknownCoder = errors.New("unknown payload coder")
)

// numberAPI keeps numeric literals as json.Number so they round-trip in their
// textual form instead of going through float64.
var numberAPI = sonic.Config{
	UseNumber:      true,
	ValidateString: true,
}.Froze()

// ParseCoder maps a configuration value onto a Coder. "base64" is accepted as
// an alias of binary and an empty value defaults to json.
func ParseCoder(name string) (Coder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return CoderJSON, nil
	case "binary", "base64":
		return CoderBinary, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCoder, name)
	}
}

// EscapeQuotes prefixes every single quote in the raw payload text with a
// backslash. It is applied to the whole text, once, before decoding.
func EscapeQuotes(text string) string {
	return strings.ReplaceAll(text, "'", `\'`)
}

// DecodeEscapedJSON decodes text that has already been through EscapeQuotes.
// The inserted `\'` sequences are not valid JSON escapes, so they are widened
// to `\\'` for the parser and come back out as `\'` in keys and values.
func DecodeEscapedJSON(escaped string) (map[string]string, error) {
	return DecodeJSON(strings.ReplaceAll(escaped, `\'`, `\\'`))
}

// DecodeJSON parses text as a flat JSON object and stringifies its members.
// Strings are kept verbatim, numbers keep their literal text and booleans
// become "true"/"false". Null members are omitted. Nested objects or arrays
// make the whole payload undecodable.
func DecodeJSON(text string) (map[string]string, error) {
	var raw map[string]interface{}
	if err := numberAPI.UnmarshalFromString(text, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if raw == nil {
		return nil, ErrNotObject
	}

	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			fields[key] = v
		case json.Number:
			fields[key] = v.String()
		case float64:
			fields[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			fields[key] = strconv.FormatBool(v)
		default:
			return nil, fmt.Errorf("%w: member %q is a %T", ErrNotObject, key, value)
		}
	}
	return fields, nil
}
