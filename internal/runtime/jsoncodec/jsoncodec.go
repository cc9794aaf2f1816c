// Package jsoncodec is the JSON codec shared by datum payloads, the SQL stores
// and the status endpoint.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// Map keys are sorted so equal samples always encode to equal bytes; stores
// compare and upsert on the encoded form.
var defaultConfig = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalToString(v any) (string, error) {
	return defaultConfig.MarshalToString(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func UnmarshalFromString(data string, v any) error {
	return defaultConfig.UnmarshalFromString(data, v)
}

// Encode writes v followed by a newline.
func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}
