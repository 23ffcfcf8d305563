// Package codec serializes message payloads for transmission. All backends
// share the same JSON wire representation so payloads stay language-neutral.
package codec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// Marshal encodes v into its wire representation.
func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

// Unmarshal decodes data into v.
//
// Note that untyped payloads decode into the generic JSON shapes: objects
// become map[string]any and numbers become float64.
func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Encode writes the wire representation of v to w.
func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

// Decode reads a wire representation from r into v.
func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}
