package canonical

import (
	"bytes"
	"encoding/json"
)

// DecodeStrict unmarshals with numbers preserved as json.Number, so
// re-canonicalization of a decoded value reproduces the original bytes.
func DecodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
