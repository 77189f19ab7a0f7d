// Package canonical property tests: chain build/validate round trips and
// canonical-hash stability under key reordering.
package canonical

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestChainBuildAlwaysValidates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("validate(build(events)) holds for any event set", prop.ForAll(
		func(types []string, values []string) bool {
			raw := make([]RawEvent, 0, len(types))
			for i, et := range types {
				payload := map[string]any{"index": i}
				if i < len(values) {
					payload["value"] = values[i]
				}
				raw = append(raw, RawEvent{
					TS:        "2026-03-01T00:00:00Z",
					EventType: et,
					Payload:   payload,
				})
			}
			chain, err := BuildChain(raw)
			if err != nil {
				return false
			}
			return ValidateChain(chain)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("any payload mutation breaks validation", prop.ForAll(
		func(a, b string) bool {
			if a == b {
				return true
			}
			chain, err := BuildChain([]RawEvent{
				{TS: "2026-03-01T00:00:00Z", EventType: "e", Payload: map[string]any{"v": a}},
			})
			if err != nil {
				return false
			}
			chain[0].Payload = map[string]any{"v": b}
			return !ValidateChain(chain)
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestCanonicalHashIgnoresInsertionOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("hash is independent of map construction order", prop.ForAll(
		func(keys []string, values []string) bool {
			forward := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				forward[keys[i]] = values[i]
			}
			backward := make(map[string]any)
			for i := len(keys) - 1; i >= 0; i-- {
				if i < len(values) {
					backward[keys[i]] = values[i]
				}
			}
			h1, err1 := Hash(forward)
			h2, err2 := Hash(backward)
			if err1 != nil || err2 != nil {
				return false
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestJSONLRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("encode/decode preserves chain validity", prop.ForAll(
		func(payloads []string) bool {
			raw := make([]RawEvent, 0, len(payloads))
			for _, p := range payloads {
				raw = append(raw, RawEvent{
					TS:        "2026-03-01T00:00:00Z",
					EventType: "event",
					Payload:   map[string]any{"text": p},
				})
			}
			chain, err := BuildChain(raw)
			if err != nil {
				return false
			}
			encoded, err := EncodeEventsJSONL(chain)
			if err != nil {
				return false
			}
			decoded, err := DecodeEventsJSONL(encoded)
			if err != nil {
				return false
			}
			if len(decoded) != len(chain) {
				return false
			}
			return ValidateChain(decoded)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
