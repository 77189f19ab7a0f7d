package redact

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	out, events := Text("reach me at alice@example.com today")
	assert.Equal(t, "reach me at [REDACTED_EMAIL] today", out)
	require.Len(t, events, 1)
	assert.Equal(t, "pii_redaction", events[0].PolicyID)
	assert.Equal(t, "EMAIL", events[0].Detector)
	assert.Equal(t, 1, events[0].Count)
}

func TestRedactPhone(t *testing.T) {
	out, events := Text("call 555-123-4567 or (555) 765-4321")
	assert.NotContains(t, out, "555-123-4567")
	assert.NotContains(t, out, "765-4321")
	require.Len(t, events, 1)
	assert.Equal(t, "PHONE", events[0].Detector)
	assert.Equal(t, 2, events[0].Count)
}

func TestRedactNationalIDAndMRN(t *testing.T) {
	out, events := Text("ssn 123-45-6789 chart MRN-1234567 and mrn 7654321")
	assert.Contains(t, out, "[REDACTED_NATIONAL_ID]")
	assert.Contains(t, out, "[REDACTED_MEDICAL_RECORD]")
	labels := make([]string, 0, len(events))
	for _, e := range events {
		labels = append(labels, e.Detector)
	}
	assert.Contains(t, labels, "NATIONAL_ID")
	assert.Contains(t, labels, "MEDICAL_RECORD")
}

func TestRedactCleanTextUnchanged(t *testing.T) {
	out, events := Text("nothing sensitive in here")
	assert.Equal(t, "nothing sensitive in here", out)
	assert.Empty(t, events)
}

func TestRedactIdempotent(t *testing.T) {
	once, _ := Text("alice@example.com and 123-45-6789")
	twice, events := Text(once)
	assert.Equal(t, once, twice)
	assert.Empty(t, events)
}

func TestRedactIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("second pass is a no-op", prop.ForAll(
		func(s string) bool {
			once, _ := Text(s)
			twice, _ := Text(once)
			return once == twice
		},
		gen.AnyString(),
	))

	properties.Property("generated addresses are always caught", prop.ForAll(
		func(local, domain string) bool {
			out, events := Text("write to " + local + "@" + domain + ".org soon")
			return strings.Contains(out, "[REDACTED_EMAIL]") && len(events) == 1
		},
		gen.RegexMatch(`[a-z]{3,8}`),
		gen.RegexMatch(`[a-z]{3,8}`),
	))

	properties.TestingRun(t)
}
