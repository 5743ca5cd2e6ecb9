package identity

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestExternalIDDeterministic(t *testing.T) {
	for _, id := range []string{"1", "42", "ticket-99", "ü-unicode", " "} {
		first := ExternalID(id, "")
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, ExternalID(id, ""))
		}
		assert.Regexp(t, hexPattern, first)
	}
}

func TestExternalIDKnownValue(t *testing.T) {
	assert.Equal(t, "14e300f1b890fbb646457cff4f188de3", ExternalID("42", ""))
	assert.Equal(t, "7f9ef8b8ab08a3e509603487679817bb", ExternalID("42", "t1"))
	assert.NotEqual(t, ExternalID("42", ""), ExternalID("ticket-42", ""))
}

func TestExternalIDNoCollisions(t *testing.T) {
	seen := make(map[string]string, 10000)
	for i := 0; i < 10000; i++ {
		id := fmt.Sprintf("%d", i)
		h := ExternalID(id, "")
		if prev, ok := seen[h]; ok {
			t.Fatalf("collision between %q and %q", prev, id)
		}
		seen[h] = id
	}
}

func TestExternalIDTenantScoped(t *testing.T) {
	plain := ExternalID("42", "")
	a := ExternalID("42", "tenant-a")
	b := ExternalID("42", "tenant-b")

	assert.NotEqual(t, plain, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ExternalID("42", "tenant-a"))
	assert.Regexp(t, hexPattern, a)
}
