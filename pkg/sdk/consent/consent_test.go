package consent

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestFailClosedWhenRequired(t *testing.T) {
	l := NewLedger(true, nil)
	for _, f := range AllFeatures {
		if l.IsGiven(f) {
			t.Errorf("IsGiven(%s) = true with no consent recorded", f)
		}
	}
}

func TestAlwaysGivenWhenNotRequired(t *testing.T) {
	l := NewLedger(false, map[Feature]bool{Events: false, Crashes: false})
	for _, f := range AllFeatures {
		if !l.IsGiven(f) {
			t.Errorf("IsGiven(%s) = false although consent is not required", f)
		}
	}

	// Set is a no-op
	require.Empty(t, l.Set(map[Feature]bool{Events: true}))
}

func TestInitialConsent(t *testing.T) {
	l := NewLedger(true, map[Feature]bool{Sessions: true, Feature("bogus"): true})
	require.True(t, l.IsGiven(Sessions))
	require.False(t, l.IsGiven(Events))
	require.NotContains(t, l.State(), Feature("bogus"))
}

func TestSetReturnsOnlyChanges(t *testing.T) {
	l := NewLedger(true, map[Feature]bool{Sessions: true})

	changed := l.Set(map[Feature]bool{
		Sessions: true,  // unchanged
		Events:   true,  // changed
		Crashes:  false, // unchanged (unset is false)
		Views:    true,  // changed
	})
	require.Equal(t, map[Feature]bool{Events: true, Views: true}, changed)

	require.Empty(t, l.Set(map[Feature]bool{Events: true}))
}

func TestRevokeAll(t *testing.T) {
	l := NewLedger(true, map[Feature]bool{Sessions: true, Users: true})

	revoked := l.RevokeAll()
	require.ElementsMatch(t, []Feature{Sessions, Users}, revoked)
	for _, f := range AllFeatures {
		require.False(t, l.IsGiven(f))
	}
}

func TestPayloadHasAllKeys(t *testing.T) {
	l := NewLedger(true, nil)
	l.Set(map[Feature]bool{Crashes: true, Events: true})

	payload, err := l.Payload()
	require.NoError(t, err)
	require.Equal(t,
		`{"sessions":false,"events":true,"location":false,"crashes":true,"users":false,"views":false,"push":false,"feedback":false,"star-rating":false,"remote-config":false}`,
		payload)

	var decoded map[string]bool
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	require.Len(t, decoded, 10)
}
