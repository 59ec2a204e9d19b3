package event_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockrion/dockrion/event"
)

func TestChatPreset_AllowedSetEquality(t *testing.T) {
	f := event.Chat()
	want := map[event.Type]struct{}{
		event.TypeStarted:   {},
		event.TypeComplete:  {},
		event.TypeError:     {},
		event.TypeCancelled: {},
		event.TypeToken:     {},
		event.TypeStep:      {},
		event.TypeHeartbeat: {},
	}
	assert.Equal(t, want, f.Allowed())
}

func TestMandatoryTypes_AlwaysAllowed(t *testing.T) {
	for _, preset := range []func() *event.Filter{event.Minimal, event.Chat, event.DebugAll} {
		f := preset()
		assert.True(t, f.IsAllowed(event.TypeStarted))
		assert.True(t, f.IsAllowed(event.TypeComplete))
		assert.True(t, f.IsAllowed(event.TypeError))
		assert.True(t, f.IsAllowed(event.TypeCancelled))
	}
}

func TestMinimal_RejectsEverythingElse(t *testing.T) {
	f := event.Minimal()
	assert.False(t, f.IsAllowed(event.TypeProgress))
	assert.False(t, f.IsAllowed(event.TypeToken))
	assert.False(t, f.IsAllowed(event.CustomType("anything")))
}

func TestParseExplicitList_BareCustomEnablesAll(t *testing.T) {
	f := event.ParseExplicitList([]string{"token", "custom"})
	assert.True(t, f.IsAllowed(event.TypeToken))
	assert.True(t, f.IsAllowed(event.CustomType("anything")))
	assert.False(t, f.IsAllowed(event.TypeProgress))
}

func TestParseExplicitList_NamedCustomEnablesOnlyThatName(t *testing.T) {
	f := event.ParseExplicitList([]string{"custom:fraud_check"})
	assert.True(t, f.IsAllowed(event.CustomType("fraud_check")))
	assert.False(t, f.IsAllowed(event.CustomType("other")))
}

func TestFromConfig_PresetName(t *testing.T) {
	f := event.FromConfig("chat", "")
	assert.True(t, f.IsAllowed(event.TypeToken))
	assert.False(t, f.IsAllowed(event.TypeProgress))
}

// TestCustomAllowedLaw verifies: allowed(custom:*) iff custom_mode=all or
// 'custom:X' is in the explicit list, for any generated custom name.
func TestCustomAllowedLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("custom mode all allows every custom name", prop.ForAll(
		func(name string) bool {
			f := event.ParseExplicitList([]string{"custom"})
			return f.IsAllowed(event.CustomType(name))
		},
		genCustomName(),
	))

	properties.Property("explicit custom mode allows exactly the listed names", prop.ForAll(
		func(name, other string) bool {
			if name == other {
				return true
			}
			f := event.ParseExplicitList([]string{"custom:" + name})
			return f.IsAllowed(event.CustomType(name)) && !f.IsAllowed(event.CustomType(other))
		},
		genCustomName(),
		genCustomName(),
	))

	properties.TestingRun(t)
}

func genCustomName() gopter.Gen {
	return gen.OneConstOf("fraud_check", "enrichment", "audit", "lookup", "score")
}

func TestPreset_UnknownNameReturnsFalse(t *testing.T) {
	_, ok := event.Preset("nonexistent")
	require.False(t, ok)
}
