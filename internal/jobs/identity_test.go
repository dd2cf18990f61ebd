package jobs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_Zero(t *testing.T) {
	assert.True(t, Identity{}.IsZero())
	assert.True(t, ExplicitID("").IsZero())
	assert.Equal(t, "none", Identity{}.String())
}

func TestExplicitID(t *testing.T) {
	id := ExplicitID("paper-7")
	assert.False(t, id.IsZero())
	assert.Equal(t, "paper-7", id.ID())
	assert.Equal(t, "explicit:paper-7", id.String())
}

func TestFingerprint_Stable(t *testing.T) {
	a, err := Fingerprint("code_to_amr", map[string]any{"code": "c.zip", "model": "sir"})
	require.NoError(t, err)
	b, err := Fingerprint("code_to_amr", map[string]any{"model": "sir", "code": "c.zip"})
	require.NoError(t, err)

	assert.Equal(t, a.ID(), b.ID(), "key order must not matter")
	assert.True(t, strings.HasPrefix(a.ID(), "code_to_amr-"))
	assert.Len(t, a.ID(), len("code_to_amr-")+32)
	assert.True(t, strings.HasPrefix(a.String(), "fingerprint:"))
}

func TestFingerprint_Distinguishes(t *testing.T) {
	base, err := Fingerprint("code_to_amr", map[string]any{"code": "c.zip"})
	require.NoError(t, err)

	otherArgs, err := Fingerprint("code_to_amr", map[string]any{"code": "d.zip"})
	require.NoError(t, err)
	otherOp, err := Fingerprint("equations_to_amr", map[string]any{"code": "c.zip"})
	require.NoError(t, err)

	assert.NotEqual(t, base.ID(), otherArgs.ID())
	assert.NotEqual(t, base.ID(), otherOp.ID())

	empty, err := Fingerprint("op", nil)
	require.NoError(t, err)
	emptyMap, err := Fingerprint("op", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, empty.ID(), emptyMap.ID())
}

func TestFingerprint_Errors(t *testing.T) {
	_, err := Fingerprint("", nil)
	assert.Error(t, err)

	_, err = Fingerprint("op", map[string]any{"bad": make(chan int)})
	assert.ErrorContains(t, err, "failed to encode arguments")
}

func TestFresh(t *testing.T) {
	a, b := Fresh(), Fresh()
	assert.False(t, a.IsZero())
	assert.NotEqual(t, a.ID(), b.ID())
}
