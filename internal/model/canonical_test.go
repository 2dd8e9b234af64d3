package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeysAndSkipsHTMLEscaping(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"b": 1,
		"a": "<x&y>",
		"c": []any{true, int64(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x&y>","b":1,"c":[true,2]}`, string(out))
}

func TestMarshalCanonical_RejectsFloatsAndNull(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"f": 1.5})
	assert.Error(t, err)

	_, err = MarshalCanonical(nil)
	assert.Error(t, err)
}

func TestNormalizeName_NFC(t *testing.T) {
	decomposed := "Jose\u0301"
	composed := "Jos\u00e9"
	assert.NotEqual(t, composed, decomposed)
	assert.Equal(t, composed, NormalizeName("  "+decomposed+" "))
}

func TestRoleAssignments_RoundTripPreservesOrder(t *testing.T) {
	in := []RoleAssignment{
		{Member: user("u2"), Role: RoleGroupManager},
		{Member: group("g1"), Role: RoleNone},
	}
	data, err := EncodeRoleAssignments(in)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"u2","kind":1,"name":"u2","role":"GROUP_MANAGER"},{"id":"g1","kind":2,"name":"g1","role":"NONE"}]`, string(data))

	out, err := DecodeRoleAssignments(data)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "g1", out[1].Member.ID)
	assert.Equal(t, MemberKindGroup, out[1].Member.Kind)
	assert.Equal(t, RoleGroupManager, out[0].Role)
}
