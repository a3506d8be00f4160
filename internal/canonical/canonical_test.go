package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"b": 1, "a": "x", "c": true})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1,"c":true}`, string(out))
}

func TestMarshal_UTF16KeyOrder(t *testing.T) {
	// U+10000 encodes as surrogates 0xD800.. which sort before U+E000 in UTF-16
	// but after it in UTF-8.
	out, err := Marshal(map[string]any{"\uE000": 1, "\U00010000": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(out))
}

func TestMarshal_NoHTMLEscape(t *testing.T) {
	out, err := Marshal("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(out))
}

func TestMarshal_NFC(t *testing.T) {
	decomposed := "e\u0301"
	out, err := Marshal(decomposed)
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(out))
}

func TestMarshal_LineSeparators(t *testing.T) {
	out, err := Marshal("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(out))

	out, err = Marshal(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(out))
}

func TestMarshal_Nested(t *testing.T) {
	out, err := Marshal(map[string]any{
		"ids":  []string{"t1", "t2"},
		"list": []any{int64(3), false, map[string]any{"z": "y"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ids":["t1","t2"],"list":[3,false,{"z":"y"}]}`, string(out))
}

func TestMarshal_Rejects(t *testing.T) {
	for name, v := range map[string]any{
		"nil":    nil,
		"float":  1.5,
		"struct": struct{}{},
		"nested": []any{nil},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Marshal(v)
			assert.Error(t, err)
		})
	}
}

func TestSnapshotDigest(t *testing.T) {
	a := SnapshotDigest([]string{"t1", "t2"})
	assert.Len(t, a, 64)
	assert.Equal(t, a, SnapshotDigest([]string{"t1", "t2"}))
	assert.NotEqual(t, a, SnapshotDigest([]string{"t2", "t1"}))

	d, err := Digest(DomainTrace, []string{"t1", "t2"})
	require.NoError(t, err)
	assert.NotEqual(t, a, d, "domains separate digests")
}
