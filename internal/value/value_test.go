package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, s string) Value {
	t.Helper()
	var v Value
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestWithoutFieldsObject(t *testing.T) {
	t.Parallel()
	v := mustDecode(t, `{"id":"emp1","name":"Alice","salary":95000,"ssn":"123-45-6789"}`)

	out := v.WithoutFields(map[string]struct{}{"salary": {}, "ssn": {}})

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"emp1","name":"Alice"}`, string(b))
}

func TestWithoutFieldsIdentityOnEmptySet(t *testing.T) {
	t.Parallel()
	v := mustDecode(t, `{"a":1,"b":2}`)
	out := v.WithoutFields(map[string]struct{}{})
	b, _ := json.Marshal(out)
	orig, _ := json.Marshal(v)
	assert.JSONEq(t, string(orig), string(b))
}

func TestWithoutFieldsArrayElementWise(t *testing.T) {
	t.Parallel()
	v := mustDecode(t, `[{"name":"A","ssn":"1"},{"name":"B","ssn":"2"}]`)
	out := v.WithoutFields(map[string]struct{}{"ssn": {}})
	b, _ := json.Marshal(out)
	assert.JSONEq(t, `[{"name":"A"},{"name":"B"}]`, string(b))
}

func TestWithMaskedFieldsArray(t *testing.T) {
	t.Parallel()
	v := mustDecode(t, `[{"name":"A","ssn":"1"},{"name":"B","ssn":"2"}]`)
	out := v.WithMaskedFields(map[string]struct{}{"ssn": {}}, "****")
	b, _ := json.Marshal(out)
	assert.JSONEq(t, `[{"name":"A","ssn":"****"},{"name":"B","ssn":"****"}]`, string(b))
}

func TestWithMaskedFieldsIdempotent(t *testing.T) {
	t.Parallel()
	v := mustDecode(t, `{"ssn":"123"}`)
	once := v.WithMaskedFields(map[string]struct{}{"ssn": {}}, "****")
	twice := once.WithMaskedFields(map[string]struct{}{"ssn": {}}, "****")
	b1, _ := json.Marshal(once)
	b2, _ := json.Marshal(twice)
	assert.JSONEq(t, string(b1), string(b2))
}

func TestNonExistentFieldsSilentlySkipped(t *testing.T) {
	t.Parallel()
	v := mustDecode(t, `{"a":1}`)
	out := v.WithoutFields(map[string]struct{}{"missing": {}})
	b, _ := json.Marshal(out)
	assert.JSONEq(t, `{"a":1}`, string(b))

	out2 := v.WithMaskedFields(map[string]struct{}{"missing": {}}, "****")
	b2, _ := json.Marshal(out2)
	assert.JSONEq(t, `{"a":1}`, string(b2))
}

func TestFieldOrderPreserved(t *testing.T) {
	t.Parallel()
	v := mustDecode(t, `{"z":1,"a":2,"m":3}`)
	fields, ok := v.Fields()
	require.True(t, ok)
	require.Len(t, fields, 3)
	assert.Equal(t, "z", fields[0].Key)
	assert.Equal(t, "a", fields[1].Key)
	assert.Equal(t, "m", fields[2].Key)
}

func TestToNativeRoundTrip(t *testing.T) {
	t.Parallel()
	v := mustDecode(t, `{"n":1.5,"s":"hi","b":true,"nil":null,"arr":[1,2]}`)
	native := v.ToNative()
	back, err := FromNative(native)
	require.NoError(t, err)
	b1, _ := json.Marshal(v)
	b2, _ := json.Marshal(back)
	assert.JSONEq(t, string(b1), string(b2))
}
