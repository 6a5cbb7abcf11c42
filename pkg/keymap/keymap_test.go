package keymap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmstools/nmssave/pkg/tree"
)

var testMapping = Mapping{
	{Key: "F2P", Value: "Version"},
	{Key: "8>q", Value: "Platform"},
	{Key: "<h0", Value: "CommonStateData"},
	{Key: "Pk4", Value: "SaveName"},
	{Key: "F?0", Value: "PersistentPlayerBases"},
	{Key: "NKm", Value: "Name"},
}

func parse(t *testing.T, s string) any {
	t.Helper()
	v, err := tree.Parse([]byte(s))
	require.NoError(t, err)
	return v
}

func compact(t *testing.T, v any) string {
	t.Helper()
	out, err := tree.Marshal(v)
	require.NoError(t, err)
	return string(out)
}

func TestMapKeys(t *testing.T) {
	obf := parse(t, `{"F2P":4720,"<h0":{"Pk4":"My Save"},"F?0":[{"NKm":"Home","zz9":1}],"8>q":"PS4"}`)

	deobf := MapKeys(obf, testMapping, Deobfuscate)
	assert.Equal(t,
		`{"Version":4720,"CommonStateData":{"SaveName":"My Save"},"PersistentPlayerBases":[{"Name":"Home","zz9":1}],"Platform":"PS4"}`,
		compact(t, deobf))

	assert.Equal(t, `{"F2P":4720,"<h0":{"Pk4":"My Save"},"F?0":[{"NKm":"Home","zz9":1}],"8>q":"PS4"}`,
		compact(t, obf), "input is left untouched")
}

func TestMapKeysRoundTrip(t *testing.T) {
	original := parse(t, `{"F2P":1,"<h0":{"Pk4":"x","NKm":[{"NKm":"y"}]},"8>q":null}`)

	deobf := MapKeys(original, testMapping, Deobfuscate)
	back := MapKeys(deobf, testMapping, Obfuscate)
	assert.True(t, tree.Equal(original, back), "got %s", compact(t, back))
}

func TestMapKeysIdempotent(t *testing.T) {
	original := parse(t, `{"F2P":1,"unknown":{"8>q":"x"}}`)

	once := MapKeys(original, testMapping, Deobfuscate)
	twice := MapKeys(once, testMapping, Deobfuscate)
	assert.True(t, tree.Equal(once, twice))
}

func TestMapKeysCollisionLastWins(t *testing.T) {
	m := Mapping{{Key: "a", Value: "X"}, {Key: "b", Value: "X"}}
	out := MapKeys(parse(t, `{"a":1,"b":2,"c":3}`), m, Deobfuscate)
	assert.Equal(t, `{"X":2,"c":3}`, compact(t, out))
}

func TestMapKeysLeavesScalars(t *testing.T) {
	assert.Equal(t, "F2P", MapKeys("F2P", testMapping, Deobfuscate), "string values are not keys")
	assert.Equal(t, tree.Number("3"), MapKeys(tree.Number("3"), testMapping, Deobfuscate))
	assert.Nil(t, MapKeys(nil, testMapping, Deobfuscate))

	arr := MapKeys(parse(t, `["F2P",{"F2P":0}]`), testMapping, Deobfuscate)
	assert.Equal(t, `["F2P",{"Version":0}]`, compact(t, arr))
}

func TestLookup(t *testing.T) {
	m := Mapping{
		{Key: "a", Value: "First"},
		{Key: "a", Value: "Second"},
		{Key: "", Value: "NoKey"},
		{Key: "b", Value: ""},
		{Key: "c", Value: "First"},
	}

	deobf := m.Lookup(Deobfuscate)
	assert.Equal(t, map[string]string{"a": "First"}, deobf)

	obf := m.Lookup(Obfuscate)
	assert.Equal(t, map[string]string{"First": "a", "Second": "a"}, obf)
}

func TestIsMapped(t *testing.T) {
	assert.True(t, IsMapped(parse(t, `{"Version":1}`)))
	assert.False(t, IsMapped(parse(t, `{"F2P":1}`)))
	assert.False(t, IsMapped(parse(t, `{"a":{"Version":1}}`)), "only the top level counts")
	assert.False(t, IsMapped(parse(t, `[{"Version":1}]`)))

	assert.Equal(t, Obfuscate, Detect(parse(t, `{"Version":1}`)))
	assert.Equal(t, Deobfuscate, Detect(parse(t, `{"F2P":1}`)))
}

func TestDirection(t *testing.T) {
	assert.Equal(t, "deobfuscate", Deobfuscate.String())
	assert.Equal(t, "obfuscate", Obfuscate.String())
	assert.Equal(t, Obfuscate, Deobfuscate.Reverse())
	assert.Equal(t, Deobfuscate, Obfuscate.Reverse())
}

func TestParseMapping(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Mapping
		wantErr bool
	}{
		{
			name:  "bare array",
			input: `[{"Key":"F2P","Value":"Version"}]`,
			want:  Mapping{{Key: "F2P", Value: "Version"}},
		},
		{
			name:  "wrapped",
			input: ` {"libMBIN_version":"5.0","Mapping":[{"Key":"8>q","Value":"Platform"}]}`,
			want:  Mapping{{Key: "8>q", Value: "Platform"}},
		},
		{
			name:  "wrapped empty",
			input: `{"Mapping":[]}`,
			want:  Mapping{},
		},
		{name: "object without mapping", input: `{"other":1}`, wantErr: true},
		{name: "scalar", input: `42`, wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
		{name: "broken", input: `[{"Key":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMapping([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentity(t *testing.T) {
	m := Identity("Version", "Name")
	v := parse(t, `{"Version":1,"Name":"x"}`)
	assert.True(t, tree.Equal(v, MapKeys(v, m, Obfuscate)))
}

func BenchmarkMapKeys(b *testing.B) {
	doc := `{"F2P":1,"<h0":{"Pk4":"x"},"F?0":[` +
		`{"NKm":"a","o":[1,2,3]},{"NKm":"b","o":[4,5,6]},{"NKm":"c","o":[7,8,9]}]}`
	v, err := tree.Parse([]byte(doc))
	if err != nil {
		b.Fatal(err)
	}
	table := testMapping.Lookup(Deobfuscate)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MapKeysWith(v, table)
	}
}
