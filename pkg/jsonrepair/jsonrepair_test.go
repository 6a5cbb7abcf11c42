package jsonrepair

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmstools/nmssave/pkg/tree"
)

func compact(t *testing.T, v any) string {
	t.Helper()
	out, err := tree.Marshal(v)
	require.NoError(t, err)
	return string(out)
}

func TestParseWhole(t *testing.T) {
	_, ok := ParseWhole(`{"a":[1,2]}`)
	assert.True(t, ok)
	_, ok = ParseWhole(`{"a":[1,2]} tail`)
	assert.False(t, ok)
	_, ok = ParseWhole(`{"a":`)
	assert.False(t, ok)
}

func TestParseFirstValue(t *testing.T) {
	v, ok := ParseFirstValue(`{"a":1}{"b":2}`)
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, compact(t, v))

	v, ok = ParseFirstValue(`[1,2]]]]`)
	require.True(t, ok)
	assert.Equal(t, `[1,2]`, compact(t, v))

	_, ok = ParseFirstValue(`{"a":{"b":1}`)
	assert.False(t, ok)
}

func TestTrimIncompleteTail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"dangling key and colon", `{"a":1,"b":{"c":2,"d":`, `{"a":1,"b":{"c":2`},
		{"dangling key with spaces", "{\"a\": 1,\n  \"xDJ\" :  \n", `{"a": 1`},
		{"bare key after comma", `{"a":"b","c"`, `{"a":"b"`},
		{"bare key after brace", `{"x":{"k"`, `{"x":{`},
		{"unterminated value", `{"a": "unterminated str`, `{`},
		{"unterminated key", `{"a":1,"ke`, `{"a":1`},
		{"escaped quote inside", `{"a":1,"b":"say \"hi`, `{"a":1`},
		{"trailing backslash", `{"a":1,"b":"x\`, `{"a":1`},
		{"trailing comma", `[1,2,`, `[1,2`},
		{"partial literal", `{"a":1,"b":tr`, `{"a":1`},
		{"partial number", `{"a":1,"b":-`, `{"a":1`},
		{"partial exponent", `[1,2.5e`, `[1`},
		{"complete literal kept", `{"a":true`, `{"a":true`},
		{"complete number kept", `[1,2,30`, `[1,2,30`},
		{"value string kept", `{"a":"b"`, `{"a":"b"`},
		{"array string kept", `["x","y"`, `["x","y"`},
		{"array unterminated", `["x","y`, `["x"`},
		{"open brace kept", `{"a":[`, `{"a":[`},
		{"literal in key slot", `{"a":1,tru`, `{"a":1`},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrimIncompleteTail(tt.in))
		})
	}
}

func TestCloseOpenStructures(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1,"b":{"c":2`, `{"a":1,"b":{"c":2}}`},
		{`{"a":[1,{"b":[`, `{"a":[1,{"b":[]}]}`},
		{`[{"a":1},`, `[{"a":1}]`},
		{`{"s":"}]{["`, `{"s":"}]{["}`},
		{`{"a":"x`, `{"a":"x"}`},
		{`{"a":"x\`, `{"a":"x\\"}`},
		{`{}`, `{}`},
		{``, ``},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CloseOpenStructures(tt.in))
		})
	}
}

func TestTruncateToLastClosed(t *testing.T) {
	assert.Equal(t, `{"a":[1,2]}`, TruncateToLastClosed(`{"a":[1,2] "b":3`))
	assert.Equal(t, `{"a":{"b":1}}`, TruncateToLastClosed(`{"a":{"b":1} junk`))
	assert.Equal(t, `{"s":"]"}`, TruncateToLastClosed(`{"s":"]"`), "brackets inside strings are not structural")
	assert.Equal(t, `[1`+`]`, TruncateToLastClosed(`[1`))
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		step Step
	}{
		{"valid", `{"a":1}`, `{"a":1}`, StepWhole},
		{"trailing garbage", `{"a":1}xyz`, `{"a":1}`, StepFirstValue},
		{"dangling key", `{"a":1,"b":{"c":2,"d":`, `{"a":1,"b":{"c":2}}`, StepTrimmed},
		{"unterminated string", `{"a": "unterminated str`, `{}`, StepTrimmed},
		{"nested array truncation", `{"a":[{"x":1},{"y":[1,2`, `{"a":[{"x":1},{"y":[1,2]}]}`, StepTrimmed},
		{"missing comma", `{"a":[1,2] "b":3`, `{"a":[1,2]}`, StepTruncated},
		{"hopeless", `xyz`, `{}`, StepEmpty},
		{"empty", ``, `{}`, StepEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, step := Recover(tt.in)
			assert.Equal(t, tt.want, compact(t, v))
			assert.Equal(t, tt.step, step, "step %s", step)
		})
	}
}

func TestRepair(t *testing.T) {
	pretty := "{\n  \"a\": 1\n}"
	assert.Equal(t, pretty, Repair(pretty), "valid input is returned verbatim")
	assert.Equal(t, `{"a":1,"b":{"c":2}}`, Repair(`{"a":1,"b":{"c":2,"d":`))
	assert.Equal(t, `{}`, Repair(`not json at all`))
}

func TestRecoverEveryPrefix(t *testing.T) {
	doc := `{"F2P":4720,"8>q":"Steam","XTp":"Main","n:R":{"s":"a \"quoted\" \\ name"},` +
		`"arr":[1,-2.5e3,true,false,null,{"k":[]}],"<h0":{"Pk4":"Save"}}`

	for i := 0; i <= len(doc); i++ {
		prefix := doc[:i]
		out := Repair(prefix)
		_, ok := ParseWhole(out)
		require.True(t, ok, "prefix %d %q repaired to invalid %q", i, prefix, out)
	}

	v, step := Recover(doc[:strings.Index(doc, `"arr"`)+8])
	assert.Equal(t, StepTrimmed, step)
	assert.Equal(t, "Steam", tree.LookupString(v, "8>q"))
}

func TestStepString(t *testing.T) {
	assert.Equal(t, "whole", StepWhole.String())
	assert.Equal(t, "empty", StepEmpty.String())
	assert.Equal(t, "unknown", Step(99).String())
}

func BenchmarkRecover(b *testing.B) {
	var sb strings.Builder
	sb.WriteString(`{"list":[`)
	for i := 0; i < 5000; i++ {
		sb.WriteString(`{"NKm":"name","o":[1,2,3]},`)
	}
	sb.WriteString(`{"NKm":"trunc`)
	text := sb.String()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Recover(text)
	}
}
