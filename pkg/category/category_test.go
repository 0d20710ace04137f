package category

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakura-kun-88/startup-compass-89/pkg/chain"
	"github.com/sakura-kun-88/startup-compass-89/pkg/codec"
)

const member = "0xAB12cd34ef56ab12cd34ef56ab12cd34ef56ab12"

func fieldErr(t *testing.T, err error) *FieldError {
	t.Helper()
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	return fe
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	assert.Equal(t, "1.0.0", r.Version())
	assert.Equal(t, []string{"customer_value", "kpi_progress", "kpi_target", "metric", "revenue", "salary", "startup"}, r.Names())

	calls := map[string]string{
		"startup":        chain.CallCreateStartup,
		"revenue":        chain.CallRecordMetric,
		"customer_value": chain.CallRecordMetric,
		"kpi_target":     chain.CallCreateKPI,
		"kpi_progress":   chain.CallUpdateKPIProgress,
		"salary":         chain.CallAddTeamMember,
	}
	for name, call := range calls {
		s, ok := r.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, call, s.Call, name)
	}
	_, ok := r.Lookup("nope")
	assert.False(t, ok)
}

func TestValidate_Value(t *testing.T) {
	s, _ := Default().Lookup("revenue")
	extras := map[string]string{"source": "stripe"}

	in, err := s.Validate(" 500 ", extras)
	require.NoError(t, err)
	assert.True(t, in.HasValue)
	assert.Equal(t, 500.0, in.Value)

	tests := []struct {
		raw  string
		code string
	}{
		{"", CodeRequired},
		{"   ", CodeRequired},
		{"abc", CodeNotNumeric},
		{"NaN", CodeNotNumeric},
		{"inf", CodeNotNumeric},
		{"-3", CodeOutOfRange},
		{"4294967296", CodeOutOfRange},
	}
	for _, tt := range tests {
		_, err := s.Validate(tt.raw, extras)
		fe := fieldErr(t, err)
		assert.Equal(t, ValueField, fe.Field, tt.raw)
		assert.Equal(t, tt.code, fe.Code, tt.raw)
	}
}

func TestValidate_Companions(t *testing.T) {
	r := Default()
	salary, _ := r.Lookup("salary")

	_, err := salary.Validate("9000", map[string]string{"role": "cto"})
	fe := fieldErr(t, err)
	assert.Equal(t, "member_address", fe.Field)
	assert.Equal(t, CodeRequired, fe.Code)

	_, err = salary.Validate("9000", map[string]string{"role": "cto", "member_address": "0x123"})
	assert.Equal(t, CodeMalformed, fieldErr(t, err).Code)

	in, err := salary.Validate("9000", map[string]string{"role": "cto", "member_address": member})
	require.NoError(t, err)
	assert.Equal(t, "0xab12cd34ef56ab12cd34ef56ab12cd34ef56ab12", in.Fields["member_address"])
	_, hasName := in.Fields["member_name"]
	assert.False(t, hasName, "optional companions stay absent")

	customer, _ := r.Lookup("customer_value")
	_, err = customer.Validate("10", map[string]string{"customer_name": "Ada", "customer_email": "nope"})
	assert.Equal(t, "customer_email", fieldErr(t, err).Field)

	kpi, _ := r.Lookup("kpi_target")
	in, err = kpi.Validate("100", map[string]string{"kpi_type": "mrr", "deadline": "2027-01-01"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), in.Fields["deadline"])

	_, err = kpi.Validate("100", map[string]string{"kpi_type": "mrr", "deadline": "soon"})
	assert.Equal(t, "deadline", fieldErr(t, err).Field)
}

func TestValidate_ValuelessCategory(t *testing.T) {
	s, _ := Default().Lookup("startup")
	in, err := s.Validate("", map[string]string{"name": "Acme", "description": "rockets"})
	require.NoError(t, err)
	assert.False(t, in.HasValue)

	call, err := s.BuildCall(0, in, nil)
	require.NoError(t, err)
	assert.Equal(t, chain.Call{Name: chain.CallCreateStartup, Args: []any{"Acme", "rockets"}}, call)
}

func TestBuildCall_Shapes(t *testing.T) {
	r := Default()
	payload, err := codec.New().Encode(500)
	require.NoError(t, err)
	proof := payload.ProofBytes()

	revenue, _ := r.Lookup("revenue")
	in, err := revenue.Validate("500", map[string]string{"source": "stripe"})
	require.NoError(t, err)
	call, err := revenue.BuildCall(1, in, &payload)
	require.NoError(t, err)
	assert.Equal(t, []any{uint64(1), "revenue", "wATN", proof}, call.Args)

	metric, _ := r.Lookup("metric")
	in, err = metric.Validate("500", map[string]string{"metric_type": "burn_rate"})
	require.NoError(t, err)
	call, err = metric.BuildCall(2, in, &payload)
	require.NoError(t, err)
	assert.Equal(t, "burn_rate", call.Args[1])

	kpi, _ := r.Lookup("kpi_target")
	in, err = kpi.Validate("500", map[string]string{"kpi_type": "mrr", "deadline": "2027-01-01T00:00:00Z"})
	require.NoError(t, err)
	call, err = kpi.BuildCall(1, in, &payload)
	require.NoError(t, err)
	assert.Equal(t, chain.CallCreateKPI, call.Name)
	assert.Equal(t, []any{uint64(1), "mrr", "wATN", proof, int64(1798761600)}, call.Args)

	progress, _ := r.Lookup("kpi_progress")
	in, err = progress.Validate("250", nil)
	require.NoError(t, err)
	call, err = progress.BuildCall(7, in, &payload)
	require.NoError(t, err)
	assert.Equal(t, []any{uint64(7), "wATN", proof}, call.Args)

	salary, _ := r.Lookup("salary")
	in, err = salary.Validate("500", map[string]string{"member_address": member, "role": "cto"})
	require.NoError(t, err)
	call, err = salary.BuildCall(1, in, &payload)
	require.NoError(t, err)
	assert.Equal(t, []any{uint64(1), "0xab12cd34ef56ab12cd34ef56ab12cd34ef56ab12", "cto", "wATN", proof}, call.Args)

	_, err = salary.BuildCall(1, in, nil)
	assert.Error(t, err, "value categories need a payload")
}

func TestLoad_Rejects(t *testing.T) {
	tests := map[string]string{
		"bad yaml":          "version: [",
		"bad version":       "version: banana\ncategories: []",
		"future version":    "version: 2.0.0\ncategories: []",
		"missing call":      "version: 1.0.0\ncategories:\n  - name: x\n    args: []",
		"unknown token":     "version: 1.0.0\ncategories:\n  - name: x\n    call: c\n    args: [$nope]",
		"unknown companion": "version: 1.0.0\ncategories:\n  - name: x\n    call: c\n    args: [who]",
		"proof without value": "version: 1.0.0\ncategories:\n  - name: x\n    call: c\n    value: none\n    args: [$proof]",
		"bad constraint":    "version: 1.0.0\ncategories:\n  - name: x\n    call: c\n    constraint: value +\n    args: []",
		"non-bool constraint": "version: 1.0.0\ncategories:\n  - name: x\n    call: c\n    constraint: value + 1.0\n    args: []",
		"duplicate":         "version: 1.0.0\ncategories:\n  - {name: x, call: c, args: []}\n  - {name: x, call: c, args: []}",
		"bad kind":          "version: 1.0.0\ncategories:\n  - name: x\n    call: c\n    companions: [{name: a, kind: blob}]\n    args: []",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.yaml")
	doc := `version: 1.2.0
categories:
  - name: burn
    call: recordMetric
    tag: burn_rate
    constraint: value < 1000000.0
    args: [$record, $tag, $ciphertext, $proof]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	r, err := LoadFile(path)
	require.NoError(t, err)
	s, ok := r.Lookup("burn")
	require.True(t, ok)
	assert.Equal(t, ValueRequired, s.Value)

	_, err = s.Validate("2000000", nil)
	assert.Equal(t, CodeOutOfRange, fieldErr(t, err).Code)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
