package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountQuery(t *testing.T) {
	q, err := CountQuery("orders", "")
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", q)

	q, err = CountQuery("app.orders", "id")
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(id) FROM app.orders", q)

	_, err = CountQuery("orders; DROP TABLE x", "")
	assert.Error(t, err)

	_, err = CountQuery("orders", "id) FROM x --")
	assert.Error(t, err)

	_, err = CountQuery("", "")
	assert.Error(t, err)
}

func TestCoerceScalar(t *testing.T) {
	cases := []struct {
		raw  any
		want float64
	}{
		{int64(42), 42},
		{int32(7), 7},
		{13, 13},
		{float64(3.5), 3.5},
		{float32(2), 2},
		{[]byte("128.25"), 128.25},
		{"91", 91},
	}
	for _, tc := range cases {
		got, err := coerceScalar(tc.raw)
		require.NoError(t, err, "raw %v (%T)", tc.raw, tc.raw)
		assert.Equal(t, tc.want, got)
	}

	for _, raw := range []any{nil, "not-a-number", []byte("NaN-ish"), true, struct{}{}} {
		_, err := coerceScalar(raw)
		assert.Error(t, err, "raw %v (%T) should be rejected", raw, raw)
	}
}

func TestNewSQLSourceRequiresQuery(t *testing.T) {
	_, err := NewSQLSource("a", "postgres://localhost/x", "")
	assert.Error(t, err)
}
