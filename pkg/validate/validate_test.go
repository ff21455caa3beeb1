package validate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsInt(t *testing.T) {
	n, err := AsInt("n", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// JSON decoding delivers whole numbers as float64.
	n, err = AsInt("n", float64(7))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = AsInt("n", 7.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be an integer")

	_, err = AsInt("n", "7")
	require.Error(t, err)
}

func TestAsFloat(t *testing.T) {
	f, err := AsFloat("f", 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, f)

	f, err = AsFloat("f", 0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, f)

	_, err = AsFloat("f", true)
	require.Error(t, err)
}

func TestAsBoolAndString(t *testing.T) {
	b, err := AsBool("b", true)
	require.NoError(t, err)
	assert.True(t, b)
	_, err = AsBool("b", 1)
	require.Error(t, err)

	s, err := AsString("s", "lbfgs")
	require.NoError(t, err)
	assert.Equal(t, "lbfgs", s)
	_, err = AsString("s", 1)
	require.Error(t, err)
}

func TestPositiveInt(t *testing.T) {
	n, err := PositiveInt("n_estimators", float64(100))
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	for _, bad := range []interface{}{0, -1, 2.5, "x"} {
		_, err := PositiveInt("n_estimators", bad)
		require.Error(t, err, bad)
	}
}

func TestNonNegativeInt(t *testing.T) {
	n, err := NonNegativeInt("verbose", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = NonNegativeInt("verbose", -1)
	require.Error(t, err)
}

func TestPositiveFloat(t *testing.T) {
	f, err := PositiveFloat("learning_rate", 0.1)
	require.NoError(t, err)
	assert.Equal(t, 0.1, f)

	for _, bad := range []interface{}{0.0, -0.1, math.NaN(), math.Inf(1)} {
		_, err := PositiveFloat("learning_rate", bad)
		require.Error(t, err, bad)
	}
}

func TestProbability(t *testing.T) {
	for _, ok := range []float64{0, 0.5, 1} {
		f, err := Probability("test_size", ok)
		require.NoError(t, err)
		assert.Equal(t, ok, f)
	}
	for _, bad := range []interface{}{-0.01, 1.01, math.NaN()} {
		_, err := Probability("test_size", bad)
		require.Error(t, err, bad)
	}
}

func TestIntInRange(t *testing.T) {
	n, err := IntInRange("depth", 5, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = IntInRange("depth", 11, 1, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1, 10]")
}

func TestFloatInRange(t *testing.T) {
	f, err := FloatInRange("subsample", 0.8, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.8, f)

	_, err = FloatInRange("subsample", 1.2, 0, 1)
	require.Error(t, err)
}

func TestOneOf(t *testing.T) {
	s, err := OneOf("criterion", "gini", "gini", "entropy")
	require.NoError(t, err)
	assert.Equal(t, "gini", s)

	_, err = OneOf("criterion", "chaos", "gini", "entropy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "criterion")

	_, err = OneOf("criterion", 3, "gini", "entropy")
	require.Error(t, err)
}
