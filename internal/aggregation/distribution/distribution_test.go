package distribution

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEmpty(t *testing.T) {
	_, err := Build(nil)
	require.True(t, errors.Is(err, ErrEmptyDistribution))
}

func TestBuildTwoBuckets(t *testing.T) {
	got, err := Build([]string{"Twice daily", "Twice daily", "2x per day"})
	require.NoError(t, err)

	assert.Equal(t, "Twice daily", got.Mode)
	assert.Equal(t, 3, got.TotalReports)
	assert.Equal(t, []Value{
		{Value: "Twice daily", Count: 2, Percentage: 67},
		{Value: "2x per day", Count: 1, Percentage: 33},
	}, got.Values)
}

func TestBuildTiesKeepFirstSeenOrder(t *testing.T) {
	got, err := Build([]string{"b", "a", "c", "a", "b", "c"})
	require.NoError(t, err)

	require.Len(t, got.Values, 3)
	assert.Equal(t, "b", got.Mode)
	assert.Equal(t, []string{"b", "a", "c"}, valuesOf(got))
	// 33+33+33 = 99, the residual point goes to the first bucket.
	assert.Equal(t, []int{34, 33, 33}, percentagesOf(got))
}

func TestBuildResidualNeverNegative(t *testing.T) {
	in := make([]string, 200)
	for i := range in {
		in[i] = fmt.Sprintf("v%03d", i)
	}
	got, err := Build(in)
	require.NoError(t, err)
	assertInvariants(t, in, got)
}

func TestBuildSingleValue(t *testing.T) {
	got, err := Build([]string{"$10-25/month"})
	require.NoError(t, err)
	assert.Equal(t, Data{
		Mode:         "$10-25/month",
		Values:       []Value{{Value: "$10-25/month", Count: 1, Percentage: 100}},
		TotalReports: 1,
	}, got)
}

func FuzzBuildInvariants(f *testing.F) {
	f.Add("a,b,a")
	f.Add("x")
	f.Add("1,2,3,4,5,6,7")
	f.Add("a,a,b,b,c,c,d")

	f.Fuzz(func(t *testing.T, raw string) {
		in := strings.Split(raw, ",")
		if len(in) > 500 {
			t.Skip("input too large")
		}
		got, err := Build(in)
		require.NoError(t, err)
		assertInvariants(t, in, got)

		again, err := Build(in)
		require.NoError(t, err)
		require.Equal(t, got, again)
	})
}

func assertInvariants(t *testing.T, in []string, got Data) {
	t.Helper()
	require.Equal(t, len(in), got.TotalReports)

	seen := map[string]bool{}
	sumPct, sumCount := 0, 0
	maxCount := 0
	for i, v := range got.Values {
		require.False(t, seen[v.Value], "duplicate bucket %q", v.Value)
		seen[v.Value] = true
		require.GreaterOrEqual(t, v.Percentage, 0)
		require.LessOrEqual(t, v.Percentage, 100)
		if i > 0 {
			require.LessOrEqual(t, v.Count, got.Values[i-1].Count, "values not sorted by count")
		}
		if v.Count > maxCount {
			maxCount = v.Count
		}
		sumPct += v.Percentage
		sumCount += v.Count
	}
	require.Equal(t, 100, sumPct)
	require.Equal(t, got.TotalReports, sumCount)
	require.Equal(t, got.Values[0].Value, got.Mode)
	require.Equal(t, maxCount, got.Values[0].Count)
}

func valuesOf(d Data) []string {
	out := make([]string, 0, len(d.Values))
	for _, v := range d.Values {
		out = append(out, v.Value)
	}
	return out
}

func percentagesOf(d Data) []int {
	out := make([]int, 0, len(d.Values))
	for _, v := range d.Values {
		out = append(out, v.Percentage)
	}
	return out
}
