package forecast

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"negotiator/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateKeyString(t *testing.T) {
	cases := []struct {
		name string
		key  StateKey
		want string
	}{
		{"seller first buckets", NewStateKey(types.RoleSeller, 5, 3, 3, 0.4), "ss5o3t0+rem0.25+"},
		{"buyer last buckets", NewStateKey(types.RoleBuyer, -2, 10, 20, 1), "bs-2o10t15+rem0.75+"},
		{"bucket edges", NewStateKey(types.RoleSeller, 0, 0, 5, 0.25), "ss0o0t0+rem0.0+"},
		{"past last time bucket", NewStateKey(types.RoleSeller, 1, 1, 21, 0.5), "ss1o1rem0.25+"},
		{"fraction above one", NewStateKey(types.RoleBuyer, 1, 1, 6, 1.5), "bs1o1t5+"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.key.String())
		})
	}
}

func rec(role types.Role, q int, p float64) Record {
	return Record{Role: role, OwnRemaining: 4, OpponentLastQty: 2, Step: 7, RemainingFraction: 0.5, Quantity: q, UnitPrice: p, MinPrice: 10, MaxPrice: 20}
}

func TestBuild_Mean(t *testing.T) {
	table, err := Build(KindMean, []Record{
		rec(types.RoleSeller, 4, 15),
		rec(types.RoleSeller, 2, 20),
		rec(types.RoleSeller, 0, 0),
		{Role: types.RoleSeller, OwnRemaining: 40, Quantity: 3, MaxPrice: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, table.Rows())
	assert.Equal(t, 1, table.Misses())

	key := rec(types.RoleSeller, 0, 0).Key()
	stats, ok := table.Stats(key)
	require.True(t, ok)
	assert.Equal(t, 3, stats.Observations)
	// quantities 4+2+0 over the prior plus three rows
	assert.InDelta(t, 6.0/4, stats.MeanQuantity, 1e-9)
	// (0.5*4 + 1.0*2) / 6
	assert.InDelta(t, 4.0/6, stats.MeanNormalizedPrice, 1e-9)

	pred := table.Lookup(key, types.PriceBounds{Min: 12, Max: 18})
	assert.True(t, pred.Hit)
	assert.InDelta(t, 12+6*4.0/6, pred.UnitPrice, 1e-9)
	assert.Equal(t, 1.0, pred.AgreeProb)
}

func TestBuild_MeanOrDisagreement(t *testing.T) {
	table, err := Build(KindMeanOrDisagreement, []Record{
		rec(types.RoleBuyer, 3, 12),
		rec(types.RoleBuyer, 0, 0),
		rec(types.RoleBuyer, 0, 0),
	})
	require.NoError(t, err)
	stats, ok := table.Stats(rec(types.RoleBuyer, 0, 0).Key())
	require.True(t, ok)
	assert.InDelta(t, 3.0/2, stats.MeanQuantity, 1e-9)
	assert.InDelta(t, 0.2, stats.MeanNormalizedPrice, 1e-9)
	assert.InDelta(t, 0.5, stats.AgreeProb, 1e-9)
	assert.InDelta(t, 0.5, stats.DisagreeProb, 1e-9)

	t.Run("unobserved key keeps the prior", func(t *testing.T) {
		s, ok := table.Stats(NewStateKey(types.RoleSeller, 0, 0, 0, 0))
		require.True(t, ok)
		assert.Zero(t, s.MeanQuantity)
		assert.Equal(t, 0.5, s.MeanNormalizedPrice)
		assert.Equal(t, 1.0, s.AgreeProb)
	})
}

func TestLookupMissDefaults(t *testing.T) {
	table, err := Build(KindMeanOrDisagreement, nil)
	require.NoError(t, err)
	pred := table.Lookup(NewStateKey(types.RoleSeller, 99, 0, 0, 0), types.PriceBounds{Min: 10, Max: 20})
	assert.False(t, pred.Hit)
	assert.Zero(t, pred.Quantity)
	assert.Equal(t, 15.0, pred.UnitPrice)
	assert.Zero(t, pred.AgreeProb)
	assert.Equal(t, 1.0, pred.DisagreeProb)

	_, err = Build(Kind("median"), nil)
	assert.Error(t, err)
}

func TestReadCSV(t *testing.T) {
	raw := strings.Join([]string{
		"time,level,my_remaining_exog,opp_last_exog,rem_negotiations,q,p,min_price,max_price,extra",
		"3,seller,5,2,0.5,4,16.0,10,20,x",
		"12,buyer,-1,0,1.0,0,0,10,20,y",
	}, "\n")
	records, err := ReadCSV(context.Background(), strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Record{Role: types.RoleSeller, OwnRemaining: 5, OpponentLastQty: 2, Step: 3, RemainingFraction: 0.5, Quantity: 4, UnitPrice: 16, MinPrice: 10, MaxPrice: 20}, records[0])
	assert.Equal(t, types.RoleBuyer, records[1].Role)
	assert.Equal(t, -1, records[1].OwnRemaining)

	_, err = ReadCSV(context.Background(), strings.NewReader("level,q\nseller,1"))
	assert.Error(t, err)

	_, err = ReadCSV(context.Background(), strings.NewReader(strings.Join(CSVHeader, ",")+"\nmerchant,1,1,1,1,1,1,1,1"))
	assert.Error(t, err)
}

func TestFileSourceCompressed(t *testing.T) {
	records := []Record{rec(types.RoleSeller, 4, 15), rec(types.RoleBuyer, 0, 0)}
	dir := t.TempDir()
	for _, name := range []string{"history.csv", "history.csv.gz", "history.csv.zst"} {
		path := filepath.Join(dir, name)
		require.NoError(t, WriteFile(path, records))
		got, err := FileSource{Path: path}.Records(context.Background())
		require.NoError(t, err, name)
		assert.Equal(t, records, got, name)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records))

	flipped, err := FileSource{Path: filepath.Join(dir, "history.csv"), PartnerLevel: true}.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, flipped, 2)
	assert.Equal(t, types.RoleBuyer, flipped[0].Role)
	assert.Equal(t, types.RoleSeller, flipped[1].Role)
	assert.Equal(t, records[0].Quantity, flipped[0].Quantity)
	table, err := Load(context.Background(), KindMean, FileSource{Path: filepath.Join(dir, "history.csv.zst")})
	require.NoError(t, err)
	assert.Equal(t, 2, table.Rows())
	assert.NotEmpty(t, table.Top(5))
}
