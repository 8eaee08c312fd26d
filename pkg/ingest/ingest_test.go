package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/lightcurve/pkg/types"
)

const sampleCSV = `id,mjd,mag,mag_error
A,3.0,30,0.3
B,1.0,11,0.2
A,1.0,10,0.1
B,2.0,20,0.2
`

func TestParse(t *testing.T) {
	res, err := Parse(strings.NewReader(sampleCSV), nil)
	require.NoError(t, err)

	assert.Equal(t, []types.SourceID{"A", "B"}, res.Sources)
	assert.Len(t, res.Samples, 4)
	assert.Zero(t, res.Dropped)
	assert.Equal(t, types.RawSample{ID: "A", Timestamp: 3.0, Value: 30, Error: 0.3}, res.Samples[0])
}

func TestParseDropsMalformedRows(t *testing.T) {
	input := `id, mjd, mag, mag_error
A,1.0,10,0.1
A,abc,10,0.1
A,2.0,NaN,0.1
B,1.0,,0.1
B,1.5,11,Inf
B,2.0,12
,3.0,1,1
B,4.0,13,0.2
`
	res, err := Parse(strings.NewReader(input), nil)
	require.NoError(t, err)

	assert.Equal(t, []types.SourceID{"A", "B"}, res.Sources)
	assert.Len(t, res.Samples, 2)
	assert.Equal(t, 6, res.Dropped)
}

func TestBlankIDIsNotASource(t *testing.T) {
	input := "id,mjd,mag,mag_error\nA,1,10,0.1\n,1,11,0.1\n  ,2,12,0.1\n"

	res, err := Parse(strings.NewReader(input), nil)
	require.NoError(t, err)
	assert.Equal(t, []types.SourceID{"A"}, res.Sources)
	assert.Equal(t, 2, res.Dropped)

	_, err = Prepare(strings.NewReader(input), nil)
	assert.ErrorIs(t, err, ErrInsufficientSources)
}

func TestParseHeaderIsCaseInsensitive(t *testing.T) {
	input := "\ufeff\"ID\",MJD,Mag,Mag_Error\nA,1,2,3\n"
	res, err := Parse(strings.NewReader(input), nil)
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)
	assert.Equal(t, types.SourceID("A"), res.Samples[0].ID)
}

func TestParseCustomColumns(t *testing.T) {
	input := "star;jd;v;sigma\nX;1;2;3\n"
	opts := &CSVOptions{
		IDColumn:        "star",
		TimestampColumn: "jd",
		ValueColumn:     "v",
		ErrorColumn:     "sigma",
		Delimiter:       ';',
	}
	res, err := Parse(strings.NewReader(input), opts)
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)
	assert.Equal(t, 2.0, res.Samples[0].Value)
}

func TestParseMissingColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("id,mjd,mag\nA,1,2\n"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, KindMissingColumn, ve.Kind)
}

func TestParseEmptyInput(t *testing.T) {
	_, err := Parse(strings.NewReader(""), nil)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestSplitSourcesSortsStably(t *testing.T) {
	samples := []types.RawSample{
		{ID: "A", Timestamp: 2, Value: 1},
		{ID: "B", Timestamp: 5, Value: 1},
		{ID: "A", Timestamp: 1, Value: 2},
		{ID: "A", Timestamp: 2, Value: 3},
		{ID: "C", Timestamp: 0, Value: 9},
	}
	a, b, err := SplitSources(samples, []types.SourceID{"A", "B", "C"})
	require.NoError(t, err)

	assert.Equal(t, types.SourceID("A"), a.ID)
	assert.Equal(t, types.SourceID("B"), b.ID)
	require.Len(t, a.Samples, 3)
	assert.Equal(t, []float64{2, 1, 3}, []float64{a.Samples[0].Value, a.Samples[1].Value, a.Samples[2].Value})
	assert.Len(t, b.Samples, 1)
}

func TestSplitSourcesInsufficient(t *testing.T) {
	_, _, err := SplitSources([]types.RawSample{{ID: "A"}}, []types.SourceID{"A"})
	assert.ErrorIs(t, err, ErrInsufficientSources)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindInsufficientSources, verr.Kind)
}

func TestPrepareSingleSource(t *testing.T) {
	input := "id,mjd,mag,mag_error\nA,1,1,1\nA,2,2,2\n"
	_, err := Prepare(strings.NewReader(input), nil)
	assert.ErrorIs(t, err, ErrInsufficientSources)
}

func TestPrepareNoValidRowsIsWarning(t *testing.T) {
	input := "id,mjd,mag,mag_error\nA,1,1,1\nB,x,2,2\n"
	up, err := Prepare(strings.NewReader(input), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, up.First.Len())
	assert.Equal(t, 0, up.Second.Len())
	assert.Equal(t, 1, up.Report.Dropped)
	require.Len(t, up.Report.Warnings, 1)
	assert.Equal(t, KindNoValidRows, up.Report.Warnings[0].Kind)
	assert.Equal(t, "B", up.Report.Warnings[0].Source)
}

func TestPrepareIgnoresExtraSources(t *testing.T) {
	input := "id,mjd,mag,mag_error\nA,1,1,1\nB,1,2,2\nC,1,3,3\n"
	up, err := Prepare(strings.NewReader(input), nil)
	require.NoError(t, err)

	assert.Equal(t, []types.SourceID{"C"}, up.Report.Ignored)
	assert.Equal(t, map[string]int{"A": 1, "B": 1}, up.Report.Rows)
	require.Len(t, up.Report.Warnings, 1)
	assert.Equal(t, KindExtraSources, up.Report.Warnings[0].Kind)
}
