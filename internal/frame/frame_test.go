package frame

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFrame(t *testing.T) *Frame {
	t.Helper()
	f, err := FromRows([]string{"Date", "Close", "Volume"}, [][]Cell{
		{Str("2024-01-02"), Num(185.64), Num(82488700)},
		{Str("2024-01-03"), Num(184.25), Num(58414500)},
		{Str("2024-01-04"), Num(181.91), Null()},
	})
	require.NoError(t, err)
	return f
}

// ── Cells ──

func TestCellText(t *testing.T) {
	tests := []struct {
		cell Cell
		want string
	}{
		{Num(3), "3"},
		{Num(3.25), "3.25"},
		{Num(-0.5), "-0.5"},
		{Str("AAPL"), "AAPL"},
		{Bool(true), "True"},
		{Null(), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cell.Text())
	}
	assert.Equal(t, "NaN", Null().String())
}

func TestCellEqualAndLess(t *testing.T) {
	assert.True(t, Num(1).Equal(Num(1)))
	assert.False(t, Null().Equal(Null()))
	assert.False(t, Str("1").Equal(Num(1)))
	assert.True(t, Num(1).Less(Num(2)))
	assert.True(t, Num(100).Less(Str("a")))
	assert.True(t, Str("a").Less(Null()))
	assert.False(t, Null().Less(Num(1)))
}

// ── Frame basics ──

func TestFromRowsDuplicateColumn(t *testing.T) {
	_, err := FromRows([]string{"a", "a"}, nil)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAddColumnLengthMismatch(t *testing.T) {
	f := sampleFrame(t)
	err := f.AddColumn("Open", []Cell{Num(1)})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestInsertColumn(t *testing.T) {
	f := sampleFrame(t)
	require.NoError(t, f.InsertColumn(1, "Ticker", []Cell{Str("AAPL"), Str("AAPL"), Str("AAPL")}))
	assert.Equal(t, []string{"Date", "Ticker", "Close", "Volume"}, f.Columns())
	assert.Equal(t, "AAPL", f.At(2, "Ticker").Str)
}

func TestSelectDropRename(t *testing.T) {
	f := sampleFrame(t)

	sel, err := f.Select("Close", "Date")
	require.NoError(t, err)
	assert.Equal(t, []string{"Close", "Date"}, sel.Columns())
	assert.Equal(t, 3, sel.Len())

	_, err = f.Select("Open")
	assert.ErrorIs(t, err, ErrNoColumn)

	dropped := f.Drop("Volume", "NotThere")
	assert.Equal(t, []string{"Date", "Close"}, dropped.Columns())

	renamed, err := f.Rename(map[string]string{"Close": "Adj Close"})
	require.NoError(t, err)
	assert.True(t, renamed.Has("Adj Close"))
	assert.False(t, renamed.Has("Close"))
}

func TestHeadTailFilter(t *testing.T) {
	f := sampleFrame(t)
	assert.Equal(t, 2, f.Head(2).Len())
	assert.Equal(t, "2024-01-04", f.Tail(1).At(0, "Date").Str)
	assert.Equal(t, 3, f.Head(10).Len())

	big := f.Filter(func(i int) bool {
		v, _ := f.At(i, "Close").Float()
		return v > 182
	})
	assert.Equal(t, 2, big.Len())
}

// ── Reshape ──

func TestTranspose(t *testing.T) {
	wide, err := FromRows([]string{"Financial", "2023-09-30", "2022-09-30"}, [][]Cell{
		{Str("Income_Total Revenue"), Num(383), Num(394)},
		{Str("Income_Net Income"), Num(97), Num(99)},
	})
	require.NoError(t, err)

	tr, err := wide.Transpose("Financial", "Date")
	require.NoError(t, err)
	assert.Equal(t, []string{"Date", "Income_Total Revenue", "Income_Net Income"}, tr.Columns())
	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, "2022-09-30", tr.At(1, "Date").Str)
	assert.Equal(t, 99.0, tr.At(1, "Income_Net Income").Num)
}

func TestConcatUnionColumns(t *testing.T) {
	a, _ := FromRows([]string{"Financial", "2023"}, [][]Cell{{Str("x"), Num(1)}})
	b, _ := FromRows([]string{"Financial", "2022"}, [][]Cell{{Str("y"), Num(2)}, {Str("z"), Num(3)}})

	c := Concat(a, nil, b)
	assert.Equal(t, []string{"Financial", "2023", "2022"}, c.Columns())
	assert.Equal(t, 3, c.Len())
	assert.True(t, c.At(0, "2022").IsNull())
	assert.True(t, c.At(2, "2023").IsNull())
}

func TestMeltRowCount(t *testing.T) {
	for _, tc := range []struct{ items, dates int }{{1, 1}, {3, 4}, {7, 2}, {0, 3}} {
		names := []string{"Date"}
		for k := 0; k < tc.items; k++ {
			names = append(names, strings.Repeat("x", k+1))
		}
		f := New(names...)
		for d := 0; d < tc.dates; d++ {
			row := []Cell{Str("d")}
			for k := 0; k < tc.items; k++ {
				row = append(row, Num(float64(k)))
			}
			require.NoError(t, f.AppendRow(row...))
		}
		long, err := f.Melt([]string{"Date"}, "Financial", "Value")
		require.NoError(t, err)
		assert.Equal(t, tc.items*tc.dates, long.Len())
		assert.Equal(t, []string{"Date", "Financial", "Value"}, long.Columns())
	}
}

func TestMeltUnknownID(t *testing.T) {
	f := sampleFrame(t)
	_, err := f.Melt([]string{"Ticker"}, "k", "v")
	assert.ErrorIs(t, err, ErrNoColumn)
}

// ── CSV ──

func TestCSVRoundTrip(t *testing.T) {
	f := sampleFrame(t)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, f))

	assert.True(t, strings.HasPrefix(buf.String(), "Date,Close,Volume\n"))

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, f.Columns(), back.Columns())
	assert.Equal(t, f.Len(), back.Len())
	assert.True(t, back.IsNumeric("Close"))
	assert.False(t, back.IsNumeric("Date"))
	assert.True(t, back.At(2, "Volume").IsNull())
}

func TestCSVRoundTripSingleColumnNulls(t *testing.T) {
	f, err := FromRows([]string{"Close"}, [][]Cell{{Num(1)}, {Null()}, {Num(3)}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, f))
	assert.Equal(t, "Close\n1\n\"\"\n3\n", buf.String())

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, back.Len())
	assert.True(t, back.IsNumeric("Close"))
	assert.True(t, back.At(1, "Close").IsNull())
	assert.Equal(t, 3.0, back.At(2, "Close").Num)
}

func TestReadCSVHeaderOnly(t *testing.T) {
	back, err := ReadCSV(strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, back.Columns())
	assert.Equal(t, 0, back.Len())
}

func TestReadCSVDuplicateHeader(t *testing.T) {
	back, err := ReadCSV(strings.NewReader("a,a\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a.1"}, back.Columns())
}

func TestReadCSVKeepsInfinityAsText(t *testing.T) {
	back, err := ReadCSV(strings.NewReader("v\nInfinity\n"))
	require.NoError(t, err)
	assert.Equal(t, KindString, back.At(0, "v").Kind)
}

// ── Render ──

func TestRender(t *testing.T) {
	out := Render(sampleFrame(t), 0)
	assert.Contains(t, out, "Close")
	assert.Contains(t, out, "185.64")
	assert.Contains(t, out, "NaN")
	assert.Contains(t, out, "[3 rows x 3 columns]")

	elided := Render(sampleFrame(t), 2)
	assert.Contains(t, elided, "...")
	assert.Equal(t, "Empty DataFrame", Render(New(), 5))
}
