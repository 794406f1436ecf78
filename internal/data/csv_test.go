package data

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSVWithHeader(t *testing.T) {
	raw := `ts,open,high,low,close,volume
120000,101,103,100,102,50
60000,100,102,99,101,40
`
	bars, err := parseCSV(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	// 输出按时间升序，与文件顺序无关。
	assert.Equal(t, int64(60_000), bars[0].Timestamp)
	assert.Equal(t, 102.0, bars[1].Close)
}

func TestParseCSVWithoutHeader(t *testing.T) {
	bars, err := parseCSV(strings.NewReader("60000,100,102,99,101,40\n"))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 100.0, bars[0].Open)
}

func TestParseCSVRejectsBadRows(t *testing.T) {
	_, err := parseCSV(strings.NewReader("60000,100,102\n"))
	assert.Error(t, err)

	_, err = parseCSV(strings.NewReader("60000,abc,102,99,101,40\n"))
	assert.Error(t, err)
}

func TestTimeframeHelpers(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)

	start, end := tf.AlignRange(3_700_000, 10_900_000)
	assert.Equal(t, int64(3_600_000), start)
	assert.Equal(t, int64(10_800_000), end)
	assert.Equal(t, int64(3), tf.ExpectedBars(start, end))

	_, err = ParseTimeframe("2m")
	assert.Error(t, err)
	assert.Contains(t, SupportedTimeframes(), "4h")
}
