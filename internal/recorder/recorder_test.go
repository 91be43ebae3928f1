package recorder

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/packet"
	"github.com/srg/eegbuds/internal/testutils"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func ramp(start int16) packet.Samples {
	var s packet.Samples
	for i := range s {
		s[i] = start + int16(i)
	}
	return s
}

func TestHeader(t *testing.T) {
	cols := strings.Split(Header(), ",")
	require.Len(t, cols, 1+2*packet.SamplesPerBlock)
	assert.Equal(t, "ts", cols[0])
	assert.Equal(t, "left0", cols[1])
	assert.Equal(t, "left19", cols[20])
	assert.Equal(t, "right0", cols[21])
	assert.Equal(t, "right19", cols[40])
}

func TestFormatRow(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	var left, right packet.Samples
	left[0], left[19] = -32768, 7
	right[0], right[19] = 32767, -1

	row := strings.Split(FormatRow(ts, left, right), ",")
	require.Len(t, row, 41)
	assert.Equal(t, "1700000000123", row[0])
	assert.Equal(t, "-32768", row[1])
	assert.Equal(t, "7", row[20])
	assert.Equal(t, "32767", row[21])
	assert.Equal(t, "-1", row[40])
}

func TestCSV_RecordsSamplesOnly(t *testing.T) {
	var out syncBuffer
	rec, err := NewCSV(&out, 0, nil)
	require.NoError(t, err)
	rec.now = func() time.Time { return time.UnixMilli(42) }

	var sink headset.Sink = rec
	sink.OnBattery(50, 50)
	sink.OnSamples(ramp(0), ramp(100))
	sink.OnWearStatus(headset.Well)
	sink.OnSamples(ramp(1), ramp(101))
	require.NoError(t, rec.Close())

	rows, err := csv.NewReader(strings.NewReader(out.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header(), strings.Join(rows[0], ","))
	assert.Equal(t, "42", rows[1][0])
	assert.Equal(t, "100", rows[1][21])
	assert.Equal(t, "1", rows[2][1])
	assert.Equal(t, int64(2), rec.Rows())
}

func TestCSV_SmallBufferBlocksInsteadOfDropping(t *testing.T) {
	var out syncBuffer
	rec, err := NewCSV(&out, 512, nil)
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		rec.OnSamples(ramp(int16(i)), ramp(0))
	}
	require.NoError(t, rec.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 501)
	assert.Equal(t, int64(0), rec.Dropped())
}

func TestCSV_WriterFailure(t *testing.T) {
	rec, err := NewCSV(failingWriter{}, 1024, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		rec.OnSamples(ramp(0), ramp(0))
		return rec.Dropped() > 0
	}, time.Second, time.Millisecond)

	assert.ErrorContains(t, rec.Close(), "disk full")
	assert.ErrorContains(t, rec.Close(), "disk full", "close is idempotent")
}

func TestCSV_OutputMatchesExpected(t *testing.T) {
	var out syncBuffer
	rec, err := NewCSV(&out, 0, nil)
	require.NoError(t, err)
	rec.now = func() time.Time { return time.UnixMilli(1000) }

	var zero packet.Samples
	rec.OnSamples(zero, zero)
	require.NoError(t, rec.Close())

	expected := Header() + "\n1000" + strings.Repeat(",0", 40) + "\n"
	testutils.NewTextAsserter(t).Assert(out.String(), expected)
}

func TestNewCSV_NilWriter(t *testing.T) {
	_, err := NewCSV(nil, 0, nil)
	assert.Error(t, err)
}
