package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/collector"
	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/recorder"
	"github.com/srg/eegbuds/internal/testutils"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(e headset.Event) collector.Record {
	return collector.Record{Time: at, Event: e}
}

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	write, err := New(FormatJSON, &buf)
	require.NoError(t, err)

	var left, right headset.Samples
	left[0], right[19] = -5, 9
	require.NoError(t, write([]collector.Record{
		rec(headset.Event{Kind: headset.EventConnected, Role: headset.Right}),
		rec(headset.Event{Kind: headset.EventInfo, Role: headset.Left, InfoKind: device.KindSerialNumber, Text: "SN-1"}),
		rec(headset.Event{Kind: headset.EventBattery, LeftBattery: 0, RightBattery: 80}),
		rec(headset.Event{Kind: headset.EventSamples, Left: left, Right: right}),
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	ja := testutils.NewJSONAsserter(t).WithOptions(testutils.WithIgnoredFields("time"))
	ja.Assert(lines[0], `{"kind":"connected","role":"right"}`)
	ja.Assert(lines[1], `{"kind":"info","role":"left","info":"`+device.KindSerialNumber.String()+`","text":"SN-1"}`)
	ja.Assert(lines[2], `{"kind":"battery","leftBattery":0,"rightBattery":80}`)
	assert.Contains(t, lines[3], `"left":[-5,0,`)
	assert.Contains(t, lines[3], `,0,9]`)
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	write, err := New(FormatText, &buf)
	require.NoError(t, err)

	require.NoError(t, write([]collector.Record{
		rec(headset.Event{Kind: headset.EventWearStatus, Status: headset.LeftLost}),
		rec(headset.Event{Kind: headset.EventSetNotifyReady}),
	}))

	testutils.NewTextAsserter(t).Assert(buf.String(),
		"12:00:00.000 wear_status left_lost\n12:00:00.000 set_notify_ready\n")
}

func TestCSV_SamplesOnlyWithHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	write, err := New(FormatCSV, &buf)
	require.NoError(t, err)

	var s headset.Samples
	require.NoError(t, write([]collector.Record{
		rec(headset.Event{Kind: headset.EventBattery}),
		rec(headset.Event{Kind: headset.EventSamples, Left: s, Right: s}),
	}))
	require.NoError(t, write([]collector.Record{
		rec(headset.Event{Kind: headset.EventSamples, Left: s, Right: s}),
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, recorder.Header(), lines[0])
	assert.Equal(t, recorder.FormatRow(at, s, s), lines[1])
}

func TestNew_Errors(t *testing.T) {
	_, err := New("xml", &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown format")

	_, err = New(FormatJSON, nil)
	assert.Error(t, err)
}

func TestMarshal(t *testing.T) {
	b, err := Marshal(rec(headset.Event{Kind: headset.EventDeviceFound, Name: "Buds L", ID: "AA", RSSI: -40}))
	require.NoError(t, err)
	testutils.NewJSONAsserter(t).Assert(string(b),
		`{"time":"2026-03-01T12:00:00Z","kind":"device_found","name":"Buds L","id":"AA","rssi":-40}`)
}
