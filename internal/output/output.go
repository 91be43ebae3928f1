// Package output renders collected headset records as text, JSON lines or CSV.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/collector"
	"github.com/srg/eegbuds/internal/recorder"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Event is the JSON form of a record. Fields irrelevant to Kind are omitted.
type Event struct {
	Time  time.Time `json:"time"`
	Kind  string    `json:"kind"`
	Name  string    `json:"name,omitempty"`
	ID    string    `json:"id,omitempty"`
	RSSI  int       `json:"rssi,omitempty"`
	Role  string    `json:"role,omitempty"`
	Error string    `json:"reason,omitempty"`
	Info  string    `json:"info,omitempty"`
	Text  string    `json:"text,omitempty"`

	Status string  `json:"status,omitempty"`
	Left   []int16 `json:"left,omitempty"`
	Right  []int16 `json:"right,omitempty"`

	LeftBattery  *uint8 `json:"leftBattery,omitempty"`
	RightBattery *uint8 `json:"rightBattery,omitempty"`
	Adapter      string `json:"adapter,omitempty"`
}

// FromRecord converts r to its JSON form.
func FromRecord(r collector.Record) Event {
	e := r.Event
	out := Event{Time: r.Time, Kind: e.Kind.String()}
	switch e.Kind {
	case headset.EventDeviceFound:
		out.Name, out.ID, out.RSSI = e.Name, string(e.ID), e.RSSI
	case headset.EventConnected:
		out.Role = e.Role.String()
	case headset.EventConnectFailed:
		out.Error = e.Reason
	case headset.EventInfo:
		out.Role, out.Info, out.Text = e.Role.String(), e.InfoKind.String(), e.Text
	case headset.EventWearStatus:
		out.Status = e.Status.String()
	case headset.EventSamples:
		out.Left = append([]int16(nil), e.Left[:]...)
		out.Right = append([]int16(nil), e.Right[:]...)
	case headset.EventBattery:
		l, r := e.LeftBattery, e.RightBattery
		out.LeftBattery, out.RightBattery = &l, &r
	case headset.EventAdapterState:
		out.Adapter = e.State.String()
	}
	return out
}

// Marshal encodes r as one JSON object without a trailing newline.
func Marshal(r collector.Record) ([]byte, error) {
	return json.Marshal(FromRecord(r))
}

// New returns a collector.WriteFunc rendering batches in format onto w.
// Colors are applied in text format only, and only when color is enabled
// globally (see color.NoColor).
func New(format string, w io.Writer) (collector.WriteFunc, error) {
	if w == nil {
		return nil, fmt.Errorf("output: nil writer")
	}
	switch format {
	case FormatText, "":
		return textWriter(w), nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		return func(batch []collector.Record) error {
			for _, r := range batch {
				if err := enc.Encode(FromRecord(r)); err != nil {
					return err
				}
			}
			return nil
		}, nil
	case FormatCSV:
		return csvWriter(w), nil
	default:
		return nil, fmt.Errorf("output: unknown format %q (expected text, json or csv)", format)
	}
}

var (
	kindColor = map[headset.EventKind]*color.Color{
		headset.EventConnected:      color.New(color.FgGreen),
		headset.EventSetNotifyReady: color.New(color.FgGreen, color.Bold),
		headset.EventDisconnected:   color.New(color.FgYellow),
		headset.EventConnectFailed:  color.New(color.FgRed),
		headset.EventWearStatus:     color.New(color.FgCyan),
		headset.EventBattery:        color.New(color.FgMagenta),
	}
	timeColor = color.New(color.Faint)
)

func textWriter(w io.Writer) collector.WriteFunc {
	return func(batch []collector.Record) error {
		var b strings.Builder
		for _, r := range batch {
			b.WriteString(timeColor.Sprint(r.Time.Format("15:04:05.000")))
			b.WriteByte(' ')
			line := r.Event.String()
			if c, ok := kindColor[r.Event.Kind]; ok {
				line = c.Sprint(line)
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		_, err := io.WriteString(w, b.String())
		return err
	}
}

// csvWriter emits the recorder header once, then one row per samples record.
func csvWriter(w io.Writer) collector.WriteFunc {
	var header sync.Once
	return func(batch []collector.Record) error {
		var b strings.Builder
		header.Do(func() {
			b.WriteString(recorder.Header())
			b.WriteByte('\n')
		})
		for _, r := range batch {
			if r.Event.Kind != headset.EventSamples {
				continue
			}
			b.WriteString(recorder.FormatRow(r.Time, r.Event.Left, r.Event.Right))
			b.WriteByte('\n')
		}
		if b.Len() == 0 {
			return nil
		}
		_, err := io.WriteString(w, b.String())
		return err
	}
}
