// Package packet decodes the binary payloads pushed by an EEG earpiece.
//
// The stream characteristic carries fixed 82-byte frames:
//
//	offset  len  field
//	0       1    sequence index (0 marks the once-per-second status tick)
//	1       1    raw wear-status code (0-3)
//	2       40   left samples, 20 x big-endian int16
//	42      40   right samples, 20 x big-endian int16
//
// All functions in this package are pure and safe for concurrent use.
package packet

import (
	"encoding/binary"
	"unicode/utf8"
)

const (
	// FrameSize is the exact length of a stream notification payload.
	FrameSize = 82

	// SamplesPerBlock is the number of int16 samples carried per side in a frame.
	SamplesPerBlock = 20

	// BlockSize is the byte length of one side's sample block.
	BlockSize = SamplesPerBlock * 2

	// BatterySize is the exact length of a battery level payload.
	BatterySize = 1

	// CommandSize is the length of a mode characteristic command.
	CommandSize = 20

	leftOffset  = 2
	rightOffset = leftOffset + BlockSize
)

// Samples is one side's block of EEG samples.
type Samples [SamplesPerBlock]int16

// Side selects which sample block of a frame belongs to an earpiece.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

// Frame is a decoded stream notification.
type Frame struct {
	Index  uint8
	Status uint8
	Left   Samples
	Right  Samples
}

// IsTick reports whether the frame is the once-per-second status frame.
func (f Frame) IsTick() bool {
	return f.Index == 0
}

// Samples returns the block that belongs to the given side.
func (f Frame) Samples(side Side) Samples {
	if side == SideRight {
		return f.Right
	}
	return f.Left
}

// DecodeFrame decodes an 82-byte stream payload.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, badLength("frame", FrameSize, len(b))
	}

	f := Frame{
		Index:  b[0],
		Status: b[1],
	}
	f.Left = decodeBlock(b[leftOffset:rightOffset])
	f.Right = decodeBlock(b[rightOffset:FrameSize])
	return f, nil
}

// DecodeBattery decodes a battery level payload. The value is returned
// verbatim; devices report 0-100 but the range is not enforced.
func DecodeBattery(b []byte) (uint8, error) {
	if len(b) != BatterySize {
		return 0, badLength("battery", BatterySize, len(b))
	}
	return b[0], nil
}

// DecodeText decodes a device-information string.
func DecodeText(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", &DecodeError{Kind: InvalidText, What: "text", Got: len(b)}
	}
	return string(b), nil
}

// EncodeSamples encodes a sample block as 40 big-endian bytes.
func EncodeSamples(s Samples) []byte {
	buf := make([]byte, BlockSize)
	for i, v := range s {
		binary.BigEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// EncodeFrame is the inverse of DecodeFrame.
func EncodeFrame(f Frame) []byte {
	buf := make([]byte, 0, FrameSize)
	buf = append(buf, f.Index, f.Status)
	buf = append(buf, EncodeSamples(f.Left)...)
	buf = append(buf, EncodeSamples(f.Right)...)
	return buf
}

func decodeBlock(b []byte) Samples {
	var s Samples
	for i := range s {
		s[i] = int16(binary.BigEndian.Uint16(b[i*2:]))
	}
	return s
}

var (
	startCommand = [CommandSize]byte{
		0x77, 0x01, 0x01, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0xFD,
	}
	stopCommand = [CommandSize]byte{
		0x77, 0x01, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0xFE,
	}
)

// StartCommand returns the mode payload that starts EEG streaming.
func StartCommand() []byte {
	b := startCommand
	return b[:]
}

// StopCommand returns the mode payload that stops EEG streaming.
func StopCommand() []byte {
	b := stopCommand
	return b[:]
}

// IsStartCommand reports whether b is the start payload.
func IsStartCommand(b []byte) bool {
	return len(b) == CommandSize && [CommandSize]byte(b) == startCommand
}

// IsStopCommand reports whether b is the stop payload.
func IsStopCommand(b []byte) bool {
	return len(b) == CommandSize && [CommandSize]byte(b) == stopCommand
}
