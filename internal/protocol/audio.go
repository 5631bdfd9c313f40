package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// AudioPrefixSize is the size of the fixed prefix before PCM samples.
const AudioPrefixSize = 12

// ErrShortAudioPayload is returned for audio payloads smaller than the prefix.
var ErrShortAudioPayload = errors.New("audio payload shorter than prefix")

// DecodeType selects sample rate and channel layout of an audio payload.
type DecodeType uint32

// AudioFormat describes a PCM layout.
type AudioFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// FrameSize returns the bytes per sample frame (all channels).
func (f AudioFormat) FrameSize() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSecond returns the PCM data rate.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

func (f AudioFormat) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitsPerSample)
}

// decodeTypes is the explicit decodeType to PCM layout table.
var decodeTypes = map[DecodeType]AudioFormat{
	1: {SampleRate: 44100, Channels: 2, BitsPerSample: 16},
	2: {SampleRate: 44100, Channels: 2, BitsPerSample: 16},
	3: {SampleRate: 8000, Channels: 1, BitsPerSample: 16},
	4: {SampleRate: 48000, Channels: 2, BitsPerSample: 16},
	5: {SampleRate: 16000, Channels: 1, BitsPerSample: 16},
	6: {SampleRate: 24000, Channels: 1, BitsPerSample: 16},
	7: {SampleRate: 16000, Channels: 2, BitsPerSample: 16},
}

// Format returns the PCM layout for the decode type.
func (d DecodeType) Format() (AudioFormat, bool) {
	f, ok := decodeTypes[d]
	return f, ok
}

// AudioType selects the logical audio channel.
type AudioType uint32

// Logical audio channels.
const (
	AudioMain       AudioType = 1
	AudioNavigation AudioType = 2
	AudioMicrophone AudioType = 3
	AudioAlert      AudioType = 4
)

func (a AudioType) String() string {
	switch a {
	case AudioMain:
		return "main"
	case AudioNavigation:
		return "navigation"
	case AudioMicrophone:
		return "microphone"
	case AudioAlert:
		return "alert"
	default:
		return fmt.Sprintf("channel_%d", uint32(a))
	}
}

// AudioCommand is an in-band audio control code carried as a 1-byte tail.
type AudioCommand uint8

// Audio control codes.
const (
	AudioOutputStart     AudioCommand = 1
	AudioOutputStop      AudioCommand = 2
	AudioInputConfig     AudioCommand = 3
	AudioPhonecallStart  AudioCommand = 4
	AudioPhonecallStop   AudioCommand = 5
	AudioNaviStart       AudioCommand = 6
	AudioNaviStop        AudioCommand = 7
	AudioSiriStart       AudioCommand = 8
	AudioSiriStop        AudioCommand = 9
	AudioMediaStart      AudioCommand = 10
	AudioMediaStop       AudioCommand = 11
	AudioAlertStart      AudioCommand = 12
	AudioAlertStop       AudioCommand = 13
	AudioIncomingCallRng AudioCommand = 14
)

// AudioFrame is a parsed AudioData payload.
type AudioFrame struct {
	DecodeType DecodeType
	// Volume is the raw wire value; see VolumeLevel.
	Volume    uint32
	AudioType AudioType
	// Samples is the PCM data. It aliases the message payload.
	Samples []byte

	// Command is set when the tail is a single control byte.
	Command AudioCommand
	// RampDuration is set when the tail is a 4-byte float volume ramp.
	RampDuration float32
	// Control reports that the tail is control data rather than PCM.
	Control bool
}

// VolumeLevel interprets the volume field as the float32 the adapter sends.
func (a AudioFrame) VolumeLevel() float32 {
	return math.Float32frombits(a.Volume)
}

// ParseAudioFrame splits an AudioData payload into prefix fields and tail.
// A 1-byte tail is an AudioCommand and a 4-byte tail a volume ramp; anything
// else is PCM.
func ParseAudioFrame(payload []byte) (AudioFrame, error) {
	if len(payload) < AudioPrefixSize {
		return AudioFrame{}, fmt.Errorf("%w: %d bytes", ErrShortAudioPayload, len(payload))
	}
	a := AudioFrame{
		DecodeType: DecodeType(binary.LittleEndian.Uint32(payload[0:4])),
		Volume:     binary.LittleEndian.Uint32(payload[4:8]),
		AudioType:  AudioType(binary.LittleEndian.Uint32(payload[8:12])),
	}
	tail := payload[AudioPrefixSize:]
	switch len(tail) {
	case 1:
		a.Control = true
		a.Command = AudioCommand(tail[0])
	case 4:
		a.Control = true
		a.RampDuration = math.Float32frombits(binary.LittleEndian.Uint32(tail))
	default:
		a.Samples = tail
	}
	return a, nil
}

// AppendAudioFrame appends the wire encoding of a PCM audio frame to b.
func AppendAudioFrame(b []byte, a AudioFrame) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(a.DecodeType))
	b = binary.LittleEndian.AppendUint32(b, a.Volume)
	b = binary.LittleEndian.AppendUint32(b, uint32(a.AudioType))
	return append(b, a.Samples...)
}
