package protocol

import (
	"fmt"
	"strings"
)

// MessageType identifies the payload carried by a message.
type MessageType uint32

// Message types exchanged with the adapter.
const (
	TypeOpen                MessageType = 0x01
	TypePlugged             MessageType = 0x02
	TypePhase               MessageType = 0x03
	TypeUnplugged           MessageType = 0x04
	TypeTouch               MessageType = 0x05
	TypeVideoData           MessageType = 0x06
	TypeAudioData           MessageType = 0x07
	TypeCommand             MessageType = 0x08
	TypeLogoType            MessageType = 0x09
	TypeBluetoothAddress    MessageType = 0x0A
	TypeBluetoothPIN        MessageType = 0x0C
	TypeBluetoothDeviceName MessageType = 0x0D
	TypeWifiDeviceName      MessageType = 0x0E
	TypeDisconnectPhone     MessageType = 0x0F
	TypeBluetoothPairedList MessageType = 0x12
	TypeManufacturerInfo    MessageType = 0x14
	TypeCloseDongle         MessageType = 0x15
	TypeMultiTouch          MessageType = 0x17
	TypeHiCarLink           MessageType = 0x18
	TypeBoxSettings         MessageType = 0x19
	TypeMediaData           MessageType = 0x2A
	TypeSendFile            MessageType = 0x99
	TypeHeartBeat           MessageType = 0xAA
	TypeSoftwareVersion     MessageType = 0xCC
)

// messageTypeNames is the explicit wire-value to name table. Names are part
// of the capture index format and must stay stable.
var messageTypeNames = map[MessageType]string{
	TypeOpen:                "Open",
	TypePlugged:             "Plugged",
	TypePhase:               "Phase",
	TypeUnplugged:           "Unplugged",
	TypeTouch:               "Touch",
	TypeVideoData:           "VideoData",
	TypeAudioData:           "AudioData",
	TypeCommand:             "Command",
	TypeLogoType:            "LogoType",
	TypeBluetoothAddress:    "BluetoothAddress",
	TypeBluetoothPIN:        "BluetoothPIN",
	TypeBluetoothDeviceName: "BluetoothDeviceName",
	TypeWifiDeviceName:      "WifiDeviceName",
	TypeDisconnectPhone:     "DisconnectPhone",
	TypeBluetoothPairedList: "BluetoothPairedList",
	TypeManufacturerInfo:    "ManufacturerInfo",
	TypeCloseDongle:         "CloseDongle",
	TypeMultiTouch:          "MultiTouch",
	TypeHiCarLink:           "HiCarLink",
	TypeBoxSettings:         "BoxSettings",
	TypeMediaData:           "MediaData",
	TypeSendFile:            "SendFile",
	TypeHeartBeat:           "HeartBeat",
	TypeSoftwareVersion:     "SoftwareVersion",
}

var messageTypesByName = func() map[string]MessageType {
	m := make(map[string]MessageType, len(messageTypeNames))
	for t, name := range messageTypeNames {
		m[strings.ToLower(name)] = t
	}
	return m
}()

// String returns the stable name of the message type, or a hex form for
// values outside the table.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint32(t))
}

// Known reports whether the type is in the message table.
func (t MessageType) Known() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// ParseMessageType resolves a message type name (case-insensitive) back to
// its wire value.
func ParseMessageType(name string) (MessageType, bool) {
	t, ok := messageTypesByName[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// CommandCode is the value carried in a Command message payload.
type CommandCode uint32

// Command codes used by the outbound command layer.
const (
	CommandStartRecordAudio CommandCode = 1
	CommandStopRecordAudio  CommandCode = 2
	CommandRequestHost      CommandCode = 3
	CommandSiri             CommandCode = 5
	CommandMicrophone       CommandCode = 7
	CommandRequestKeyframe  CommandCode = 12
	CommandAudioTransferOn  CommandCode = 22
	CommandAudioTransferOff CommandCode = 23
	CommandWifiEnable       CommandCode = 1000
	CommandWifiConnected    CommandCode = 1002
	CommandWifiDisconnected CommandCode = 1003
)

var commandNames = map[CommandCode]string{
	CommandStartRecordAudio: "StartRecordAudio",
	CommandStopRecordAudio:  "StopRecordAudio",
	CommandRequestHost:      "RequestHost",
	CommandSiri:             "Siri",
	CommandMicrophone:       "Microphone",
	CommandRequestKeyframe:  "RequestKeyframe",
	CommandAudioTransferOn:  "AudioTransferOn",
	CommandAudioTransferOff: "AudioTransferOff",
	CommandWifiEnable:       "WifiEnable",
	CommandWifiConnected:    "WifiConnected",
	CommandWifiDisconnected: "WifiDisconnected",
}

// String returns the command name.
func (c CommandCode) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", uint32(c))
}
