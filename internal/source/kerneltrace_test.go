package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecordProcessStart(t *testing.T) {
	buf := make([]byte, 0, 32)
	buf = append(buf, le32(4242)...)
	buf = append(buf, le32(1)...)
	buf = append(buf, le32(7)...)
	buf = append(buf, utf16NullTerminated("app.exe")...)
	buf = append(buf, utf16CountPrefixed("--flag")...)

	evt, err := parseRecord(recordProcessStart, "kt1", buf)
	require.NoError(t, err)
	require.NotNil(t, evt.Process)
	assert.Equal(t, uint32(4242), evt.Process.PID)
	assert.Equal(t, "app.exe", evt.Process.Name)
	assert.Equal(t, "--flag", evt.Process.CommandLine)
}

func TestParseRecordShortBufferIsRejected(t *testing.T) {
	_, err := parseRecord(recordThreadStart, "kt1", []byte{1, 2, 3})
	assert.ErrorIs(t, err, errShortBuffer)
}

func TestParseRecordNetworkCreatedV4Mapped(t *testing.T) {
	buf := make([]byte, 0, 41)
	buf = append(buf, le32(10)...)
	src := make([]byte, 16)
	src[10], src[11] = 0xFF, 0xFF
	src[12], src[13], src[14], src[15] = 10, 0, 0, 1
	buf = append(buf, src...)
	buf = append(buf, le16(8080)...)
	dst := make([]byte, 16)
	dst[10], dst[11] = 0xFF, 0xFF
	dst[12], dst[13], dst[14], dst[15] = 93, 184, 216, 34
	buf = append(buf, dst...)
	buf = append(buf, le16(443)...)
	buf = append(buf, 6) // TCP

	evt, err := parseRecord(recordNetworkCreated, "kt1", buf)
	require.NoError(t, err)
	require.NotNil(t, evt.Network)
	assert.Equal(t, "10.0.0.1", evt.Network.SourceIP)
	assert.Equal(t, "93.184.216.34", evt.Network.DestIP)
	assert.Equal(t, "TCP", evt.Network.Protocol)
}

func TestFormatIPNonV4Mapped(t *testing.T) {
	addr := []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	assert.Equal(t, "2001:db8:0:0:0:0:0:1", formatIP(addr))
}

func TestProtocolNameKnownAndFallback(t *testing.T) {
	assert.Equal(t, "TCP", protocolName(6))
	assert.Equal(t, "UDP", protocolName(17))
	assert.Equal(t, "Other(99)", protocolName(99))
}

func TestDecodeUTF16HandlesSurrogatePair(t *testing.T) {
	units := []uint16{0xD83D, 0xDE00} // U+1F600 GRINNING FACE
	assert.Equal(t, "\U0001F600", decodeUTF16(units))
}

func TestReadUTF16NullTerminatedStopsAtTerminator(t *testing.T) {
	buf := utf16NullTerminated("hi")
	buf = append(buf, 0xAA, 0xBB) // trailing garbage past the terminator
	s, next, err := readUTF16NullTerminated(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
	assert.Equal(t, len("hi")*2+2, next)
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func le16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

func utf16NullTerminated(s string) []byte {
	var out []byte
	for _, r := range s {
		out = append(out, le16(uint16(r))...)
	}
	out = append(out, 0, 0)
	return out
}

func utf16CountPrefixed(s string) []byte {
	runes := []rune(s)
	out := le16(uint16(len(runes)))
	for _, r := range runes {
		out = append(out, le16(uint16(r))...)
	}
	return out
}
