package source

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
)

// KernelTraceConfig configures a KernelTraceMonitor plugin instance.
type KernelTraceConfig struct {
	Name string
	// SessionPrefix names the ETW session; the actual session name is
	// SessionPrefix + "-" + a fresh UUID, so repeated starts never
	// collide with a still-draining previous session.
	SessionPrefix string
	Thread        bool // enable the kernel thread provider
	File          bool // enable the kernel file-io provider
	Network       bool // enable the kernel network (tcpip) provider
	Logger        *logging.Logger
}

func (c KernelTraceConfig) sessionName() string {
	prefix := c.SessionPrefix
	if prefix == "" {
		prefix = "win-event-engine"
	}
	return prefix + "-" + uuid.New().String()
}

// NewKernelTraceMonitor builds the platform-specific kernel trace plugin.
func NewKernelTraceMonitor(cfg KernelTraceConfig) (*KernelTraceMonitor, error) {
	return newKernelTraceMonitor(cfg)
}

// recordKind tags the classic (manifest-free) kernel provider event a raw
// UserData buffer was captured from, selecting which fixed-offset layout
// applies below.
type recordKind uint8

const (
	recordProcessStart recordKind = iota + 1
	recordProcessStop
	recordThreadStart
	recordThreadStop
	recordFileIO
	recordNetworkCreated
	recordNetworkClosed
)

var errShortBuffer = errors.New("kernel_trace: record buffer too short")

// parseRecord decodes a raw UserData buffer from a classic kernel ETW
// provider per the layouts below. Short buffers are rejected outright
// rather than partially parsed.
//
//	ProcessStart:  PID u32 | ParentPID u32 | SessionID u32 | ImageName NUL-UTF16 | CommandLine count-prefixed-UTF16
//	ProcessStop:   PID u32 | ExitCode i32  | ImageName NUL-UTF16
//	ThreadStart:   PID u32 | TID u32       | StartAddress u64
//	ThreadStop:    PID u32 | TID u32
//	FileIO:        PID u32 | ByteCount u64 | Path NUL-UTF16
//	NetworkCreated/Closed: PID u32 | SourceAddr [16]byte | SourcePort u16 | DestAddr [16]byte | DestPort u16 | Protocol u8
func parseRecord(kind recordKind, name string, buf []byte) (*event.Event, error) {
	switch kind {
	case recordProcessStart:
		if len(buf) < 13 {
			return nil, errShortBuffer
		}
		pid := binary.LittleEndian.Uint32(buf[0:4])
		ppid := binary.LittleEndian.Uint32(buf[4:8])
		sessionID := binary.LittleEndian.Uint32(buf[8:12])
		image, next, err := readUTF16NullTerminated(buf, 12)
		if err != nil {
			return nil, err
		}
		cmdline, _, err := readUTF16CountPrefixed(buf, next)
		if err != nil {
			return nil, err
		}
		evt := event.New(event.KindProcessStarted, name)
		evt.Process = &event.ProcessData{
			PID: pid, ParentPID: ppid, Name: image, CommandLine: cmdline, SessionID: sessionID,
		}
		return evt, nil

	case recordProcessStop:
		if len(buf) < 8 {
			return nil, errShortBuffer
		}
		pid := binary.LittleEndian.Uint32(buf[0:4])
		exitCode := int32(binary.LittleEndian.Uint32(buf[4:8]))
		image, _, _ := readUTF16NullTerminated(buf, 8)
		evt := event.New(event.KindProcessStopped, name)
		evt.Process = &event.ProcessData{PID: pid, Name: image, ExitCode: &exitCode}
		return evt, nil

	case recordThreadStart:
		if len(buf) < 16 {
			return nil, errShortBuffer
		}
		pid := binary.LittleEndian.Uint32(buf[0:4])
		tid := binary.LittleEndian.Uint32(buf[4:8])
		startAddr := binary.LittleEndian.Uint64(buf[8:16])
		evt := event.New(event.KindThreadCreated, name)
		evt.Thread = &event.ThreadData{PID: pid, TID: tid, StartAddress: &startAddr}
		return evt, nil

	case recordThreadStop:
		if len(buf) < 8 {
			return nil, errShortBuffer
		}
		pid := binary.LittleEndian.Uint32(buf[0:4])
		tid := binary.LittleEndian.Uint32(buf[4:8])
		evt := event.New(event.KindThreadDestroyed, name)
		evt.Thread = &event.ThreadData{PID: pid, TID: tid}
		return evt, nil

	case recordFileIO:
		if len(buf) < 12 {
			return nil, errShortBuffer
		}
		pid := binary.LittleEndian.Uint32(buf[0:4])
		count := binary.LittleEndian.Uint64(buf[4:12])
		path, _, err := readUTF16NullTerminated(buf, 12)
		if err != nil {
			return nil, err
		}
		evt := event.New(event.KindIoRead, name)
		evt.IO = &event.IOData{PID: pid, Path: path, Counts: &count}
		return evt, nil

	case recordNetworkCreated, recordNetworkClosed:
		if len(buf) < 4+16+2+16+2+1 {
			return nil, errShortBuffer
		}
		pid := binary.LittleEndian.Uint32(buf[0:4])
		srcIP := formatIP(buf[4:20])
		srcPort := binary.LittleEndian.Uint16(buf[20:22])
		dstIP := formatIP(buf[22:38])
		dstPort := binary.LittleEndian.Uint16(buf[38:40])
		proto := protocolName(buf[40])

		k := event.KindNetworkConnectionCreated
		if kind == recordNetworkClosed {
			k = event.KindNetworkConnectionClosed
		}
		evt := event.New(k, name)
		evt.Network = &event.NetworkData{
			PID: pid, SourceIP: srcIP, SourcePort: srcPort, DestIP: dstIP, DestPort: dstPort, Protocol: proto,
		}
		return evt, nil

	default:
		return nil, fmt.Errorf("kernel_trace: unknown record kind %d", kind)
	}
}

// formatIP renders a 16-byte address. An IPv4-mapped address (first 10
// bytes zero, bytes 10-11 equal to 0xFFFF) is rendered as a dotted quad;
// otherwise it is rendered as eight colon-separated 16-bit hex groups.
func formatIP(addr []byte) string {
	isV4Mapped := true
	for i := 0; i < 10; i++ {
		if addr[i] != 0 {
			isV4Mapped = false
			break
		}
	}
	if isV4Mapped && addr[10] == 0xFF && addr[11] == 0xFF {
		return fmt.Sprintf("%d.%d.%d.%d", addr[12], addr[13], addr[14], addr[15])
	}

	groups := make([]string, 8)
	for i := 0; i < 8; i++ {
		groups[i] = fmt.Sprintf("%x", binary.BigEndian.Uint16(addr[i*2:i*2+2]))
	}
	out := groups[0]
	for _, g := range groups[1:] {
		out += ":" + g
	}
	return out
}

// protocolName maps an IP protocol number to its display name; 6 is TCP,
// 17 is UDP, anything else renders as "Other(n)".
func protocolName(b byte) string {
	switch b {
	case 6:
		return "TCP"
	case 17:
		return "UDP"
	default:
		return fmt.Sprintf("Other(%d)", b)
	}
}

// readUTF16NullTerminated scans UTF-16LE code units from offset until a
// 0x0000 unit or the end of buf, returning the decoded string and the
// offset immediately past the terminator.
func readUTF16NullTerminated(buf []byte, offset int) (string, int, error) {
	if offset > len(buf) {
		return "", offset, errShortBuffer
	}
	var units []uint16
	i := offset
	for i+1 < len(buf) {
		u := binary.LittleEndian.Uint16(buf[i : i+2])
		i += 2
		if u == 0 {
			return decodeUTF16(units), i, nil
		}
		units = append(units, u)
	}
	// Buffer ended without a terminator; treat what we have as the value.
	return decodeUTF16(units), i, nil
}

// readUTF16CountPrefixed reads a little-endian uint16 code-unit count
// followed by that many UTF-16LE code units.
func readUTF16CountPrefixed(buf []byte, offset int) (string, int, error) {
	if offset+2 > len(buf) {
		return "", offset, errShortBuffer
	}
	count := int(binary.LittleEndian.Uint16(buf[offset : offset+2]))
	start := offset + 2
	end := start + count*2
	if end > len(buf) {
		return "", offset, errShortBuffer
	}
	units := make([]uint16, count)
	for i := 0; i < count; i++ {
		units[i] = binary.LittleEndian.Uint16(buf[start+i*2 : start+i*2+2])
	}
	return decodeUTF16(units), end, nil
}

func decodeUTF16(units []uint16) string {
	runes := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		r := rune(units[i])
		if r >= 0xD800 && r <= 0xDBFF && i+1 < len(units) {
			r2 := rune(units[i+1])
			if r2 >= 0xDC00 && r2 <= 0xDFFF {
				r = ((r - 0xD800) << 10) + (r2 - 0xDC00) + 0x10000
				i++
			}
		}
		runes = append(runes, r)
	}
	return string(runes)
}
