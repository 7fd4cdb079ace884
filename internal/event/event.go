// Package event defines the immutable Event value and its closed set of
// variant kinds produced by source plugins and consumed by the dispatch loop.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies which variant an Event carries. The set is closed; an
// unrecognized kind read back from config or script code must be rejected
// at parse time, never at dispatch time.
type Kind string

const (
	KindFileCreated  Kind = "file_created"
	KindFileModified Kind = "file_modified"
	KindFileDeleted  Kind = "file_deleted"
	KindFileRenamed  Kind = "file_renamed"

	KindWindowCreated   Kind = "window_created"
	KindWindowDestroyed Kind = "window_destroyed"
	KindWindowFocused   Kind = "window_focused"
	KindWindowUnfocused Kind = "window_unfocused"

	KindProcessStarted Kind = "process_started"
	KindProcessStopped Kind = "process_stopped"

	KindThreadCreated   Kind = "thread_created"
	KindThreadDestroyed Kind = "thread_destroyed"

	KindFileAccessed Kind = "file_accessed"
	KindIoRead       Kind = "io_read"
	KindIoWrite      Kind = "io_write"
	KindIoDelete     Kind = "io_delete"

	KindNetworkConnectionCreated Kind = "network_connection_created"
	KindNetworkConnectionClosed  Kind = "network_connection_closed"

	KindRegistryChanged Kind = "registry_changed"

	KindTimerTick Kind = "timer_tick"
)

// Valid reports whether k is a member of the closed Kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindFileCreated, KindFileModified, KindFileDeleted, KindFileRenamed,
		KindWindowCreated, KindWindowDestroyed, KindWindowFocused, KindWindowUnfocused,
		KindProcessStarted, KindProcessStopped,
		KindThreadCreated, KindThreadDestroyed,
		KindFileAccessed, KindIoRead, KindIoWrite, KindIoDelete,
		KindNetworkConnectionCreated, KindNetworkConnectionClosed,
		KindRegistryChanged, KindTimerTick:
		return true
	default:
		return false
	}
}

// RegistryChangeKind classifies the mutation observed on a registry key.
type RegistryChangeKind string

const (
	RegistryChangeCreated  RegistryChangeKind = "created"
	RegistryChangeModified RegistryChangeKind = "modified"
	RegistryChangeDeleted  RegistryChangeKind = "deleted"
)

// FileData carries the fields common to all file-system event kinds.
type FileData struct {
	Path     string
	OldPath  string // set only for FileRenamed
	Filename string // final path component, cached at construction
}

// WindowData carries the fields common to all window event kinds.
type WindowData struct {
	Handle    uintptr
	Title     string
	ProcessID uint32
}

// ProcessData carries process lifecycle fields.
type ProcessData struct {
	PID         uint32
	ParentPID   uint32
	Name        string
	Path        string
	CommandLine string
	SessionID   uint32
	User        string
	ExitCode    *int32 // set only for ProcessStopped, nil when unknown
}

// ThreadData carries thread lifecycle fields.
type ThreadData struct {
	PID          uint32
	TID          uint32
	StartAddress *uint64
}

// IOData carries file I/O fields attributed to a process.
type IOData struct {
	PID    uint32
	Path   string
	Counts *uint64
}

// NetworkData carries a 4-tuple network connection event.
type NetworkData struct {
	PID           uint32
	SourceIP      string
	SourcePort    uint16
	DestIP        string
	DestPort      uint16
	Protocol      string // "TCP", "UDP", or "Other(n)"
}

// RegistryData carries a registry mutation.
type RegistryData struct {
	Root       string
	Key        string
	ValueName  string
	ChangeKind RegistryChangeKind
	PID        uint32
	ProcessName string
}

// Event is an immutable, fully-constructed observation handed from a source
// plugin to the dispatch loop. At most one of the *Data fields is populated,
// selected by Kind (TimerTick carries none); Metadata is additive context,
// though the window matcher's process-name filter reads its "process_name"
// entry.
type Event struct {
	ID        string
	Timestamp time.Time
	Kind      Kind
	Source    string
	Metadata  map[string]string

	File     *FileData
	Window   *WindowData
	Process  *ProcessData
	Thread   *ThreadData
	IO       *IOData
	Network  *NetworkData
	Registry *RegistryData
}

// New constructs an Event with a fresh identifier and capture timestamp.
// It panics if kind is not a member of the closed Kind set, since that
// would violate the single-kind invariant before the event is ever observed.
func New(kind Kind, source string) *Event {
	if !kind.Valid() {
		panic("event: unknown kind " + string(kind))
	}
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Kind:      kind,
		Source:    source,
		Metadata:  make(map[string]string),
	}
}

// WithMetadata sets a metadata key and returns the event for chaining.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Clone returns a deep copy of the event suitable for handing to a dispatch
// task snapshot without risk of mutation across goroutines.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Metadata = make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		clone.Metadata[k] = v
	}
	if e.File != nil {
		f := *e.File
		clone.File = &f
	}
	if e.Window != nil {
		w := *e.Window
		clone.Window = &w
	}
	if e.Process != nil {
		p := *e.Process
		clone.Process = &p
	}
	if e.Thread != nil {
		t := *e.Thread
		clone.Thread = &t
	}
	if e.IO != nil {
		i := *e.IO
		clone.IO = &i
	}
	if e.Network != nil {
		n := *e.Network
		clone.Network = &n
	}
	if e.Registry != nil {
		r := *e.Registry
		clone.Registry = &r
	}
	return &clone
}
