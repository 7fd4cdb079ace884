package source

import (
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
)

// DefaultProcessPollInterval is used when ProcessMonitorConfig.PollInterval
// is zero.
const DefaultProcessPollInterval = 2 * time.Second

// ProcessMonitorConfig configures the polling process monitor, the
// fallback source for environments without kernel-trace privileges.
type ProcessMonitorConfig struct {
	Name         string
	PollInterval time.Duration
	NameFilter   string // case-insensitive substring filter; empty matches all
	Logger       *logging.Logger
}

// ProcessMonitor periodically enumerates live PIDs via gopsutil/v3/process
// and diffs against the previous snapshot to emit ProcessStarted/Stopped.
type ProcessMonitor struct {
	runState
	cfg    ProcessMonitorConfig
	done   chan struct{}
	stopCh chan struct{}

	mu   sync.Mutex
	seen map[int32]string
}

// NewProcessMonitor builds a ProcessMonitor with the configured (or
// default) poll interval.
func NewProcessMonitor(cfg ProcessMonitorConfig) *ProcessMonitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultProcessPollInterval
	}
	return &ProcessMonitor{cfg: cfg, seen: make(map[int32]string)}
}

func (m *ProcessMonitor) Name() string { return m.cfg.Name }

func (m *ProcessMonitor) Start(emitter Emitter) error {
	if !m.beginStart() {
		return nil
	}
	m.done = make(chan struct{})
	m.stopCh = make(chan struct{})
	go m.loop(emitter, m.done, m.stopCh)
	return nil
}

func (m *ProcessMonitor) loop(emitter Emitter, done, stopCh chan struct{}) {
	defer close(done)

	// The first snapshot establishes a baseline without emitting events.
	m.poll(emitter, true)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.poll(emitter, false)
		case <-stopCh:
			return
		}
	}
}

func (m *ProcessMonitor) poll(emitter Emitter, baseline bool) {
	procs, err := process.Processes()
	if err != nil {
		m.cfg.Logger.WithError(err).Warn("process_monitor: enumerate failed")
		return
	}

	current := make(map[int32]string, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		if m.cfg.NameFilter != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(m.cfg.NameFilter)) {
			continue
		}
		current[p.Pid] = name
	}

	m.mu.Lock()
	previous := m.seen
	m.seen = current
	m.mu.Unlock()

	if baseline {
		return
	}

	for pid, name := range current {
		if _, existed := previous[pid]; !existed {
			evt := event.New(event.KindProcessStarted, m.cfg.Name)
			evt.Process = &event.ProcessData{PID: uint32(pid), Name: name}
			emitter.Emit(evt)
		}
	}
	for pid, name := range previous {
		if _, stillThere := current[pid]; !stillThere {
			evt := event.New(event.KindProcessStopped, m.cfg.Name)
			evt.Process = &event.ProcessData{PID: uint32(pid), Name: name}
			emitter.Emit(evt)
		}
	}
}

func (m *ProcessMonitor) Stop() error {
	m.beginStop(func() {
		if m.stopCh != nil {
			close(m.stopCh)
		}
		if m.done != nil {
			<-m.done
		}
	})
	return nil
}
