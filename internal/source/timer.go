package source

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
)

// DefaultTimerInterval is used when TimerConfig.IntervalSeconds is zero.
const DefaultTimerInterval = 60 * time.Second

// TimerConfig configures a Timer plugin instance.
type TimerConfig struct {
	Name            string
	IntervalSeconds int
	Logger          *logging.Logger
}

// Timer emits TimerTick on a fixed interval. It is stateless between
// ticks. Scheduling is delegated to robfig/cron's second-precision
// scheduler (via an "@every" spec) rather than a hand-rolled
// time.Ticker loop; the scheduler owns the recurring task it runs even
// for a plain fixed interval.
type Timer struct {
	runState
	cfg    TimerConfig
	cron   *cron.Cron
	entryID cron.EntryID
}

// NewTimer builds a Timer plugin with the configured (or default) interval.
func NewTimer(cfg TimerConfig) *Timer {
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = int(DefaultTimerInterval / time.Second)
	}
	return &Timer{cfg: cfg}
}

func (t *Timer) Name() string { return t.cfg.Name }

func (t *Timer) Start(emitter Emitter) error {
	if !t.beginStart() {
		return nil
	}

	c := cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %ds", t.cfg.IntervalSeconds)
	id, err := c.AddFunc(spec, func() {
		if !t.running.Load() {
			return
		}
		emitter.Emit(event.New(event.KindTimerTick, t.cfg.Name))
	})
	if err != nil {
		t.running.Store(false)
		return fmt.Errorf("timer %s: %w", t.cfg.Name, err)
	}
	t.cron = c
	t.entryID = id
	c.Start()
	return nil
}

func (t *Timer) Stop() error {
	t.beginStop(func() {
		if t.cron != nil {
			ctx := t.cron.Stop()
			<-ctx.Done()
		}
	})
	return nil
}
