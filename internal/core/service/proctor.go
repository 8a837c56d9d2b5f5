package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skillgate/roomkit/internal/core/domain"
	"github.com/skillgate/roomkit/internal/core/port"
)

// MonitorConfig carries the proctoring heuristics. The thresholds tune
// false-positive rates and are expected to be revisited, so they are
// configuration, not constants.
type MonitorConfig struct {
	RapidInjectionChars int
	IdleThreshold       time.Duration
	IdleCheckInterval   time.Duration
	KeyboardRhythmCap   int
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		RapidInjectionChars: 50,
		IdleThreshold:       30 * time.Second,
		IdleCheckInterval:   5 * time.Second,
		KeyboardRhythmCap:   200,
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	d := DefaultMonitorConfig()
	if c.RapidInjectionChars <= 0 {
		c.RapidInjectionChars = d.RapidInjectionChars
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = d.IdleThreshold
	}
	if c.IdleCheckInterval <= 0 {
		c.IdleCheckInterval = d.IdleCheckInterval
	}
	if c.KeyboardRhythmCap <= 0 {
		c.KeyboardRhythmCap = d.KeyboardRhythmCap
	}
	return c
}

// Monitor aggregates behavioral signals for one proctored attempt into
// a scored report. It is purely reactive: fired events plus a fixed
// cadence idle check, nothing else. It never returns errors; a signal
// source that is absent simply leaves its counter at zero.
type Monitor struct {
	mu    sync.Mutex
	cfg   MonitorConfig
	clock port.Clock

	active bool
	ticker port.Ticker
	stop   chan struct{}

	tabSwitches     int
	focusLosses     int
	pasteAttempts   int
	rapidInjections int
	idlePeriods     int
	idleGaps        []float64
	totalIdleTime   float64
	rhythm          []domain.KeyEvent
	events          []domain.IntegrityEvent

	lastActivity time.Time
	idleStart    time.Time // zero while no span is open

	prevTextLen int

	questions []domain.QuestionTiming
}

func NewMonitor(cfg MonitorConfig, clock port.Clock) *Monitor {
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &Monitor{
		cfg:   cfg.withDefaults(),
		clock: clock,
	}
}

// SetActive attaches or detaches the monitor. Deactivating stops the
// idle ticker; a timer leaking past deactivation would pollute a later
// attempt's report.
func (m *Monitor) SetActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if active == m.active {
		return
	}
	m.active = active

	if active {
		m.lastActivity = m.clock.Now()
		m.ticker = m.clock.NewTicker(m.cfg.IdleCheckInterval)
		m.stop = make(chan struct{})
		go m.idleLoop(m.ticker, m.stop)
		return
	}

	m.ticker.Stop()
	close(m.stop)
	m.ticker = nil
	m.stop = nil
}

func (m *Monitor) idleLoop(ticker port.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			m.CheckIdle()
		}
	}
}

// CheckIdle runs one idle inspection immediately. The ticker started by
// SetActive calls this on its cadence; hosts with their own scheduler
// may call it directly.
func (m *Monitor) CheckIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkIdleLocked(m.clock.Now())
}

// checkIdleLocked opens an idle span when no activity has been seen for
// the threshold. The span starts at the last activity, not at the tick
// that noticed it.
func (m *Monitor) checkIdleLocked(now time.Time) {
	if !m.active || !m.idleStart.IsZero() {
		return
	}
	if now.Sub(m.lastActivity) < m.cfg.IdleThreshold {
		return
	}
	m.idlePeriods++
	m.idleStart = m.lastActivity
	m.logEventLocked(now, "idle_start", nil)
}

func (m *Monitor) markActivityLocked(now time.Time) {
	if !m.idleStart.IsZero() {
		m.closeIdleSpanLocked(now)
	}
	m.lastActivity = now
}

func (m *Monitor) closeIdleSpanLocked(now time.Time) {
	gap := now.Sub(m.idleStart).Seconds()
	m.idleGaps = append(m.idleGaps, gap)
	m.totalIdleTime += gap
	m.idleStart = time.Time{}
	m.logEventLocked(now, "idle_end", map[string]string{
		"seconds": fmt.Sprintf("%.1f", gap),
	})

	if q := m.activeQuestionLocked(); q != nil {
		q.IdleGaps = append(q.IdleGaps, gap)
	}
}

// RecordTabSwitch counts the page being hidden or backgrounded.
func (m *Monitor) RecordTabSwitch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	m.tabSwitches++
	m.logEventLocked(m.clock.Now(), "tab_switch", nil)

	if q := m.activeQuestionLocked(); q != nil {
		q.TabSwitchesDuring++
	}
}

// RecordFocusLoss counts the window losing OS-level focus.
func (m *Monitor) RecordFocusLoss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	m.focusLosses++
	m.logEventLocked(m.clock.Now(), "focus_loss", nil)
}

// RecordPaste counts a paste into a monitored input. Blocking the paste
// is a UI concern, not this layer's.
func (m *Monitor) RecordPaste() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	m.pasteAttempts++
	m.logEventLocked(m.clock.Now(), "paste", nil)
}

// RecordKey appends to the cadence buffer, keeping only the most recent
// entries up to the cap. Keystrokes also count as activity.
func (m *Monitor) RecordKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	now := m.clock.Now()
	m.markActivityLocked(now)

	m.rhythm = append(m.rhythm, domain.KeyEvent{Key: key, Time: now})
	if len(m.rhythm) > m.cfg.KeyboardRhythmCap {
		m.rhythm = m.rhythm[len(m.rhythm)-m.cfg.KeyboardRhythmCap:]
	}

	if q := m.activeQuestionLocked(); q != nil && q.FirstKeystroke == nil {
		t := now
		q.FirstKeystroke = &t
	}
}

// RecordPointerActivity counts mouse moves and clicks as activity only.
func (m *Monitor) RecordPointerActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	m.markActivityLocked(m.clock.Now())
}

// RecordTextDelta compares the answer length against the previous call.
// A jump above the threshold in one observed update is the heuristic
// for injected content that bypassed the paste event itself. Previous
// length is tracked across questions; an answer starting again from
// empty resets it implicitly.
func (m *Monitor) RecordTextDelta(current string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}

	length := len([]rune(current))
	if length == 0 {
		// A fresh answer starting from empty, not an injection.
		m.prevTextLen = 0
		return
	}
	delta := length - m.prevTextLen
	if delta < 0 {
		delta = -delta
	}
	if delta > m.cfg.RapidInjectionChars {
		m.rapidInjections++
		m.logEventLocked(m.clock.Now(), "rapid_injection", map[string]string{
			"delta": fmt.Sprintf("%d", delta),
		})
	}
	m.prevTextLen = length
}

// StartQuestion opens a timing entry for the question becoming active.
// Earlier entries are frozen from this point on.
func (m *Monitor) StartQuestion(questionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	now := m.clock.Now()
	m.questions = append(m.questions, domain.QuestionTiming{
		QuestionID: questionID,
		StartedAt:  now,
	})
	m.prevTextLen = 0
	m.logEventLocked(now, "question_start", map[string]string{"question": questionID})
}

// SubmitQuestion stamps the active question and freezes its entry.
func (m *Monitor) SubmitQuestion() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	q := m.activeQuestionLocked()
	if q == nil {
		return
	}
	now := m.clock.Now()
	q.SubmittedAt = &now
	m.logEventLocked(now, "question_submit", map[string]string{"question": q.QuestionID})
}

func (m *Monitor) activeQuestionLocked() *domain.QuestionTiming {
	if len(m.questions) == 0 {
		return nil
	}
	q := &m.questions[len(m.questions)-1]
	if q.SubmittedAt != nil {
		return nil
	}
	return q
}

// Finalize closes any open idle span against "now" and snapshots the
// report, so an attempt ending mid-idle is never undercounted. It does
// not reset state; Reset is a distinct operation.
func (m *Monitor) Finalize() domain.IntegrityReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.idleStart.IsZero() {
		m.closeIdleSpanLocked(m.clock.Now())
	}

	report := domain.IntegrityReport{
		TabSwitches:       m.tabSwitches,
		FocusLosses:       m.focusLosses,
		PasteAttempts:     m.pasteAttempts,
		RapidInjections:   m.rapidInjections,
		IdlePeriods:       m.idlePeriods,
		IdleGaps:          append([]float64(nil), m.idleGaps...),
		TotalIdleTime:     m.totalIdleTime,
		KeyboardRhythm:    append([]domain.KeyEvent(nil), m.rhythm...),
		Timestamps:        append([]domain.IntegrityEvent(nil), m.events...),
		PerQuestionTiming: append([]domain.QuestionTiming(nil), m.questions...),
	}
	return report
}

// Reset zeroes the whole session. Must run between attempts; counts
// leaking across attempts would contaminate the next report.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tabSwitches = 0
	m.focusLosses = 0
	m.pasteAttempts = 0
	m.rapidInjections = 0
	m.idlePeriods = 0
	m.idleGaps = nil
	m.totalIdleTime = 0
	m.rhythm = nil
	m.events = nil
	m.questions = nil
	m.idleStart = time.Time{}
	m.prevTextLen = 0
	m.lastActivity = m.clock.Now()
}

func (m *Monitor) logEventLocked(at time.Time, event string, ctx map[string]string) {
	m.events = append(m.events, domain.IntegrityEvent{
		Event:   event,
		Time:    at,
		Context: ctx,
	})
}

// Observe routes one telemetry frame into the matching signal handler.
func (m *Monitor) Observe(ev domain.ProctorEventPayload) {
	switch ev.Signal {
	case domain.ProctorTabSwitch:
		m.RecordTabSwitch()
	case domain.ProctorFocusLoss:
		m.RecordFocusLoss()
	case domain.ProctorPaste:
		m.RecordPaste()
	case domain.ProctorKeyDown:
		m.RecordKey(ev.Key)
	case domain.ProctorPointer:
		m.RecordPointerActivity()
	case domain.ProctorTextDelta:
		m.RecordTextDelta(ev.Text)
	default:
		log.Debug().Str("signal", string(ev.Signal)).Msg("Unknown proctor signal")
	}
}
