package domain

import "time"

// ProctorSignal names one behavioral telemetry signal observed in the
// candidate's environment during a proctored attempt.
type ProctorSignal string

const (
	ProctorTabSwitch ProctorSignal = "tab_switch"
	ProctorFocusLoss ProctorSignal = "focus_loss"
	ProctorPaste     ProctorSignal = "paste"
	ProctorKeyDown   ProctorSignal = "keydown"
	ProctorPointer   ProctorSignal = "pointer"
	ProctorTextDelta ProctorSignal = "text_delta"
)

// ProctorEventPayload is the telemetry frame candidates send over the
// relay socket while a proctored attempt is running.
type ProctorEventPayload struct {
	Signal ProctorSignal `json:"signal"`
	Key    string        `json:"key,omitempty"`
	Text   string        `json:"text,omitempty"`
}

// ProctorSubmitPayload finalizes an attempt: the monitor's report is
// pushed to the challenge backend alongside these identifiers.
type ProctorSubmitPayload struct {
	ChallengeID string `json:"challengeId"`
	AttemptID   string `json:"attemptId"`
}

// KeyEvent is one keystroke retained for cadence analysis.
type KeyEvent struct {
	Key  string    `json:"key"`
	Time time.Time `json:"timestamp"`
}

// IntegrityEvent is one entry of the ordered timestamped event log.
type IntegrityEvent struct {
	Event   string            `json:"event"`
	Time    time.Time         `json:"time"`
	Context map[string]string `json:"context,omitempty"`
}

// QuestionTiming tracks one question of a multi-question attempt.
// Immutable once the attempt moves past the question.
type QuestionTiming struct {
	QuestionID        string     `json:"questionId"`
	StartedAt         time.Time  `json:"startedAt"`
	FirstKeystroke    *time.Time `json:"firstKeystroke,omitempty"`
	SubmittedAt       *time.Time `json:"submittedAt,omitempty"`
	TabSwitchesDuring int        `json:"tabSwitchesDuring"`
	IdleGaps          []float64  `json:"idleGaps"`
}

// IntegrityReport is the finalized snapshot of one proctored attempt,
// submitted as-is to the challenge backend.
type IntegrityReport struct {
	TabSwitches       int              `json:"tabSwitches"`
	FocusLosses       int              `json:"focusLosses"`
	PasteAttempts     int              `json:"pasteAttempts"`
	RapidInjections   int              `json:"rapidInjections"`
	IdlePeriods       int              `json:"idlePeriods"`
	IdleGaps          []float64        `json:"idleGaps"`
	TotalIdleTime     float64          `json:"totalIdleTime"`
	KeyboardRhythm    []KeyEvent       `json:"keyboardRhythm"`
	Timestamps        []IntegrityEvent `json:"timestamps"`
	PerQuestionTiming []QuestionTiming `json:"perQuestionTiming"`
}
