package ralphmodel

// Phase identifies one of the four stages of a loop iteration.
type Phase string

const (
	PhaseImplementation Phase = "implementation"
	PhaseTestWriting    Phase = "test_writing"
	PhaseGates          Phase = "gates"
	PhaseReview         Phase = "review"
)

// OutcomeKind is the discriminant of PhaseOutcome, replacing
// exception-driven control flow with a typed result.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeBadSignal      OutcomeKind = "bad_signal"
	OutcomeSubprocessErr  OutcomeKind = "subprocess_error"
	OutcomeGatesFailed    OutcomeKind = "gates_failed"
	OutcomeReviewRejected OutcomeKind = "review_rejected"
)

// PhaseOutcome is the result of running one phase of one iteration.
// Exactly one of the *Body fields is populated, matching Kind.
type PhaseOutcome struct {
	Phase Phase       `json:"phase"`
	Kind  OutcomeKind `json:"kind"`

	// BadSignal: populated when Kind == OutcomeBadSignal.
	ExpectedTag   string `json:"expected_tag,omitempty"`
	ExpectedToken string `json:"expected_token,omitempty"`

	// SubprocessErr: populated when Kind == OutcomeSubprocessErr.
	SubprocessError string `json:"subprocess_error,omitempty"`

	// GatesFailed: populated when Kind == OutcomeGatesFailed.
	GatesResult *GatesRunResult `json:"gates_result,omitempty"`
	GateFeedback string         `json:"gate_feedback,omitempty"`

	// ReviewRejected: populated when Kind == OutcomeReviewRejected.
	RejectionBody string `json:"rejection_body,omitempty"`

	// RawOutput carries the agent's raw stdout for logging, regardless
	// of outcome kind.
	RawOutput string `json:"-"`
}

// Success reports whether this outcome represents phase success.
func (o PhaseOutcome) Success() bool {
	return o.Kind == OutcomeSuccess
}

// FeedbackPriority ranks outcome kinds for the "when multiple are
// produced" routing rule: gate failure > review rejection > bad
// signal. Lower value wins. Success and
// subprocess-error outcomes never compete for feedback priority — a
// subprocess error is always the single outcome for its phase attempt.
func FeedbackPriority(k OutcomeKind) int {
	switch k {
	case OutcomeGatesFailed:
		return 0
	case OutcomeReviewRejected:
		return 1
	case OutcomeBadSignal:
		return 2
	default:
		return 99
	}
}

// Feedback renders the outcome into the literal text fed into the
// next iteration's implementation-phase prompt as previous_feedback.
func (o PhaseOutcome) Feedback() string {
	switch o.Kind {
	case OutcomeGatesFailed:
		return o.GateFeedback
	case OutcomeReviewRejected:
		return o.RejectionBody
	case OutcomeBadSignal:
		return "Phase \"" + string(o.Phase) + "\" did not produce a valid <" + o.ExpectedTag +
			" session=\"" + o.ExpectedToken + "\"> signal. Emit exactly that tag, with that " +
			"session token, once your work for this phase is complete."
	case OutcomeSubprocessErr:
		return "The agent process for phase \"" + string(o.Phase) + "\" failed: " + o.SubprocessError
	default:
		return ""
	}
}
