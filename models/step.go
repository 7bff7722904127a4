package models

/************************************************
/**** MARK: CONVERSATION STEP ****/
/************************************************/

// Step is the phase of a conversation in the support flow.
type Step string

const (
	// StepInicio is the initial step; an absent or expired session reads as StepInicio.
	StepInicio Step = "INICIO"
	// StepInQueue means the chat is waiting in the support queue.
	StepInQueue Step = "IN_QUEUE"
	// StepEmAtendimento means the dispatch worker picked the chat up.
	StepEmAtendimento Step = "EM_ATENDIMENTO"
)

// ParseStep converts a stored value into a Step. Empty and unknown values
// fall back to StepInicio; ok reports whether raw was a known step.
func ParseStep(raw string) (step Step, ok bool) {
	switch Step(raw) {
	case StepInicio, StepInQueue, StepEmAtendimento:
		return Step(raw), true
	case "":
		return StepInicio, true
	default:
		return StepInicio, false
	}
}

func (s Step) String() string {
	return string(s)
}
