package harness

// Step kinds.
const (
	KindProve   = "prove"
	KindCompose = "compose"
	KindVerify  = "verify"
	KindTamper  = "tamper"
)

// Outcomes that are not error codes.
const (
	OutcomeOK      = "ok"
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
)

// TraceEvent records what one step did.
type TraceEvent struct {
	Step    int      `json:"step"`
	Kind    string   `json:"kind"`
	Guest   string   `json:"guest,omitempty"`
	ChainID string   `json:"chain_id,omitempty"`
	Round   uint64   `json:"round,omitempty"`
	Result  string   `json:"result,omitempty"`
	Claims  []string `json:"claims,omitempty"`

	// Outcome is "ok", "valid", "invalid", or the error or violation code.
	Outcome string `json:"outcome"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors is empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
