package model

// Fundamentals is a flat record of financial ratios. Fields the upstream did
// not report stay unavailable.
type Fundamentals struct {
	PE            Opt `json:"pe"`
	ROE           Opt `json:"roe"`
	GrossMargins  Opt `json:"grossMargins"`
	ProfitMargins Opt `json:"profitMargins"`
	RevenueGrowth Opt `json:"revenueGrowth"`
}

// Empty reports whether no ratio is available.
func (f Fundamentals) Empty() bool {
	return !f.PE.Valid() && !f.ROE.Valid() && !f.GrossMargins.Valid() &&
		!f.ProfitMargins.Valid() && !f.RevenueGrowth.Valid()
}

// Candidate is a scored instrument produced by stage one.
type Candidate struct {
	Index        int           `json:"-"`
	Symbol       string        `json:"symbol"`
	Kind         Kind          `json:"kind"`
	Features     FeatureSet    `json:"features"`
	Fundamentals *Fundamentals `json:"fundamentals,omitempty"`
	Headlines    []string      `json:"headlines,omitempty"`
	Score        int           `json:"score"`
}

// Decision is the judgment outcome for a promoted candidate.
type Decision string

const (
	DecisionEscalate Decision = "escalate"
	DecisionHold     Decision = "hold"
)

// Risk is the qualitative risk tier attached to a verdict.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Verdict is the judgment returned for one promoted candidate.
type Verdict struct {
	Decision   Decision `json:"decision"`
	Score      int      `json:"score"`
	Confidence float64  `json:"confidence"`
	Risk       Risk     `json:"risk"`
	Reason     string   `json:"reason"`
	Tags       []string `json:"tags"`
	Degraded   bool     `json:"degraded,omitempty"`
}

// Escalates reports whether the verdict asks for a notification.
func (v *Verdict) Escalates() bool {
	return v != nil && v.Decision == DecisionEscalate
}
