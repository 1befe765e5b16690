package extract

// IntraoperativeRecord is the structured output for the intraoperative side
// of the chart. Fields without qualifying detections stay at their zero
// value and are omitted from the JSON encoding.
type IntraoperativeRecord struct {
	Codes      []string        `json:"codes,omitempty"`
	Timing     []string        `json:"timing,omitempty"`
	ETTSize    string          `json:"ett_size,omitempty"`
	BPAndHR    VitalSigns      `json:"bp_and_hr"`
	Checkboxes map[string]bool `json:"checkboxes,omitempty"`
	// Degraded notes a contained geometry failure: the side was
	// digitized without rectification and positions are best-effort.
	Degraded string `json:"degraded,omitempty"`
}

// PreopPostopRecord is the structured output for the
// preoperative/postoperative side of the chart.
type PreopPostopRecord struct {
	DigitFields map[string]any  `json:"digit_fields,omitempty"`
	Checkboxes  map[string]bool `json:"checkboxes,omitempty"`
	Degraded    string          `json:"degraded,omitempty"`
}

// Record is the full digitization output for one paper chart.
type Record struct {
	Intraoperative *IntraoperativeRecord `json:"intraoperative,omitempty"`
	PreopPostop    *PreopPostopRecord    `json:"preoperative_postoperative,omitempty"`
}
