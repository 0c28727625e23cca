package jobs

// Report summarizes one sweep run. Processed counts accounts whose state
// actually changed; accounts skipped because a payment beat the sweep are
// neither processed nor failed.
type Report struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}
