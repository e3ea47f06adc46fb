// Package proto defines the JSON messages exchanged with filterd over Kafka.
package proto

// FilterRequest asks filterd to judge a batch of n-grams. Each n-gram is
// space separated text, markers such as <s> included.
type FilterRequest struct {
	RunID  string   `json:"run_id"`
	NGrams []string `json:"ngrams"`
}

// FilterVerdict is the outcome for one n-gram of a request. Witness is the
// smallest sentence id that covers a kept n-gram.
type FilterVerdict struct {
	NGram   string `json:"ngram"`
	Kept    bool   `json:"kept"`
	Witness uint32 `json:"witness,omitempty"`
	Cached  bool   `json:"cached,omitempty"`
}

// FilterResponse answers a FilterRequest, verdicts in request order.
type FilterResponse struct {
	RunID       string          `json:"run_id"`
	Fingerprint string          `json:"fingerprint"`
	Verdicts    []FilterVerdict `json:"verdicts"`
	Kept        int             `json:"kept"`
	Dropped     int             `json:"dropped"`
	LatencyMs   int64           `json:"latency_ms"`
}
