package domain

// ErrorType classifies why processing a single post fell short
type ErrorType string

const (
	ErrorNone       ErrorType = ""
	ErrorNetwork    ErrorType = "network"
	ErrorExtraction ErrorType = "extraction"
	ErrorInference  ErrorType = "inference"
	ErrorTimeout    ErrorType = "timeout"
)

// ProcessingResult holds whatever could be derived for one post
type ProcessingResult struct {
	Stub        PostStub
	Text        string
	Summary     string
	Density     int
	ReadingTime int
	// Topics are names already present in the topic directory, NewTopics are fresh suggestions.
	Topics    []string
	NewTopics []string
	ErrorType ErrorType
	Err       error
}

// NewProcessingResult returns an empty result for stub.
func NewProcessingResult(stub PostStub) ProcessingResult {
	return ProcessingResult{Stub: stub, Density: DensityUnset}
}

func (r ProcessingResult) HasSummary() bool     { return r.Summary != "" }
func (r ProcessingResult) HasReadingTime() bool { return r.ReadingTime > 0 }
func (r ProcessingResult) HasTopics() bool      { return len(r.Topics)+len(r.NewTopics) > 0 }

// AllTopics returns matched and suggested topic names together.
func (r ProcessingResult) AllTopics() []string {
	out := make([]string, 0, len(r.Topics)+len(r.NewTopics))
	out = append(out, r.Topics...)
	return append(out, r.NewTopics...)
}

// FullySuccessful reports whether summary, reading time and topics are all populated.
func (r ProcessingResult) FullySuccessful() bool {
	return r.HasSummary() && r.HasReadingTime() && r.HasTopics()
}

// PartiallySuccessful reports whether some but not all enrichment fields are populated.
func (r ProcessingResult) PartiallySuccessful() bool {
	return r.Persistable() && !r.FullySuccessful()
}

// Persistable reports whether at least one enrichment field is populated.
func (r ProcessingResult) Persistable() bool {
	return r.HasSummary() || r.HasReadingTime() || r.HasTopics()
}

// AggregateMetrics summarizes one source check (or a whole cycle once summed)
type AggregateMetrics struct {
	NewPostsFound      int `json:"new_posts_found"`
	FullSuccess        int `json:"full_success"`
	PartialSuccess     int `json:"partial_success"`
	NetworkErrors      int `json:"network_errors"`
	Timeouts           int `json:"timeouts"`
	MissingSummary     int `json:"missing_summary"`
	MissingReadingTime int `json:"missing_reading_time"`
	MissingTopics      int `json:"missing_topics"`
	ExtractionFailures int `json:"extraction_failures"`
	PostsSaved         int `json:"posts_saved"`
}

// Observe folds a single post result into the metrics. Network failures are
// not counted as missing fields since enrichment never ran for them.
func (m *AggregateMetrics) Observe(r ProcessingResult) {
	switch {
	case r.ErrorType == ErrorNetwork:
		m.NetworkErrors++
		return
	case r.FullySuccessful():
		m.FullSuccess++
	case r.PartiallySuccessful():
		m.PartialSuccess++
	}
	if r.ErrorType == ErrorTimeout {
		m.Timeouts++
	}
	if r.ErrorType == ErrorExtraction {
		m.ExtractionFailures++
	}
	if !r.HasSummary() {
		m.MissingSummary++
	}
	if !r.HasReadingTime() {
		m.MissingReadingTime++
	}
	if !r.HasTopics() {
		m.MissingTopics++
	}
}

// Add sums other into m.
func (m *AggregateMetrics) Add(other AggregateMetrics) {
	m.NewPostsFound += other.NewPostsFound
	m.FullSuccess += other.FullSuccess
	m.PartialSuccess += other.PartialSuccess
	m.NetworkErrors += other.NetworkErrors
	m.Timeouts += other.Timeouts
	m.MissingSummary += other.MissingSummary
	m.MissingReadingTime += other.MissingReadingTime
	m.MissingTopics += other.MissingTopics
	m.ExtractionFailures += other.ExtractionFailures
	m.PostsSaved += other.PostsSaved
}
