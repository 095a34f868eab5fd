package core

// Message types dispatched over the fan-out queue. Each handler must be
// idempotent: duplicate delivery must not duplicate effects.
const (
	MsgCrawlMap          = "crawl.map"
	MsgCrawlFetch        = "crawl.fetch"
	MsgIdentityIndex     = "identity.index"
	MsgSimilarityCompute = "similarity.compute"
)

// Message is the wire format for asynchronous fan-out. Type selects the
// handler; the remaining fields are populated per type.
type Message struct {
	Type       string   `json:"type"`
	JobID      string   `json:"job_id,omitempty"`
	URL        string   `json:"url,omitempty"`
	EntityType string   `json:"entity_type,omitempty"`
	SourceID   string   `json:"source_id,omitempty"`
	EntityID   string   `json:"entity_id,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
	Attempt    int      `json:"attempt,omitempty"`
}
