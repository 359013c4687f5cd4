package types

// SourceRecord is the persisted, non-secret state of a source, keyed by its
// storage identifier. It never contains the codename.
type SourceRecord struct {
	BaseDocument          `json:",inline"`
	FilesystemID          string           `json:"filesystemId"`
	JournalistDesignation string           `json:"journalistDesignation"`
	Flagged               bool             `json:"flagged"`
	Pending               bool             `json:"pending"`
	LastUpdated           int64            `json:"lastUpdated"`
	Created               int64            `json:"created"`
	Submissions           []*SubmissionRef `json:"submissions,omitempty"`
}

// SubmissionRef points at one submission object in the source namespace
type SubmissionRef struct {
	Filename string `json:"filename"`
	Created  int64  `json:"created"`
}

// Reply is a decrypted reply as shown to the source
type Reply struct {
	ID      string `json:"id"`
	Date    int64  `json:"date"`
	Message string `json:"msg"`
}

// LookupResult is everything the source sees after logging in
type LookupResult struct {
	DisplayID string   `json:"displayId"`
	Replies   []*Reply `json:"replies"`
	Flagged   bool     `json:"flagged"`
	HasKey    bool     `json:"haskey"`
}
