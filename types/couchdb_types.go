package types

type OK struct {
	IsOK bool   `json:"ok"`
	ID   string `json:"id,omitempty"`
	Rev  string `json:"rev,omitempty"`
}

type CouchDBError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// BaseDocument carries the CouchDB identity and revision of a stored document.
// Saving a document with a stale revision is a conflict.
type BaseDocument struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`
}

func (b *BaseDocument) GetRev() string {
	return b.Rev
}

func (b *BaseDocument) SetRev(rev string) {
	b.Rev = rev
}

// Revisioned is implemented by documents embedding BaseDocument
type Revisioned interface {
	GetRev() string
	SetRev(rev string)
}
