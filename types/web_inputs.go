package types

// for generating a new codename
type InputGenerate struct {
	NumberWords int `json:"numberWords,omitempty"`
}

// for login
type InputLogin struct {
	Codename string `json:"codename" validate:"required"`
}

// for deleting a reply
type InputDelete struct {
	MsgID string `json:"msgid" validate:"required"`
}
