package types

type OutputCodename struct {
	Codename string `json:"codename"`
	Token    string `json:"token"`
}

type OutputSession struct {
	DisplayID string `json:"displayId,omitempty"`
	Token     string `json:"token"`
}

type OutputSubmit struct {
	Received      int      `json:"received"`
	Notifications []string `json:"notifications"`
}

type OutputLookup struct {
	LookupResult
	Warning string `json:"warning,omitempty"`
}
