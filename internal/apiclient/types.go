package apiclient

// Item is one resource in a list response (keyspace, channel, section,
// consent list, topic or event type).
type Item struct {
	Discriminator string `json:"discriminator"`
	Name          string `json:"name"`
}

// ItemList is the uniform shape of the audience list endpoints.
type ItemList struct {
	Items []Item `json:"items"`
}

// AttributeVersion is one schema version of a profile attribute.
type AttributeVersion struct {
	ID           string  `json:"id"`
	DeprecatedAt *string `json:"deprecated_at"`
}

// Attribute is a profile attribute definition within a section.
type Attribute struct {
	Discriminator string             `json:"discriminator"`
	Name          string             `json:"name"`
	Versions      []AttributeVersion `json:"versions"`
}

// AttributeList is the response of the section attributes endpoint.
type AttributeList struct {
	Items []Attribute `json:"items"`
}

// TokenResponse is the client-credentials grant response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ImportInit is the response of the initialize-import endpoint: a remote
// import id plus a signed one-shot upload descriptor.
type ImportInit struct {
	ImportID               string            `json:"import_id"`
	FileUploadURL          string            `json:"file_upload_url"`
	FileUploadBody         map[string]string `json:"file_upload_body"`
	FileUploadURLExpiresAt string            `json:"file_upload_url_expires_at"`
}

// Import status values reported by the status poll.
const (
	ImportStatusCompleted      = "completed"
	ImportStatusError          = "error"
	ImportStatusWaitingForFile = "waiting_for_file"
)

// ImportStatus is the response of the import status poll.
type ImportStatus struct {
	Result struct {
		Status string `json:"status"`
	} `json:"result"`
}

// problem is the uniform error payload the API returns on rejection.
type problem struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}
