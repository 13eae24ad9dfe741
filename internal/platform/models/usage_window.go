package models

// UsageWindow is the persisted counter for one credential and window kind
// ("monthly" or "minute"). WindowStart is unix seconds.
type UsageWindow struct {
	CredentialID string `json:"credential_id"`
	Window       string `json:"window"`
	Usage        int64  `json:"usage"`
	WindowStart  int64  `json:"window_start"`
	UpdatedAt    int64  `json:"updated_at"`
}
