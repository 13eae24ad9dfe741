package models

type AuditRecord struct {
	ID           string `json:"id"`
	AccountID    string `json:"account_id"`
	CredentialID string `json:"credential_id"`
	Endpoint     string `json:"endpoint"`
	Method       string `json:"method"`
	StatusCode   int    `json:"status_code"`
	ClientIP     string `json:"client_ip"`
	UserAgent    string `json:"user_agent"`
	ClientKind   string `json:"client_kind"`
	LatencyMS    int64  `json:"latency_ms"`
	CreatedAt    int64  `json:"created_at"`
}
