package parser

import "strings"

const (
	ClientBrowser = "browser"
	ClientPython  = "python"
	ClientNode    = "node"
	ClientGo      = "go"
	ClientCLI     = "cli"
	ClientAPITool = "api-tool"
	ClientBot     = "bot"
	ClientOther   = "other"
	ClientUnknown = "unknown"
)

// ClientKind buckets a User-Agent into a small fixed set so it can be used
// as an audit column and a metrics label.
func ClientKind(ua string) string {
	uaLower := strings.ToLower(strings.TrimSpace(ua))

	if uaLower == "" {
		return ClientUnknown
	}

	// Bots first: most crawlers also claim Mozilla.
	if strings.Contains(uaLower, "bot") || strings.Contains(uaLower, "spider") || strings.Contains(uaLower, "crawler") {
		return ClientBot
	} else if strings.Contains(uaLower, "python") || strings.Contains(uaLower, "aiohttp") {
		return ClientPython
	} else if strings.Contains(uaLower, "node") || strings.Contains(uaLower, "axios") || strings.Contains(uaLower, "undici") {
		return ClientNode
	} else if strings.HasPrefix(uaLower, "go-http-client") {
		return ClientGo
	} else if strings.HasPrefix(uaLower, "curl") || strings.HasPrefix(uaLower, "wget") || strings.HasPrefix(uaLower, "httpie") {
		return ClientCLI
	} else if strings.Contains(uaLower, "postman") || strings.Contains(uaLower, "insomnia") {
		return ClientAPITool
	} else if strings.HasPrefix(uaLower, "mozilla") {
		return ClientBrowser
	}

	return ClientOther
}
