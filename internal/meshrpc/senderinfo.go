package meshrpc

import (
	"encoding/json"
	"regexp"
)

// SenderInfo is the tagged fragment callers may embed once inside a `send`
// payload: <sender_info>{...}</sender_info>. The endpoint never interprets
// or strips it — it forwards the message verbatim to the agent; only the
// (out-of-scope) display renderer extracts it.
type SenderInfo struct {
	SessionID   string `json:"sessionId"`
	SessionName string `json:"sessionName,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
}

var senderInfoPattern = regexp.MustCompile(`(?s)<sender_info>(.*?)</sender_info>`)

// ExtractSenderInfo parses the first <sender_info> fragment out of message,
// if any. A missing or malformed fragment returns ok=false; callers should
// treat that as an untagged message rather than an error.
func ExtractSenderInfo(message string) (info SenderInfo, ok bool) {
	m := senderInfoPattern.FindStringSubmatch(message)
	if m == nil {
		return SenderInfo{}, false
	}
	if err := json.Unmarshal([]byte(m[1]), &info); err != nil {
		return SenderInfo{}, false
	}
	if info.SessionID == "" {
		return SenderInfo{}, false
	}
	return info, true
}

// StripSenderInfo removes the tagged fragment from message, returning the
// remaining text a renderer would display alongside the parsed SenderInfo.
func StripSenderInfo(message string) string {
	return senderInfoPattern.ReplaceAllString(message, "")
}
