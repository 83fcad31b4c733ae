package control

import (
	"time"

	"github.com/meshctl/mesh/internal/auditlog"
)

// auditRelay writes one audit.log line for a non-fireAndForget relay
// outcome, plus every rate-limit rejection (which is audited before
// fireAndForget is even consulted).
func (s *Server) auditRelay(peer, targetSessionID, result, errMsg string) {
	if s.audit == nil {
		return
	}
	entry := auditlog.Entry{
		Timestamp: time.Now().UTC(),
		Peer:      peer,
		Action:    "relay",
		Data:      auditlog.EntryData{TargetSessionID: targetSessionID},
		Result:    result,
		Error:     errMsg,
	}
	if err := s.audit.Append(entry); err != nil {
		s.log.Warnf("append audit entry: %v", err)
	}
}
