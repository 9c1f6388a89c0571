package model

import (
	"fmt"
	"strings"

	"github.com/gridlink-project/gridlink/pkg/errclass"
)

// SecurityPosture is a party's declared requirement level for channel encryption.
type SecurityPosture string

const (
	PostureRequire  SecurityPosture = "CS_NEG_REQUIRE"
	PostureDontCare SecurityPosture = "CS_NEG_DONT_CARE"
	PostureRefuse   SecurityPosture = "CS_NEG_REFUSE"
)

// Postures lists every posture in canonical order.
var Postures = []SecurityPosture{PostureRequire, PostureDontCare, PostureRefuse}

// Valid reports whether p is one of the three known postures.
func (p SecurityPosture) Valid() bool {
	switch p {
	case PostureRequire, PostureDontCare, PostureRefuse:
		return true
	}
	return false
}

// ParseSecurityPosture parses a posture name. It accepts the bare wire name or
// the keyword form "cs_neg_result_kw=CS_NEG_REQUIRE;".
func ParseSecurityPosture(s string) (SecurityPosture, error) {
	p := SecurityPosture(strings.ToUpper(keywordValue(s)))
	if !p.Valid() {
		return "", errclass.ErrProtocol.WithMessagef("unknown security posture %q", s)
	}
	return p, nil
}

// NegotiationOutcome is the binding decision resulting from both postures.
type NegotiationOutcome string

const (
	OutcomeUseEncryption NegotiationOutcome = "CS_NEG_USE_SSL"
	OutcomeUsePlaintext  NegotiationOutcome = "CS_NEG_USE_TCP"
	OutcomeFailure       NegotiationOutcome = "CS_NEG_FAILURE"
)

// Succeeded reports whether the outcome lets the connection proceed.
func (o NegotiationOutcome) Succeeded() bool {
	return o == OutcomeUseEncryption || o == OutcomeUsePlaintext
}

// NegotiatedConfiguration records whether the connection is now encrypted.
type NegotiatedConfiguration struct {
	SSLConnection bool `json:"ssl_connection"`
}

const resultKeyword = "cs_neg_result_kw"

// Notice status values.
const (
	NoticeStatusFailure = 0
	NoticeStatusSuccess = 1
)

// ServerNegotiation is the peer's declaration of its security posture.
type ServerNegotiation struct {
	Status int    `json:"status"`
	Result string `json:"result"`
}

// Posture extracts the peer's posture; missing or unknown values are protocol errors.
func (s *ServerNegotiation) Posture() (SecurityPosture, error) {
	if s == nil {
		return "", errclass.ErrProtocol.WithMessage("missing server negotiation")
	}
	if strings.TrimSpace(s.Result) == "" {
		return "", errclass.ErrProtocol.WithMessage("server negotiation carries no posture")
	}
	return ParseSecurityPosture(s.Result)
}

// NegotiationNotice is sent to the peer once the outcome is decided.
type NegotiationNotice struct {
	Status int    `json:"status"`
	Result string `json:"result"`
}

// SuccessNotice names the chosen outcome.
func SuccessNotice(o NegotiationOutcome) NegotiationNotice {
	return NegotiationNotice{
		Status: NoticeStatusSuccess,
		Result: fmt.Sprintf("%s=%s;", resultKeyword, o),
	}
}

// FailureNotice tells the peer negotiation failed.
func FailureNotice() NegotiationNotice {
	return NegotiationNotice{
		Status: NoticeStatusFailure,
		Result: fmt.Sprintf("%s=%s;", resultKeyword, OutcomeFailure),
	}
}

// Outcome parses the outcome named by the notice.
func (n NegotiationNotice) Outcome() NegotiationOutcome {
	return NegotiationOutcome(strings.ToUpper(keywordValue(n.Result)))
}

// StartupPack opens a connection and asks the server to negotiate.
type StartupPack struct {
	ProxyUser          string `json:"proxy_user"`
	ProxyZone          string `json:"proxy_zone"`
	ClientUser         string `json:"client_user"`
	ClientZone         string `json:"client_zone"`
	ReconnectFlag      int    `json:"reconnect_flag"`
	ConnectCount       int    `json:"connect_count"`
	Option             string `json:"option"`
	RequestNegotiation bool   `json:"request_negotiation"`
}

// VersionResponse is the peer's follow-up after a successful notice.
type VersionResponse struct {
	Status     int    `json:"status"`
	RelVersion string `json:"rel_version"`
	APIVersion string `json:"api_version"`
	ReconnPort int    `json:"reconn_port"`
	ReconnAddr string `json:"reconn_addr"`
	Cookie     int    `json:"cookie"`
}

// StartupResult carries the peer's capability data and the negotiated security flag.
type StartupResult struct {
	Status         int                     `json:"status"`
	ReleaseVersion string                  `json:"release_version"`
	APIVersion     string                  `json:"api_version"`
	ReconnectPort  int                     `json:"reconnect_port"`
	ReconnectAddr  string                  `json:"reconnect_addr,omitempty"`
	Cookie         int                     `json:"cookie"`
	Negotiated     NegotiatedConfiguration `json:"negotiated"`
}

// Encrypted reports whether the connection was promoted to TLS.
func (r *StartupResult) Encrypted() bool {
	return r != nil && r.Negotiated.SSLConnection
}

// keywordValue strips an optional "kw=" prefix and trailing ';'.
func keywordValue(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '='); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(s, ";"))
}
