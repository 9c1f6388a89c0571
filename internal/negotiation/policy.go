// Package negotiation decides whether a connection is encrypted and drives
// the exchange that commits both sides to that decision.
package negotiation

import "github.com/gridlink-project/gridlink/pkg/model"

// Resolve combines the client and server postures into one outcome.
//
//	client \ server   REQUIRE   DONT_CARE   REFUSE
//	REQUIRE           SSL       SSL         FAILURE
//	DONT_CARE         SSL       SSL         TCP
//	REFUSE            FAILURE   TCP         TCP
//
// Postures outside the three known values resolve to Failure.
func Resolve(client, server model.SecurityPosture) model.NegotiationOutcome {
	if !client.Valid() || !server.Valid() {
		return model.OutcomeFailure
	}
	switch {
	case client == model.PostureRequire && server == model.PostureRefuse,
		client == model.PostureRefuse && server == model.PostureRequire:
		return model.OutcomeFailure
	case client == model.PostureRefuse || server == model.PostureRefuse:
		return model.OutcomeUsePlaintext
	default:
		return model.OutcomeUseEncryption
	}
}

// Decision is one row of the policy table.
type Decision struct {
	Client  model.SecurityPosture    `json:"client"`
	Server  model.SecurityPosture    `json:"server"`
	Outcome model.NegotiationOutcome `json:"outcome"`
}

// Table lists every (client, server) pair with its outcome, client-major.
func Table() []Decision {
	rows := make([]Decision, 0, len(model.Postures)*len(model.Postures))
	for _, c := range model.Postures {
		for _, s := range model.Postures {
			rows = append(rows, Decision{Client: c, Server: s, Outcome: Resolve(c, s)})
		}
	}
	return rows
}
