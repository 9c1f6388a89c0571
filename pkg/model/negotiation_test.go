package model_test

import (
	"testing"

	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSecurityPosture(t *testing.T) {
	tests := map[string]model.SecurityPosture{
		"CS_NEG_REQUIRE":                     model.PostureRequire,
		"cs_neg_dont_care":                   model.PostureDontCare,
		" CS_NEG_REFUSE ":                    model.PostureRefuse,
		"cs_neg_result_kw=CS_NEG_REQUIRE;":   model.PostureRequire,
		"cs_neg_result_kw=CS_NEG_DONT_CARE;": model.PostureDontCare,
	}
	for in, want := range tests {
		got, err := model.ParseSecurityPosture(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseSecurityPosture_Unknown(t *testing.T) {
	for _, in := range []string{"", "CS_NEG_MAYBE", "require", "cs_neg_result_kw=;"} {
		_, err := model.ParseSecurityPosture(in)
		require.ErrorIs(t, err, errclass.ErrProtocol, in)
	}
}

func TestServerNegotiation_Posture(t *testing.T) {
	var missing *model.ServerNegotiation
	_, err := missing.Posture()
	require.ErrorIs(t, err, errclass.ErrProtocol)

	_, err = (&model.ServerNegotiation{Status: 1}).Posture()
	require.ErrorIs(t, err, errclass.ErrProtocol)

	p, err := (&model.ServerNegotiation{Status: 1, Result: "CS_NEG_REFUSE"}).Posture()
	require.NoError(t, err)
	assert.Equal(t, model.PostureRefuse, p)
}

func TestNotices(t *testing.T) {
	ok := model.SuccessNotice(model.OutcomeUseEncryption)
	assert.Equal(t, model.NoticeStatusSuccess, ok.Status)
	assert.Equal(t, "cs_neg_result_kw=CS_NEG_USE_SSL;", ok.Result)
	assert.Equal(t, model.OutcomeUseEncryption, ok.Outcome())

	fail := model.FailureNotice()
	assert.Equal(t, model.NoticeStatusFailure, fail.Status)
	assert.Equal(t, model.OutcomeFailure, fail.Outcome())
}

func TestNegotiationOutcome_Succeeded(t *testing.T) {
	assert.True(t, model.OutcomeUseEncryption.Succeeded())
	assert.True(t, model.OutcomeUsePlaintext.Succeeded())
	assert.False(t, model.OutcomeFailure.Succeeded())
	assert.False(t, model.NegotiationOutcome("").Succeeded())
}

func TestStartupResult_Encrypted(t *testing.T) {
	var nilResult *model.StartupResult
	assert.False(t, nilResult.Encrypted())
	assert.True(t, (&model.StartupResult{Negotiated: model.NegotiatedConfiguration{SSLConnection: true}}).Encrypted())
}

func TestAccount_Identity(t *testing.T) {
	a := model.Account{Host: "grid.example.org", Port: 1247, Zone: "tempZone", User: "rods"}
	assert.Equal(t, "rods#tempZone@grid.example.org:1247", a.Identity())
	assert.Equal(t, "grid.example.org:1247", a.Address())
}
