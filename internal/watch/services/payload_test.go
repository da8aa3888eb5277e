package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Payload
	}{
		{
			name: "simple key values",
			text: "solarsystemID: 30000142\nstructureShowInfoData: something",
			want: Payload{
				"solarsystemID":         "30000142",
				"structureShowInfoData": "something",
			},
		},
		{
			name: "strips yaml anchors",
			text: "allianceID: &id001 99003581\ncorpLinkData: &id002 plain",
			want: Payload{
				"allianceID":   "99003581",
				"corpLinkData": "plain",
			},
		},
		{
			name: "anchor with no value",
			text: "aggressorID: &id001",
			want: Payload{"aggressorID": ""},
		},
		{
			name: "splits on first colon only",
			text: "timestamp: 2024-01-05T10:30:00Z",
			want: Payload{"timestamp": "2024-01-05T10:30:00Z"},
		},
		{
			name: "trims quotes",
			text: "corpName: 'Brave Newbies'\nallianceName: \"Brave Collective\"",
			want: Payload{
				"corpName":     "Brave Newbies",
				"allianceName": "Brave Collective",
			},
		},
		{
			name: "ignores blank and colonless lines",
			text: "\nnot a pair\nshieldPercentage: 42.5\n",
			want: Payload{"shieldPercentage": "42.5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePayload(tt.text))
		})
	}
}

func TestPayloadTypedLookups(t *testing.T) {
	payload := ParsePayload("structureID: 1035466617946\nshieldPercentage: 94.99\nmoonID: 40009087\nname: Keepstar")

	id, ok := payload.Int64("structureID")
	assert.True(t, ok)
	assert.Equal(t, int64(1035466617946), id)

	shield, ok := payload.Float64("shieldPercentage")
	assert.True(t, ok)
	assert.InDelta(t, 94.99, shield, 0.001)

	moon, ok := payload.Int("moonID")
	assert.True(t, ok)
	assert.Equal(t, 40009087, moon)

	_, ok = payload.Int64("name")
	assert.False(t, ok)

	_, ok = payload.Int64("absent")
	assert.False(t, ok)

	assert.Equal(t, "Keepstar", payload.StringOr("name", "fallback"))
	assert.Equal(t, "fallback", payload.StringOr("absent", "fallback"))
}
