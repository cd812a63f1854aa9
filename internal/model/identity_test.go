package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityKeyRoundTrip(t *testing.T) {
	cases := []Identity{
		Registered{UserID: "user1"},
		Anonymous{SessionID: "4b1c"},
		NewAnonymous(),
	}

	for _, id := range cases {
		got, err := ParseIdentity(id.Key())
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestParseIdentityRejectsEmpty(t *testing.T) {
	_, err := ParseIdentity("")
	assert.Error(t, err)

	_, err = ParseIdentity("anon:")
	assert.Error(t, err)
}

func TestRegisteredKeyIsRawUserID(t *testing.T) {
	assert.Equal(t, "user1", Registered{UserID: "user1"}.Key())
	assert.Equal(t, "anon:s1", Anonymous{SessionID: "s1"}.Key())
}

func TestQuestionNormalize(t *testing.T) {
	q := Question{ID: "q", YesVotes: 3, NoVotes: 4, TotalVotes: 99}
	q.Normalize()
	assert.Equal(t, 7, q.TotalVotes)
	assert.False(t, q.HasVoted())

	q.UserVote = ChoiceNo
	assert.True(t, q.HasVoted())
	assert.True(t, ChoiceYes.Valid())
	assert.False(t, Choice("maybe").Valid())
}
