package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVoteUpdateFrame(t *testing.T) {
	frame := []byte(`{"type":"vote_update","payload":{"questionId":"Q","yesVotes":1,"noVotes":0,"totalVotes":1,"userId":"user1"},"timestamp":1700000000000}`)

	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, TypeVoteUpdate, env.Type)
	assert.Equal(t, int64(1700000000000), env.Timestamp)

	u, err := DecodePayload[VoteUpdate](env)
	require.NoError(t, err)
	assert.Equal(t, VoteUpdate{QuestionID: "Q", YesVotes: 1, TotalVotes: 1, UserID: "user1"}, u)
	assert.NoError(t, u.Validate())
}

func TestDecodeMalformed(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{"payload":{}}`,
		`[]`,
		``,
		`{"type":"vote_update"}`,
		`{"type":"vote_update","payload":null,"timestamp":1}`,
	} {
		_, err := Decode([]byte(frame))
		var perr *ParseError
		assert.True(t, errors.As(err, &perr), "frame %q", frame)
	}
}

func TestDecodePayloadMismatch(t *testing.T) {
	env := Envelope{Type: TypeVoteUpdate, Payload: json.RawMessage(`"nope"`)}
	_, err := DecodePayload[VoteUpdate](env)
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))

	_, err = DecodePayload[VoteUpdate](Envelope{Type: TypeVoteUpdate})
	assert.True(t, errors.As(err, &perr))
}

func TestNewEnvelopeEncodes(t *testing.T) {
	at := time.UnixMilli(1234)
	env, err := NewEnvelope(TypeUserConnected, Welcome{Message: "hi"}, at)
	require.NoError(t, err)

	b, err := Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user_connected","payload":{"message":"hi"},"timestamp":1234}`, string(b))
}

func TestVoteUpdateValidate(t *testing.T) {
	assert.Error(t, VoteUpdate{YesVotes: 1, TotalVotes: 1}.Validate())
	assert.Error(t, VoteUpdate{QuestionID: "Q", YesVotes: 1, NoVotes: 1, TotalVotes: 3}.Validate())
	assert.Error(t, VoteUpdate{QuestionID: "Q", YesVotes: -1, NoVotes: 1, TotalVotes: 0}.Validate())
	assert.NoError(t, VoteUpdate{QuestionID: "Q"}.Validate())
}

func TestMessageTypes(t *testing.T) {
	assert.True(t, TypeVoteUpdate.Relayable())
	assert.True(t, TypeQuestionUpdate.Relayable())
	assert.False(t, TypeUserConnected.Relayable())
	assert.True(t, TypeUserDisconnected.Known())
	assert.False(t, MessageType("ping").Known())
}
