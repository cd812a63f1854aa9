package wire

import "github.com/pkg/errors"

// VoteUpdate asserts the current aggregate counts of one question, as seen by
// the peer that just voted. It is never persisted.
type VoteUpdate struct {
	QuestionID string `json:"questionId"`
	YesVotes   int    `json:"yesVotes"`
	NoVotes    int    `json:"noVotes"`
	TotalVotes int    `json:"totalVotes"`
	UserID     string `json:"userId"`
}

func (u VoteUpdate) Validate() error {
	if u.QuestionID == "" {
		return errors.New("vote update has no questionId")
	}
	if u.YesVotes < 0 || u.NoVotes < 0 {
		return errors.Errorf("vote update for %s has negative counts", u.QuestionID)
	}
	if u.TotalVotes != u.YesVotes+u.NoVotes {
		return errors.Errorf("vote update for %s: totalVotes %d != %d+%d",
			u.QuestionID, u.TotalVotes, u.YesVotes, u.NoVotes)
	}
	return nil
}

// QuestionUpdate carries edits to question metadata. Absent fields are
// unchanged.
type QuestionUpdate struct {
	QuestionID string   `json:"questionId"`
	Text       string   `json:"text,omitempty"`
	Hashtags   []string `json:"hashtags,omitempty"`
	IsVerified *bool    `json:"isVerified,omitempty"`
}

// Welcome is the user_connected payload sent once to a newly connected peer.
type Welcome struct {
	Message string `json:"message"`
	PeerID  string `json:"peerId,omitempty"`
}
