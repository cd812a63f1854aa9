package model

// Choice is one side of a yes/no question. The zero value means no vote.
type Choice string

const (
	ChoiceNone Choice = ""
	ChoiceYes  Choice = "yes"
	ChoiceNo   Choice = "no"
)

func (c Choice) Valid() bool {
	return c == ChoiceYes || c == ChoiceNo
}

// Question is the slice of a question record the real-time layer cares about.
// The record itself lives in the CRUD API; UserVote is scoped to the viewing
// identity.
type Question struct {
	ID         string `json:"id"`
	Text       string `json:"text,omitempty"`
	YesVotes   int    `json:"yesVotes"`
	NoVotes    int    `json:"noVotes"`
	TotalVotes int    `json:"totalVotes"`
	UserVote   Choice `json:"userVote,omitempty"`
}

// Normalize recomputes TotalVotes from the two sides.
func (q *Question) Normalize() {
	q.TotalVotes = q.YesVotes + q.NoVotes
}

func (q Question) HasVoted() bool {
	return q.UserVote != ChoiceNone
}
