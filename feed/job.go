package feed

// State is the lifecycle position of a fan-out job.
type State string

const (
	StateReceived        State = "Received"
	StateEnumerating     State = "Enumerating"
	StateDistributing    State = "Distributing"
	StateDone            State = "Done"
	StatePartiallyFailed State = "PartiallyFailed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StatePartiallyFailed
}

// Kind distinguishes distributing a new post from retracting an author's posts.
type Kind string

const (
	KindDistribute Kind = "distribute"
	KindRetract    Kind = "retract"
)

// Job reports the outcome of one fan-out or retraction.
type Job struct {
	Kind Kind

	// PostID and AuthorID identify the distributed post.
	PostID   string
	AuthorID string

	// FollowerID is the feed owner for retractions.
	FollowerID string

	State State

	// Transitions lists every state the job passed through, in order.
	Transitions []State

	// Targets is the number of feed entries to write or delete.
	Targets int

	// Chunks is the number of transactions the targets were split into.
	Chunks int

	// CommittedChunks counts chunks that committed before the job ended.
	CommittedChunks int

	// Entries counts feed entries written or deleted by committed chunks.
	Entries int

	// Skipped counts followers whose edge postdates the post when
	// distributing, and entries newer than the unfollow when retracting.
	Skipped int

	// Truncated is set when follower enumeration stopped at the configured cap.
	Truncated bool

	// Err is the chunk failure that ended a PartiallyFailed job.
	Err error
}

func newJob(kind Kind) *Job {
	j := &Job{Kind: kind}
	j.transition(StateReceived)
	return j
}

func (j *Job) transition(s State) {
	j.State = s
	j.Transitions = append(j.Transitions, s)
}
