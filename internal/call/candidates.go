package call

import "github.com/pion/webrtc/v4"

// Queue limits. Before an offer arrives any peer may trickle candidates at us.
const (
	MaxQueuedPerPeer    = 64
	MaxQueuedCandidates = 256
)

// QueuedCandidate is a remote candidate waiting for the remote description.
type QueuedCandidate struct {
	From      PeerIdentity
	Candidate webrtc.ICECandidateInit
}

// CandidateQueue holds remote candidates that arrived before the remote
// description. Only the session loop touches it.
type CandidateQueue struct {
	items   []QueuedCandidate
	perPeer map[PeerIdentity]int
}

// Push appends c and reports false when from, or the queue as a whole, is
// at its limit.
func (q *CandidateQueue) Push(from PeerIdentity, c webrtc.ICECandidateInit) bool {
	if len(q.items) >= MaxQueuedCandidates || q.perPeer[from] >= MaxQueuedPerPeer {
		return false
	}
	if q.perPeer == nil {
		q.perPeer = make(map[PeerIdentity]int)
	}
	q.perPeer[from]++
	q.items = append(q.items, QueuedCandidate{From: from, Candidate: c})
	return true
}

func (q *CandidateQueue) Len() int { return len(q.items) }

// Drain returns the queued candidates in receipt order and empties the queue.
func (q *CandidateQueue) Drain() []QueuedCandidate {
	out := q.items
	q.items = nil
	q.perPeer = nil
	return out
}
