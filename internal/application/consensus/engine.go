// Package consensus provides the voting engine workers use to approve or
// reject proposed swarm decisions.
package consensus

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/blackms/flyswarm-go/internal/shared"
)

// Defaults for consensus rounds.
const (
	DefaultThreshold    = 0.5
	DefaultVotingWindow = 30 * time.Second
	DefaultApprovalRate = 0.7
)

// ============================================================================
// Proposal
// ============================================================================

// Proposal is a decision put to a vote among a fixed participant set.
//
// Proposal is not safe for concurrent use; the engine's owner serializes
// access.
type Proposal struct {
	ID           string
	Topic        string
	Proposer     string
	Threshold    float64
	Deadline     int64
	Participants []string
	Votes        map[string]bool
	Status       shared.ProposalStatus
	CreatedAt    int64
	ResolvedAt   int64

	participants map[string]struct{}
}

// IsOpen reports whether the proposal is still collecting votes.
func (p *Proposal) IsOpen() bool {
	return p.Status == shared.ProposalStatusOpen
}

// IsParticipant reports whether workerID was on the roster at creation.
func (p *Proposal) IsParticipant(workerID string) bool {
	_, ok := p.participants[workerID]
	return ok
}

// Approvals returns the number of approving votes recorded so far.
func (p *Proposal) Approvals() int {
	n := 0
	for _, v := range p.Votes {
		if v {
			n++
		}
	}
	return n
}

// ToShared converts the proposal to a snapshot. An open proposal past its
// deadline is flagged expired; the deadline does not stop vote collection.
func (p *Proposal) ToShared(now int64) shared.ConsensusProposal {
	participants := make([]string, len(p.Participants))
	copy(participants, p.Participants)

	votes := make(map[string]bool, len(p.Votes))
	for k, v := range p.Votes {
		votes[k] = v
	}

	return shared.ConsensusProposal{
		ID:           p.ID,
		Topic:        p.Topic,
		Proposer:     p.Proposer,
		Threshold:    p.Threshold,
		Deadline:     p.Deadline,
		Participants: participants,
		Votes:        votes,
		Status:       p.Status,
		Expired:      p.IsOpen() && now > p.Deadline,
		CreatedAt:    p.CreatedAt,
		ResolvedAt:   p.ResolvedAt,
	}
}

// ToEvent converts a proposal to the event recorded when it resolves.
func (p *Proposal) ToEvent() shared.ConsensusEvent {
	snapshot := p.ToShared(p.ResolvedAt)
	return shared.ConsensusEvent{
		ProposalID:   snapshot.ID,
		Topic:        snapshot.Topic,
		Votes:        snapshot.Votes,
		Result:       snapshot.Status,
		Participants: snapshot.Participants,
	}
}

// ============================================================================
// Engine
// ============================================================================

// Config holds configuration for the consensus engine.
type Config struct {
	Voter        Voter
	VotingWindow time.Duration
}

// Engine owns proposals and resolves them by tallying votes.
//
// Engine is not safe for concurrent use; the coordinator serializes access.
type Engine struct {
	proposals    map[string]*Proposal
	order        []string
	voter        Voter
	votingWindow time.Duration
}

// New creates a consensus engine. A nil voter defaults to a RandomVoter with
// a 70% approval rate.
func New(config Config) *Engine {
	voter := config.Voter
	if voter == nil {
		voter = &RandomVoter{ApprovalRate: DefaultApprovalRate}
	}
	window := config.VotingWindow
	if window <= 0 {
		window = DefaultVotingWindow
	}

	return &Engine{
		proposals:    make(map[string]*Proposal),
		order:        make([]string, 0),
		voter:        voter,
		votingWindow: window,
	}
}

// NewProposalID returns a proposal id combining a millisecond timestamp with
// a random suffix.
func NewProposalID() string {
	return fmt.Sprintf("consensus-%d-%s", shared.Now(), shared.ShortID())
}

// Propose opens a proposal whose participants are a snapshot of roster.
func (e *Engine) Propose(topic, proposer string, threshold float64, roster []string, now int64) (*Proposal, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, shared.NewValidationError("proposal topic is required", nil)
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, shared.NewValidationError("threshold must be within [0, 1]", map[string]interface{}{"threshold": threshold})
	}

	id := NewProposalID()
	for e.proposals[id] != nil {
		id = NewProposalID()
	}

	participants := make([]string, len(roster))
	copy(participants, roster)
	set := make(map[string]struct{}, len(participants))
	for _, w := range participants {
		set[w] = struct{}{}
	}

	p := &Proposal{
		ID:           id,
		Topic:        topic,
		Proposer:     proposer,
		Threshold:    threshold,
		Deadline:     now + e.votingWindow.Milliseconds(),
		Participants: participants,
		Votes:        make(map[string]bool, len(participants)),
		Status:       shared.ProposalStatusOpen,
		CreatedAt:    now,
		participants: set,
	}
	e.proposals[p.ID] = p
	e.order = append(e.order, p.ID)
	return p, nil
}

// Get returns a proposal by id.
func (e *Engine) Get(proposalID string) (*Proposal, error) {
	p, exists := e.proposals[proposalID]
	if !exists {
		return nil, shared.NewNotFoundError("proposal not found", map[string]interface{}{"proposalId": proposalID})
	}
	return p, nil
}

// List returns every proposal in creation order.
func (e *Engine) List() []*Proposal {
	out := make([]*Proposal, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.proposals[id])
	}
	return out
}

// RecordVote stores one participant's vote on an open proposal.
func (e *Engine) RecordVote(proposalID, workerID string, approve bool) error {
	p, err := e.Get(proposalID)
	if err != nil {
		return err
	}
	details := map[string]interface{}{"proposalId": proposalID, "workerId": workerID}
	if !p.IsOpen() {
		return shared.NewInvalidStateError("proposal is already resolved", details)
	}
	if !p.IsParticipant(workerID) {
		return shared.NewInvalidStateError("worker is not a participant", details)
	}
	if _, voted := p.Votes[workerID]; voted {
		return shared.NewInvalidStateError("worker has already voted", details)
	}

	p.Votes[workerID] = approve
	return nil
}

// CollectVotes asks the voter for every participant that has not voted yet,
// then resolves the proposal.
func (e *Engine) CollectVotes(proposalID string, now int64) (*Proposal, error) {
	p, err := e.Get(proposalID)
	if err != nil {
		return nil, err
	}
	if !p.IsOpen() {
		return nil, shared.NewInvalidStateError("proposal is already resolved", map[string]interface{}{"proposalId": proposalID})
	}

	for _, workerID := range p.Participants {
		if _, voted := p.Votes[workerID]; voted {
			continue
		}
		p.Votes[workerID] = e.voter.Vote(p, workerID)
	}

	return p, e.Tally(proposalID, now)
}

// Tally resolves an open proposal: approved when approvals divided by votes
// cast reaches the threshold, rejected otherwise. A proposal without votes
// is rejected.
func (e *Engine) Tally(proposalID string, now int64) error {
	p, err := e.Get(proposalID)
	if err != nil {
		return err
	}
	if !p.IsOpen() {
		return shared.NewInvalidStateError("proposal is already resolved", map[string]interface{}{"proposalId": proposalID})
	}

	p.Status = shared.ProposalStatusRejected
	if total := len(p.Votes); total > 0 {
		if float64(p.Approvals())/float64(total) >= p.Threshold {
			p.Status = shared.ProposalStatusApproved
		}
	}
	p.ResolvedAt = now
	if p.ResolvedAt < p.CreatedAt {
		p.ResolvedAt = p.CreatedAt
	}
	return nil
}
