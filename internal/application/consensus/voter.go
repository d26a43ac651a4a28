package consensus

import (
	"math/rand/v2"
)

// Voter decides how a participant votes on a proposal.
type Voter interface {
	Vote(p *Proposal, workerID string) bool
}

// VoterFunc adapts a function to Voter.
type VoterFunc func(p *Proposal, workerID string) bool

// Vote calls f.
func (f VoterFunc) Vote(p *Proposal, workerID string) bool {
	return f(p, workerID)
}

// RandomVoter approves with probability ApprovalRate.
type RandomVoter struct {
	ApprovalRate float64
}

// Vote draws an independent approval per call.
func (v *RandomVoter) Vote(_ *Proposal, _ string) bool {
	return rand.Float64() < v.ApprovalRate
}

// FixedVoter returns a preset vote per worker and Default for everyone else.
type FixedVoter struct {
	Votes   map[string]bool
	Default bool
}

// Vote looks up workerID's preset vote.
func (v FixedVoter) Vote(_ *Proposal, workerID string) bool {
	if vote, ok := v.Votes[workerID]; ok {
		return vote
	}
	return v.Default
}
