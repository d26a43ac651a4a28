package commands

import (
	"github.com/spf13/cobra"

	"github.com/blackms/flyswarm-go/internal/infrastructure/httpapi"
)

var (
	proposeTopic     string
	proposeProposer  string
	proposeThreshold float64
	voteWorker       string
	voteApprove      bool
)

// ConsensusCmd is the parent command for consensus operations.
var ConsensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "Propose and inspect consensus votes",
}

var consensusProposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Open a proposal for the current roster",
	Long: `Open a proposal. Every worker present now is a participant. Votes are
collected shortly after and the proposal resolves as approved when the
share of approvals among cast votes reaches the threshold.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := httpapi.ProposeRequest{Topic: proposeTopic, Proposer: proposeProposer}
		if cmd.Flags().Changed("threshold") {
			req.Threshold = &proposeThreshold
		}
		p, err := NewClient().Propose(cmd.Context(), req)
		if err != nil {
			return err
		}
		return PrintJSON(p)
	},
}

var consensusGetCmd = &cobra.Command{
	Use:   "get <proposal-id>",
	Short: "Show a proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := NewClient().Proposal(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return PrintJSON(p)
	},
}

var consensusVoteCmd = &cobra.Command{
	Use:   "vote <proposal-id>",
	Short: "Cast a vote on behalf of a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := NewClient().Vote(cmd.Context(), args[0], httpapi.VoteRequest{
			WorkerID: voteWorker,
			Approve:  voteApprove,
		})
		if err != nil {
			return err
		}
		return PrintJSON(p)
	},
}

func init() {
	consensusProposeCmd.Flags().StringVar(&proposeTopic, "topic", "", "Proposal topic (required)")
	consensusProposeCmd.Flags().StringVar(&proposeProposer, "proposer", "cli", "Proposer name")
	consensusProposeCmd.Flags().Float64Var(&proposeThreshold, "threshold", 0.5, "Approval threshold in [0, 1]")
	consensusProposeCmd.MarkFlagRequired("topic")

	consensusVoteCmd.Flags().StringVarP(&voteWorker, "worker", "w", "", "Voting worker id (required)")
	consensusVoteCmd.Flags().BoolVar(&voteApprove, "approve", false, "Approve the proposal")
	consensusVoteCmd.MarkFlagRequired("worker")

	ConsensusCmd.AddCommand(consensusProposeCmd)
	ConsensusCmd.AddCommand(consensusGetCmd)
	ConsensusCmd.AddCommand(consensusVoteCmd)
}
