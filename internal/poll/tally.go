package poll

import (
	"math"

	"meeting-live/internal/db"
)

// tally counts ballots per option. Percentages are relative to the number of
// distinct voters, so multi-select polls can add up to more than 100.
func tally(poll db.Poll, ballots []db.Ballot) Tally {
	counts := make(map[uint]int, len(poll.Options))
	voters := make(map[uint][]string)
	distinct := make(map[string]struct{})
	for _, ballot := range ballots {
		counts[ballot.OptionID]++
		distinct[ballot.VoterID] = struct{}{}
		if !poll.Anonymous {
			name := ballot.VoterName
			if name == "" {
				name = ballot.VoterID
			}
			voters[ballot.OptionID] = append(voters[ballot.OptionID], name)
		}
	}

	total := len(distinct)
	out := Tally{
		PollID:      poll.ID,
		TotalVoters: total,
		Results:     make([]OptionResult, 0, len(poll.Options)),
	}
	for _, option := range poll.Options {
		result := OptionResult{
			OptionID: option.ID,
			Content:  option.Content,
			Count:    counts[option.ID],
		}
		if total > 0 {
			result.Percent = math.Round(float64(result.Count)*1000/float64(total)) / 10
		}
		if !poll.Anonymous {
			result.Voters = voters[option.ID]
		}
		out.Results = append(out.Results, result)
	}
	return out
}
