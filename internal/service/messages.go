package service

import (
	"time"

	"github.com/kkkkikiki/quote-competition/internal/competition"
	"github.com/kkkkikiki/quote-competition/internal/model"
)

type SubmitEntryRequest struct {
	WindowID string `json:"window_id,omitempty"` // defaults to the active window
	Text     string `json:"text"`
}

type SubmitEntryResponse struct {
	Entry *model.Entry `json:"entry"`
}

type CastVoteRequest struct {
	EntryID string `json:"entry_id"`
}

type CastVoteResponse struct {
	Vote  model.Vote `json:"vote"`
	Tally int64      `json:"tally"`
}

type CloseWindowRequest struct {
	WindowID string `json:"window_id,omitempty"` // defaults to the active window once it has ended
}

type CloseWindowResponse struct {
	Closed         bool           `json:"closed"` // false when nothing was due
	ClosedWindowID string         `json:"closed_window_id,omitempty"`
	NextWindowID   string         `json:"next_window_id,omitempty"`
	NextActivated  bool           `json:"next_activated"`
	NoWinner       bool           `json:"no_winner"`
	Winner         *WinnerSummary `json:"winner,omitempty"`
}

type GetActiveWindowRequest struct{}

type GetActiveWindowResponse struct {
	Window     *model.CompetitionWindow `json:"window,omitempty"`
	VotedToday bool                     `json:"voted_today"`         // for the calling user, if identified
	OwnEntry   *model.Entry             `json:"own_entry,omitempty"` // the calling user's entry, if submitted
}

type ListEntriesRequest struct {
	WindowID string `json:"window_id,omitempty"` // defaults to the active window
}

type ListEntriesResponse struct {
	WindowID string             `json:"window_id,omitempty"`
	Entries  []model.EntryTally `json:"entries"`
}

type GetLatestWinnerRequest struct{}

type GetLatestWinnerResponse struct {
	Winner *WinnerSummary `json:"winner,omitempty"`
}

type CreateWindowRequest struct {
	Theme            string    `json:"theme"`
	Description      string    `json:"description"`
	Timezone         string    `json:"timezone"`
	StartsAt         time.Time `json:"starts_at"`
	EndsAt           time.Time `json:"ends_at"`
	CurrencyReward   int64     `json:"currency_reward"`
	ExperienceReward int64     `json:"experience_reward"`
	FollowsWindowID  string    `json:"follows_window_id,omitempty"`
}

type CreateWindowResponse struct {
	Window *model.CompetitionWindow `json:"window"`
}

type ActivateWindowRequest struct {
	WindowID string `json:"window_id"`
}

type ActivateWindowResponse struct {
	Window *model.CompetitionWindow `json:"window"`
}

type GetRewardsRequest struct{}

type GetRewardsResponse struct {
	Balance      *model.Balance            `json:"balance"`
	Transactions []model.RewardTransaction `json:"transactions"`
}

// WinnerSummary is the announced result of a window
type WinnerSummary struct {
	WindowID         string    `json:"window_id"`
	EntryID          string    `json:"entry_id"`
	EntryText        string    `json:"entry_text"`
	AuthorID         string    `json:"author_id"`
	VoteCount        int64     `json:"vote_count"`
	CurrencyAmount   int64     `json:"currency_amount"`
	ExperienceAmount int64     `json:"experience_amount"`
	AnnouncedAt      time.Time `json:"announced_at"`
}

func summarize(o *competition.Outcome) *WinnerSummary {
	if !o.HasWinner() {
		return nil
	}
	s := &WinnerSummary{
		WindowID:         o.WindowID,
		EntryID:          o.Winner.EntryID,
		AuthorID:         o.Winner.AuthorID,
		VoteCount:        o.Winner.VoteCount,
		CurrencyAmount:   o.Winner.CurrencyAmount,
		ExperienceAmount: o.Winner.ExperienceAmount,
		AnnouncedAt:      o.Winner.AnnouncedAt,
	}
	if o.Entry != nil {
		s.EntryText = o.Entry.Text
	}
	return s
}
