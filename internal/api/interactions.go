package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"example.com/bulletin/internal/auth"
	"example.com/bulletin/internal/persistence"
)

func (h *Handler) castVote(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := authorize(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	vote, err := h.service.CastPollVote(r.Context(), id, caller, domainVote(req))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoteView(*vote))
}

func (h *Handler) myVote(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := authorize(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	vote, err := h.service.MyPollVote(r.Context(), id, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if vote == nil {
		writeError(w, http.StatusNotFound, "not_found", "no vote recorded")
		return
	}
	writeJSON(w, http.StatusOK, toVoteView(*vote))
}

// results serves the tally. Voter breakdowns are limited to admins.
func (h *Handler) results(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := authorize(w, r, auth.ScopeActivitiesRead); !ok {
		return
	}

	breakdown, _ := strconv.ParseBool(r.URL.Query().Get("breakdown"))
	if breakdown {
		if _, ok := authorize(w, r, auth.ScopeActivitiesAdmin); !ok {
			return
		}
		results, err := h.service.PollResultsBreakdown(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResultsView(*results))
		return
	}

	results, err := h.service.PollResults(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultsView(*results))
}

func (h *Handler) closePoll(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := authorize(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	activity, err := h.service.ClosePoll(r.Context(), id, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) purchaseVotes(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := authorize(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	result, err := h.service.PurchaseVotes(r.Context(), id, caller, req.toAdjustments())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseResponse{
		Success:      result.Success,
		Cost:         result.Cost,
		Participants: result.Participants,
		Ledger: LedgerView{
			AddVotesPurchased:    result.Ledger.AddVotesPurchased,
			RemoveVotesPurchased: result.Ledger.RemoveVotesPurchased,
		},
	})
}

func (h *Handler) purchaseHistory(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := authorize(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	allowance, err := h.service.PurchaseHistory(r.Context(), id, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LedgerView{
		AddVotesPurchased:    allowance.Ledger.AddVotesPurchased,
		RemoveVotesPurchased: allowance.Ledger.RemoveVotesPurchased,
		RemainingAdd:         allowance.RemainingAdd,
		RemainingRemove:      allowance.RemainingRemove,
	})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := authorize(w, r, auth.ScopeActivitiesRead); !ok {
		return
	}

	boards, err := h.service.Leaderboards(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]LeaderboardView, 0, len(boards))
	for _, b := range boards {
		out = append(out, LeaderboardView{Group: b.Group, Portfolio: b.Portfolio, Entries: b.Entries})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) submitForm(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := authorize(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	var req SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	sub, err := h.service.SubmitForm(r.Context(), id, caller, req.toAnswers(), req.toProof())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionView(*sub))
}

func (h *Handler) quotePrice(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := authorize(w, r, auth.ScopeActivitiesRead); !ok {
		return
	}

	var req SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	total, err := h.service.QuotePrice(r.Context(), id, req.toAnswers())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{Total: total})
}

func (h *Handler) listSubmissions(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := authorize(w, r, auth.ScopeActivitiesWrite); !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 200 {
				parsed = 200
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	subs, next, err := h.service.ListSubmissions(r.Context(), id, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ListSubmissionsResponse{
		Items:      make([]SubmissionView, 0, len(subs)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for _, s := range subs {
		resp.Items = append(resp.Items, toSubmissionView(s))
	}
	writeJSON(w, http.StatusOK, resp)
}
