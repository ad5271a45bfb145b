// Package surface derives the bounded, prioritized card list a UI shows
// for a session. Projection is a pure function of session state: the same
// input always yields the same cards in the same order.
package surface

import (
	"sort"
	"time"
)

// CardKind classifies a surface card.
type CardKind string

const (
	CardUrgent          CardKind = "urgent"
	CardArtifactReady   CardKind = "artifact_ready"
	CardActionClose     CardKind = "action_close"
	CardActionAvailable CardKind = "action_available"
)

// rank orders card kinds; lower surfaces first.
var rank = map[CardKind]int{
	CardUrgent:          0,
	CardArtifactReady:   1,
	CardActionClose:     2,
	CardActionAvailable: 3,
}

// Card is one UI surface element. Keys are opaque action/artifact ids;
// all prose lives outside the engine behind HintTextKey.
type Card struct {
	Kind        CardKind `json:"kind"`
	Key         string   `json:"key"`
	HintTextKey string   `json:"hint_text_key,omitempty"`
	Missing     []string `json:"missing,omitempty"`
}

// ActionView is the gate outcome for one action, precomputed by the
// session layer against a consistent snapshot.
type ActionView struct {
	ID          string
	Urgent      bool
	Feasible    bool
	Missing     []string
	Total       int
	HintTextKey string
}

// ArtifactView is the lifecycle summary for one artifact.
type ArtifactView struct {
	ID          string
	Ready       bool
	GeneratedAt *time.Time
}

// Input is everything a projection depends on. Now anchors the
// recency check for ready-artifact cards.
type Input struct {
	Actions   []ActionView
	Artifacts []ArtifactView
	MaxCards  int
	Now       time.Time
}

// closeFraction is the share of met conditions above which a blocked
// action counts as close to unblocking.
const closeFraction = 0.5

// readyCardWindow bounds how long a ready artifact stays carded. Past
// it the artifact is still retrievable through its endpoint; it just
// stops crowding action cards out of the bounded surface.
const readyCardWindow = 15 * time.Minute

// Project returns at most MaxCards cards: urgent actions first, then
// recently ready artifacts, then blocked actions close to unblocking, then
// available supportive actions. Ties break on the id so output is
// reproducible for identical input.
func Project(in Input) []Card {
	var cards []Card

	for _, a := range in.Actions {
		switch {
		case a.Urgent:
			cards = append(cards, Card{
				Kind:        CardUrgent,
				Key:         a.ID,
				HintTextKey: a.HintTextKey,
				Missing:     a.Missing,
			})
		case a.Feasible:
			cards = append(cards, Card{Kind: CardActionAvailable, Key: a.ID})
		case isClose(a):
			cards = append(cards, Card{
				Kind:        CardActionClose,
				Key:         a.ID,
				HintTextKey: a.HintTextKey,
				Missing:     a.Missing,
			})
		}
	}

	for _, art := range in.Artifacts {
		if !art.Ready {
			continue
		}
		if art.GeneratedAt != nil && in.Now.Sub(*art.GeneratedAt) > readyCardWindow {
			continue
		}
		cards = append(cards, Card{Kind: CardArtifactReady, Key: art.ID})
	}

	sort.Slice(cards, func(i, j int) bool {
		ri, rj := rank[cards[i].Kind], rank[cards[j].Kind]
		if ri != rj {
			return ri < rj
		}
		return cards[i].Key < cards[j].Key
	})

	max := in.MaxCards
	if max <= 0 {
		max = 4
	}
	if len(cards) > max {
		cards = cards[:max]
	}
	return cards
}

func isClose(a ActionView) bool {
	if a.Total == 0 {
		return false
	}
	met := a.Total - len(a.Missing)
	return float64(met) >= closeFraction*float64(a.Total)
}
