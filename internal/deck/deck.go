// Package deck is the per-room shuffled card deck persisted in the
// keyed store (spec §4.3).
package deck

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"lowcard/config"
)

// Card mirrors spec §3.2's Card entity. Value ranges 2..14 (Jack=11,
// Queen=12, King=13, Ace=14); suits never break ties.
type Card struct {
	Value int    `json:"value"`
	Suit  string `json:"suit"`
	Code  string `json:"code"`
	Image string `json:"image"`
}

var suits = []string{"h", "d", "c", "s"}

// rankCode maps a card value to the rank used in its code/image token
// (spec §4.7's `[CARD:<code>]` display token): one character for every
// value except 10, which is "10".
func rankCode(value int) string {
	switch value {
	case 11:
		return "J"
	case 12:
		return "Q"
	case 13:
		return "K"
	case 14:
		return "A"
	default:
		return fmt.Sprintf("%d", value)
	}
}

func newFullDeck() []Card {
	cards := make([]Card, 0, 52)
	for _, suit := range suits {
		for value := 2; value <= 14; value++ {
			code := rankCode(value) + suit
			cards = append(cards, Card{
				Value: value,
				Suit:  suit,
				Code:  code,
				Image: code + ".png",
			})
		}
	}
	return cards
}

// shuffle performs a Fisher-Yates shuffle in place.
func shuffle(cards []Card, rng *rand.Rand) {
	for i := len(cards) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
}

// Store is the subset of the Keyed Store the Deck Service needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Service draws cards from a per-room deck, regenerating and
// reshuffling it whenever it runs out.
type Service struct {
	store Store
	rng   *rand.Rand
}

// New builds a Service. rng is injectable so tests (and spec §8's S1
// "injected RNG produces Alice=5h...") can pin the shuffle order;
// production code passes a time-seeded *rand.Rand.
func New(store Store, rng *rand.Rand) *Service {
	return &Service{store: store, rng: rng}
}

// Reset deletes a room's deck key, forcing the next Draw to regenerate
// a fresh shuffle. Called whenever a game is cleaned up (finish,
// cancel, reset, stale-cleanup).
func (s *Service) Reset(ctx context.Context, roomID string) error {
	key := fmt.Sprintf(config.KeyLowcardDeck, roomID)
	return s.store.Delete(ctx, key)
}

// Draw pops one card from the tail of the room's deck and rewrites the
// remainder. If the deck key is missing or empty it is regenerated
// first — this allows continuation across arbitrarily long games,
// though 52 cards are ample for any single LowCard game.
func (s *Service) Draw(ctx context.Context, roomID string) (Card, error) {
	key := fmt.Sprintf(config.KeyLowcardDeck, roomID)

	cards, err := s.load(ctx, key)
	if err != nil {
		return Card{}, err
	}
	if len(cards) == 0 {
		cards = newFullDeck()
		shuffle(cards, s.rng)
	}

	drawn := cards[len(cards)-1]
	remaining := cards[:len(cards)-1]

	if err := s.save(ctx, key, remaining); err != nil {
		return Card{}, err
	}

	return drawn, nil
}

func (s *Service) load(ctx context.Context, key string) ([]Card, error) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("deck load: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var cards []Card
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		return nil, fmt.Errorf("deck load: unmarshal: %w", err)
	}
	return cards, nil
}

func (s *Service) save(ctx context.Context, key string, cards []Card) error {
	data, err := json.Marshal(cards)
	if err != nil {
		return fmt.Errorf("deck save: marshal: %w", err)
	}
	if err := s.store.Set(ctx, key, string(data), config.DeckTTL); err != nil {
		return fmt.Errorf("deck save: %w", err)
	}
	return nil
}
