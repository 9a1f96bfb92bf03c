// Package pairing creates and joins two-person pairs via human-typed
// invite codes. It owns the only consistency-critical mutation in the
// system: appending a member to a pair, which must never push membership
// past two even under concurrent joins.
package pairing

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog"

	"couplesync/internal/client/cache"
	"couplesync/internal/client/store"
	"couplesync/internal/common"
	"couplesync/internal/models"
)

const (
	codeLength = 8
	codeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// maxCodeAttempts bounds the check-then-insert loop for invite code
	// generation; exhaustion means the code space is effectively full.
	maxCodeAttempts = 8

	// maxJoinAttempts bounds the compare-and-swap retry loop for joins.
	maxJoinAttempts = 4
)

// Service handles pair lifecycle against the document store.
type Service struct {
	docs  store.Store
	cache *cache.Store // optional
	log   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables local pair snapshots and durable settings: GetPair
// falls back to the last-known-good pair when the store is unreachable,
// and the invite code and start date survive restarts.
func WithCache(c *cache.Store) Option {
	return func(s *Service) { s.cache = c }
}

// NewService creates a new pairing service.
func NewService(docs store.Store, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{docs: docs, log: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePair inserts a pending pair owned by ownerID with a freshly
// generated invite code. Codes are checked for collisions before insert,
// with a bounded retry count.
func (s *Service) CreatePair(ctx context.Context, ownerID, startDate string) (*models.Pair, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("create pair: %w", common.ErrAuthRequired)
	}
	if _, err := models.ParseDate(startDate); err != nil {
		return nil, fmt.Errorf("create pair: bad start date %q: %w", startDate, common.ErrValidation)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := generateCode()
		taken, err := s.codeExists(ctx, code)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}

		doc, err := s.docs.CreateDocument(ctx, models.CollectionPairs, map[string]any{
			"invite_code": code,
			"users":       []string{ownerID},
			"status":      models.PairStatusPending,
			"start_date":  startDate,
		})
		if err != nil {
			return nil, fmt.Errorf("create pair: %w", err)
		}

		s.log.Info().
			Str("pair_id", doc.ID).
			Str("invite_code", code).
			Msg("Pair created")

		pair, err := pairFromDocument(doc)
		if err != nil {
			return nil, err
		}
		s.rememberPair(ctx, ownerID, pair)
		return pair, nil
	}

	return nil, common.ErrCodeSpaceExhausted
}

// JoinPair appends userID to the pair identified by code. The append is
// conditioned on the pair document's version, so racing joiners cannot
// push membership past two: the loser re-reads, sees a full pair, and
// gets Conflict. Joining a pair the user already belongs to returns the
// existing state unchanged.
func (s *Service) JoinPair(ctx context.Context, userID, code string) (*models.Pair, error) {
	if userID == "" {
		return nil, fmt.Errorf("join pair: %w", common.ErrAuthRequired)
	}
	code = NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("join pair: empty invite code: %w", common.ErrValidation)
	}

	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		pair, err := s.pairByCode(ctx, code)
		if err != nil {
			return nil, err
		}

		if pair.HasUser(userID) {
			return pair, nil
		}
		if len(pair.Users) >= 2 {
			return nil, fmt.Errorf("join pair: pair is full: %w", common.ErrConflict)
		}

		users := append(append([]string(nil), pair.Users...), userID)
		status := models.PairStatusPending
		if len(users) >= 2 {
			status = models.PairStatusActive
		}

		doc, err := s.docs.UpdateDocument(ctx, models.CollectionPairs, pair.ID, pair.Version, map[string]any{
			"users":  users,
			"status": status,
		})
		if errors.Is(err, common.ErrConflict) {
			// Lost the race; re-read and re-check membership.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("join pair: %w", err)
		}

		s.log.Info().
			Str("pair_id", doc.ID).
			Str("user_id", userID).
			Str("status", status).
			Msg("Joined pair")

		joined, err := pairFromDocument(doc)
		if err != nil {
			return nil, err
		}
		s.rememberPair(ctx, userID, joined)
		return joined, nil
	}

	return nil, fmt.Errorf("join pair: lost concurrent join race: %w", common.ErrConflict)
}

// CheckInviteCode reports whether code resolves to a pair. It is a pure
// existence probe with no mutation.
func (s *Service) CheckInviteCode(ctx context.Context, code string) (bool, error) {
	code = NormalizeCode(code)
	if code == "" {
		return false, nil
	}
	docs, err := s.docs.ListDocuments(ctx, models.CollectionPairs,
		[]store.Filter{store.Equal("invite_code", code)}, nil)
	if err != nil {
		return false, fmt.Errorf("check invite code: %w", err)
	}
	return len(docs) > 0, nil
}

// GetPair returns the pair userID belongs to, or NotFound.
func (s *Service) GetPair(ctx context.Context, userID string) (*models.Pair, error) {
	if userID == "" {
		return nil, fmt.Errorf("get pair: %w", common.ErrAuthRequired)
	}
	docs, err := s.docs.ListDocuments(ctx, models.CollectionPairs,
		[]store.Filter{store.Contains("users", userID)}, nil)
	if err != nil {
		if pair, ok := s.cachedPair(ctx, userID); ok {
			s.log.Warn().Err(err).Msg("Pair fetch failed, serving cached snapshot")
			return pair, nil
		}
		return nil, fmt.Errorf("get pair: %w", err)
	}
	if len(docs) == 0 {
		s.forgetPair(ctx, userID)
		return nil, fmt.Errorf("get pair: no pair for user: %w", common.ErrNotFound)
	}

	pair, err := pairFromDocument(docs[0])
	if err != nil {
		return nil, err
	}
	s.rememberPair(ctx, userID, pair)
	return pair, nil
}

// SetStartDate updates the pair's start date. This is the only way the
// start date changes after creation; sync never mutates it implicitly.
func (s *Service) SetStartDate(ctx context.Context, userID, startDate string) (*models.Pair, error) {
	if userID == "" {
		return nil, fmt.Errorf("set start date: %w", common.ErrAuthRequired)
	}
	if _, err := models.ParseDate(startDate); err != nil {
		return nil, fmt.Errorf("set start date: bad date %q: %w", startDate, common.ErrValidation)
	}
	pair, err := s.GetPair(ctx, userID)
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.UpdateDocument(ctx, models.CollectionPairs, pair.ID, pair.Version, map[string]any{
		"start_date": startDate,
	})
	if err != nil {
		return nil, fmt.Errorf("set start date: %w", err)
	}

	updated, err := pairFromDocument(doc)
	if err != nil {
		return nil, err
	}
	s.rememberPair(ctx, userID, updated)
	return updated, nil
}

// LeavePair removes the pair record for the pair userID belongs to. The
// record is terminal: the remaining participant becomes unpaired and the
// pair is never reused. The partner observes the deletion through the
// change feed.
func (s *Service) LeavePair(ctx context.Context, userID string) error {
	pair, err := s.GetPair(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.docs.DeleteDocument(ctx, models.CollectionPairs, pair.ID); err != nil {
		return fmt.Errorf("leave pair: %w", err)
	}
	s.forgetPair(ctx, userID)
	s.log.Info().Str("pair_id", pair.ID).Str("user_id", userID).Msg("Pair dissolved")
	return nil
}

// NormalizeCode canonicalizes a human-typed invite code: trimmed and
// uppercased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// rememberPair persists the pair snapshot and the durable settings the
// app needs before the network is up again.
func (s *Service) rememberPair(ctx context.Context, userID string, pair *models.Pair) {
	if s.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, cache.PairKey(userID), pair); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache pair snapshot")
	}
	if err := s.cache.SetString(ctx, cache.KeyStartDate, pair.StartDate); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist start date")
	}
	if err := s.cache.SetString(ctx, cache.KeyInviteCode, pair.InviteCode); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist invite code")
	}
}

func (s *Service) cachedPair(ctx context.Context, userID string) (*models.Pair, bool) {
	if s.cache == nil {
		return nil, false
	}
	pair, ok, err := cache.GetJSON[models.Pair](ctx, s.cache, cache.PairKey(userID))
	if err != nil || !ok {
		return nil, false
	}
	return &pair, true
}

func (s *Service) forgetPair(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Remove(ctx, cache.PairKey(userID)); err != nil {
		s.log.Warn().Err(err).Msg("Failed to drop pair snapshot")
	}
}

func (s *Service) codeExists(ctx context.Context, code string) (bool, error) {
	docs, err := s.docs.ListDocuments(ctx, models.CollectionPairs,
		[]store.Filter{store.Equal("invite_code", code)}, nil)
	if err != nil {
		return false, fmt.Errorf("check code collision: %w", err)
	}
	return len(docs) > 0, nil
}

// generateCode generates a random 8-character uppercase alphanumeric code.
func generateCode() string {
	code := make([]byte, codeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

// pairFromDocument decodes a pair document's fields into the typed model.
func pairFromDocument(doc *store.Document) (*models.Pair, error) {
	data, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("decode pair %s: %w", doc.ID, err)
	}
	var pair models.Pair
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("decode pair %s: %w", doc.ID, err)
	}
	pair.ID = doc.ID
	pair.Version = doc.Version
	return &pair, nil
}

func (s *Service) pairByCode(ctx context.Context, code string) (*models.Pair, error) {
	docs, err := s.docs.ListDocuments(ctx, models.CollectionPairs,
		[]store.Filter{store.Equal("invite_code", code)}, nil)
	if err != nil {
		return nil, fmt.Errorf("lookup invite code: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("invite code %s: %w", code, common.ErrNotFound)
	}
	return pairFromDocument(docs[0])
}
