package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pipscreen/internal/registry/models"
	id "pipscreen/pkg/domain"
	"pipscreen/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	base  time.Time
	seq   int
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seq = 0
}

func (s *InMemoryStoreSuite) seed(first, last, nationalID string, mutate ...func(*models.PIP)) *models.PIP {
	s.seq++
	p := &models.PIP{
		ID:         id.NewPIPID(),
		FirstName:  first,
		LastName:   last,
		NationalID: nationalID,
		Type:       models.TypeDomestic,
		Reason:     "Member of Parliament",
		IsActive:   true,
		CreatedAt:  s.base.Add(time.Duration(s.seq) * time.Minute),
	}
	for _, m := range mutate {
		m(p)
	}
	s.Require().NoError(s.store.Create(s.ctx, p))
	return p
}

func foreign(country string) func(*models.PIP) {
	return func(p *models.PIP) {
		p.Type = models.TypeForeign
		p.Foreign = &models.ForeignDetail{Country: country}
	}
}

func inactive(p *models.PIP) { p.IsActive = false }

// =============================================================================
// Matching
// =============================================================================

func (s *InMemoryStoreSuite) TestFindDirectMatches() {
	local := s.seed("Peter", "Nangolo", "85010100123")
	abroad := s.seed("Petrus", "Shikongo", "", foreign("Angola"))
	retired := s.seed("Peter", "Amutenya", "", inactive)

	s.Run("substring of any name part, case-insensitive", func() {
		ids, err := s.store.FindDirectMatches(s.ctx, models.MatchQuery{NameTokens: []string{"PET"}}, id.FacetAll, false)
		s.Require().NoError(err)
		s.Equal([]id.PIPID{local.ID, abroad.ID}, ids)
	})

	s.Run("elevated callers see inactive records", func() {
		ids, err := s.store.FindDirectMatches(s.ctx, models.MatchQuery{NameTokens: []string{"pet"}}, id.FacetAll, true)
		s.Require().NoError(err)
		s.Equal([]id.PIPID{local.ID, abroad.ID, retired.ID}, ids)
	})

	s.Run("identifier substring", func() {
		ids, err := s.store.FindDirectMatches(s.ctx, models.MatchQuery{IdentifierTokens: []string{"0100"}}, id.FacetAll, false)
		s.Require().NoError(err)
		s.Equal([]id.PIPID{local.ID}, ids)
	})

	s.Run("local and foreign facets split on foreign detail", func() {
		q := models.MatchQuery{NameTokens: []string{"pet"}}
		ids, err := s.store.FindDirectMatches(s.ctx, q, id.FacetLocal, false)
		s.Require().NoError(err)
		s.Equal([]id.PIPID{local.ID}, ids)

		ids, err = s.store.FindDirectMatches(s.ctx, q, id.FacetForeign, false)
		s.Require().NoError(err)
		s.Equal([]id.PIPID{abroad.ID}, ids)
	})

	s.Run("unknown facet behaves as all", func() {
		ids, err := s.store.FindDirectMatches(s.ctx, models.MatchQuery{NameTokens: []string{"pet"}}, id.Facet("bogus"), false)
		s.Require().NoError(err)
		s.Len(ids, 2)
	})

	s.Run("empty token set returns nothing", func() {
		ids, err := s.store.FindDirectMatches(s.ctx, models.MatchQuery{NameTokens: []string{" "}}, id.FacetAll, true)
		s.Require().NoError(err)
		s.Empty(ids)
	})
}

func (s *InMemoryStoreSuite) TestFindAssociateMatches() {
	owner := s.seed("Hage", "Geingob", "", func(p *models.PIP) {
		p.Associates = []models.Associate{{ID: id.NewAssociateID(), FullName: "Monica Geingos", Relationship: models.RelationshipSpouse, NationalID: "77"}}
	})
	s.seed("Other", "Person", "")

	ids, err := s.store.FindAssociateMatches(s.ctx, models.MatchQuery{NameTokens: []string{"monica"}})
	s.Require().NoError(err)
	s.Equal([]id.PIPID{owner.ID}, ids)

	ids, err = s.store.FindAssociateMatches(s.ctx, models.MatchQuery{IdentifierTokens: []string{"7"}})
	s.Require().NoError(err)
	s.Equal([]id.PIPID{owner.ID}, ids)
}

// =============================================================================
// Hydration and listing
// =============================================================================

func (s *InMemoryStoreSuite) TestFetchDetails() {
	active := s.seed("Sam", "Nujoma", "")
	retired := s.seed("Old", "Guard", "", inactive)

	s.Run("skips missing ids and inactive records for regular callers", func() {
		pips, err := s.store.FetchDetails(s.ctx, []id.PIPID{active.ID, retired.ID, id.NewPIPID(), active.ID}, false)
		s.Require().NoError(err)
		s.Require().Len(pips, 1)
		s.Equal(active.ID, pips[0].ID)
	})

	s.Run("returns copies", func() {
		pips, err := s.store.FetchDetails(s.ctx, []id.PIPID{active.ID}, true)
		s.Require().NoError(err)
		pips[0].FirstName = "Mutated"

		again, err := s.store.Get(s.ctx, active.ID)
		s.Require().NoError(err)
		s.Equal("Sam", again.FirstName)
	})
}

func (s *InMemoryStoreSuite) TestListAllNameAndIdentifierTokens() {
	s.seed("Peter", "Nangolo", "NA-123", func(p *models.PIP) {
		p.MiddleName = "Ndeshi Kalenga"
		p.Associates = []models.Associate{{ID: id.NewAssociateID(), FullName: "Maria Nangolo"}}
	})

	tokens, err := s.store.ListAllNameAndIdentifierTokens(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"kalenga", "maria", "na-123", "nangolo", "ndeshi", "peter"}, tokens)
}

// =============================================================================
// Writes
// =============================================================================

func (s *InMemoryStoreSuite) TestWrites() {
	s.Run("create rejects duplicate ids", func() {
		p := s.seed("A", "B", "")
		s.ErrorIs(s.store.Create(s.ctx, p), sentinel.ErrConflict)
	})

	s.Run("replace collections swaps wholesale", func() {
		p := s.seed("Peter", "Nangolo", "", func(p *models.PIP) {
			p.Associates = []models.Associate{{ID: id.NewAssociateID(), FullName: "First"}, {ID: id.NewAssociateID(), FullName: "Second"}}
		})
		replacement := []models.Associate{{ID: id.NewAssociateID(), FullName: "Third"}}
		s.Require().NoError(s.store.ReplaceAssociates(s.ctx, p.ID, replacement))

		got, err := s.store.Get(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(replacement, got.Associates)
	})

	s.Run("unknown ids return ErrNotFound", func() {
		missing := id.NewPIPID()
		s.ErrorIs(s.store.SetActive(s.ctx, missing, true, time.Now()), sentinel.ErrNotFound)
		s.ErrorIs(s.store.UpsertForeign(s.ctx, missing, nil), sentinel.ErrNotFound)
		s.ErrorIs(s.store.Update(s.ctx, &models.PIP{ID: missing}), sentinel.ErrNotFound)
	})

	s.Run("failed transaction restores prior state", func() {
		p := s.seed("Keep", "Me", "")
		boom := errors.New("boom")
		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			s.Require().NoError(s.store.SetActive(ctx, p.ID, false, time.Now()))
			s.Require().NoError(s.store.UpsertForeign(ctx, p.ID, &models.ForeignDetail{Country: "Zambia"}))
			return boom
		})
		s.ErrorIs(err, boom)

		got, err := s.store.Get(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(got.IsActive)
		s.Nil(got.Foreign)
	})
}
