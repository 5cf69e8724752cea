package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"dncproxy/internal/actionlog/models"
	"dncproxy/internal/actionlog/store"
	"dncproxy/internal/admin/service"
	"dncproxy/pkg/testutil"
)

const apiKey = "admin-key-123"

type ActionsHandlerSuite struct {
	suite.Suite
	router chi.Router
	store  *store.InMemoryStore
}

func TestActionsHandlerSuite(t *testing.T) {
	suite.Run(t, new(ActionsHandlerSuite))
}

func (s *ActionsHandlerSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := range 7 {
		result := models.ResultNotFound
		var contactID *string
		if i%2 == 0 {
			result = models.ResultOK
			id := fmt.Sprint(100 + i)
			contactID = &id
		}
		_, err := s.store.Append(context.Background(), &models.ActionRecord{
			Timestamp: ts.Add(time.Duration(i) * time.Second),
			Email:     fmt.Sprintf("user%d@example.com", i),
			Result:    result,
			ContactID: contactID,
		})
		s.Require().NoError(err)
	}
	s.router = s.newRouter(apiKey)
}

func (s *ActionsHandlerSuite) newRouter(key string) chi.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := service.New(s.store, key, service.WithLogger(logger))
	s.Require().NoError(err)
	r := chi.NewRouter()
	New(gw, logger).Register(r)
	return r
}

func (s *ActionsHandlerSuite) get(path, token string) *http.Request {
	req := testutil.NewRequest(s.T(), http.MethodGet, path)
	if token != "" {
		req = testutil.WithBearer(req, token)
	}
	return req
}

type listResponse struct {
	Actions []models.ActionRecord `json:"actions"`
	Count   int                   `json:"count"`
}

func (s *ActionsHandlerSuite) TestAuthentication() {
	s.Run("disabled without key", func() {
		rr := testutil.DoRequest(s.newRouter(""), s.get("/api/actions", apiKey))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("missing token", func() {
		rr := testutil.DoRequest(s.router, s.get("/api/actions", ""))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("wrong token", func() {
		rr := testutil.DoRequest(s.router, s.get("/api/actions", "nope"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("wrong scheme", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/api/actions")
		req.Header.Set("Authorization", "Basic "+apiKey)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})

	s.Run("auth is checked before parameters", func() {
		rr := testutil.DoRequest(s.router, s.get("/api/actions?limit=0", "nope"))
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})

	s.Run("lowercase scheme accepted", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/api/actions")
		req.Header.Set("Authorization", "bearer "+apiKey)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})
}

func (s *ActionsHandlerSuite) TestListing() {
	s.Run("defaults", func() {
		rr := testutil.DoRequest(s.router, s.get("/api/actions", apiKey))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[listResponse](s.T(), rr)
		s.Equal(7, resp.Count)
		s.Len(resp.Actions, 7)
		s.Equal("user6@example.com", resp.Actions[0].Email)
	})

	s.Run("result filter", func() {
		rr := testutil.DoRequest(s.router, s.get("/api/actions?result=ok", apiKey))
		resp := testutil.UnmarshalResponse[listResponse](s.T(), rr)
		s.Equal(4, resp.Count)
		for _, a := range resp.Actions {
			s.Equal(models.ResultOK, a.Result)
			s.NotNil(a.ContactID)
		}
	})

	s.Run("email filter", func() {
		rr := testutil.DoRequest(s.router, s.get("/api/actions?email=USER3@example.com", apiKey))
		resp := testutil.UnmarshalResponse[listResponse](s.T(), rr)
		s.Equal(1, resp.Count)
		s.Equal("user3@example.com", resp.Actions[0].Email)
		s.Nil(resp.Actions[0].ContactID)
	})

	s.Run("pages are contiguous", func() {
		seen := map[int64]bool{}
		for offset := 0; offset < 7; offset += 3 {
			rr := testutil.DoRequest(s.router, s.get(fmt.Sprintf("/api/actions?limit=3&offset=%d", offset), apiKey))
			resp := testutil.UnmarshalResponse[listResponse](s.T(), rr)
			s.Equal(7, resp.Count)
			for _, a := range resp.Actions {
				s.False(seen[a.ID], "duplicate id %d", a.ID)
				seen[a.ID] = true
			}
		}
		s.Len(seen, 7)
	})

	s.Run("offset past the end", func() {
		rr := testutil.DoRequest(s.router, s.get("/api/actions?offset=50", apiKey))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		testutil.AssertBody(s.T(), rr, `{"actions":[],"count":7}`)
	})
}

func (s *ActionsHandlerSuite) TestInvalidParameters() {
	for _, q := range []string{"limit=0", "limit=501", "limit=ten", "offset=-1", "offset=x", "result=maybe"} {
		s.Run(q, func() {
			rr := testutil.DoRequest(s.router, s.get("/api/actions?"+q, apiKey))
			testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "validation_error")
		})
	}
}
