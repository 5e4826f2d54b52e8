package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyport0/skyport/internal/datastore"
	"github.com/skyport0/skyport/internal/log"
)

// fakeStore implements Datastore in memory for handler tests.
type fakeStore struct {
	airports  []datastore.Airport
	amenities []datastore.Amenity
	flights   []datastore.Flight
	seats     []datastore.Seat
	tickets   []datastore.Ticket
	policies  []string

	insertErr error

	lastAmenitySearch datastore.AmenitySearch
}

func (f *fakeStore) GetAirport(_ context.Context, id int32) (*datastore.Airport, error) {
	for _, a := range f.airports {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, datastore.ErrNotFound
}

func (f *fakeStore) GetAirportByIATA(_ context.Context, iata string) (*datastore.Airport, error) {
	for _, a := range f.airports {
		if strings.EqualFold(a.IATA, iata) {
			return &a, nil
		}
	}
	return nil, datastore.ErrNotFound
}

func (f *fakeStore) SearchAirports(_ context.Context, country, city, name *string) ([]datastore.Airport, error) {
	var out []datastore.Airport
	for _, a := range f.airports {
		if country != nil && !strings.EqualFold(a.Country, *country) {
			continue
		}
		if city != nil && !strings.EqualFold(a.City, *city) {
			continue
		}
		if name != nil && !strings.Contains(strings.ToLower(a.Name), strings.ToLower(*name)) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) GetAmenity(_ context.Context, id int32) (*datastore.Amenity, error) {
	for _, a := range f.amenities {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, datastore.ErrNotFound
}

func (f *fakeStore) SearchAmenities(_ context.Context, p datastore.AmenitySearch) ([]datastore.Amenity, error) {
	f.lastAmenitySearch = p
	return f.amenities, nil
}

func (f *fakeStore) GetFlight(_ context.Context, id int32) (*datastore.Flight, error) {
	for _, fl := range f.flights {
		if fl.ID == id {
			return &fl, nil
		}
	}
	return nil, datastore.ErrNotFound
}

func (f *fakeStore) SearchFlightsByNumber(_ context.Context, airline, number string) ([]datastore.Flight, error) {
	var out []datastore.Flight
	for _, fl := range f.flights {
		if fl.Airline == airline && fl.FlightNumber == number {
			out = append(out, fl)
		}
	}
	return out, nil
}

func (f *fakeStore) SearchFlightsByAirports(_ context.Context, date time.Time, dep, arr *string) ([]datastore.Flight, error) {
	var out []datastore.Flight
	for _, fl := range f.flights {
		if dep != nil && !strings.EqualFold(fl.DepartureAirport, *dep) {
			continue
		}
		if arr != nil && !strings.EqualFold(fl.ArrivalAirport, *arr) {
			continue
		}
		if fl.DepartureTime.Before(date) || !fl.DepartureTime.Before(date.AddDate(0, 0, 1)) {
			continue
		}
		out = append(out, fl)
	}
	return out, nil
}

func (f *fakeStore) SearchFlightSeats(_ context.Context, p datastore.SeatSearch) ([]datastore.Seat, error) {
	var out []datastore.Seat
	for _, s := range f.seats {
		if s.IsReserved {
			continue
		}
		if p.SeatType != "" && s.SeatType != p.SeatType {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) InsertTicket(_ context.Context, p datastore.TicketParams) (*datastore.Ticket, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	t := datastore.Ticket{
		ID:     int32(len(f.tickets) + 1),
		UserID: p.UserID, UserName: p.UserName, UserEmail: p.UserEmail,
		Airline: p.Airline, FlightNumber: p.FlightNumber,
		DepartureAirport: p.DepartureAirport, ArrivalAirport: p.ArrivalAirport,
		DepartureTime: p.DepartureTime, ArrivalTime: p.ArrivalTime,
		SeatRow: 1, SeatLetter: "A",
	}
	f.tickets = append(f.tickets, t)
	return &t, nil
}

func (f *fakeStore) ListTickets(_ context.Context, userID string) ([]datastore.Ticket, error) {
	var out []datastore.Ticket
	for _, t := range f.tickets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) SearchPolicies(_ context.Context, _ pgvector.Vector, _ float64, topK int) ([]string, error) {
	if len(f.policies) > topK {
		return f.policies[:topK], nil
	}
	return f.policies, nil
}

// fakeEmbedder returns a constant vector.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	if f.err != nil {
		return pgvector.Vector{}, f.err
	}
	return pgvector.NewVector([]float32{1, 0, 0}), nil
}

// fakeVerifier accepts the token "good" as the fixed test user.
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (*User, error) {
	if token != "good" {
		return nil, fmt.Errorf("invalid token")
	}
	return &User{ID: "user-1", Name: "Trail Blazer", Email: "t@example.com"}, nil
}

func newTestServer(t *testing.T, store *fakeStore) *httptest.Server {
	t.Helper()

	srv, err := NewServer(Config{
		Logger:   log.NewNop(),
		Store:    store,
		Embedder: &fakeEmbedder{},
		Verifier: fakeVerifier{},
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func testStore() *fakeStore {
	dep := time.Date(2024, 1, 1, 5, 57, 0, 0, time.UTC)
	return &fakeStore{
		airports: []datastore.Airport{
			{ID: 1, IATA: "SFO", Name: "San Francisco International Airport", City: "San Francisco", Country: "United States"},
			{ID: 2, IATA: "SEA", Name: "Seattle-Tacoma International Airport", City: "Seattle", Country: "United States"},
		},
		amenities: []datastore.Amenity{
			{Name: "Coffee Shop", Description: "Espresso", Location: "Gate B12", Terminal: "Terminal 3", Category: "restaurant", Hour: "8am-8pm"},
		},
		flights: []datastore.Flight{
			{ID: 1, Airline: "CY", FlightNumber: "922", DepartureAirport: "SFO", ArrivalAirport: "SEA",
				DepartureTime: dep, ArrivalTime: dep.Add(2 * time.Hour), DepartureGate: "B2", ArrivalGate: "C4"},
		},
		seats: []datastore.Seat{
			{FlightID: 1, SeatRow: 1, SeatLetter: "A", SeatType: "window", SeatClass: "economy"},
			{FlightID: 1, SeatRow: 1, SeatLetter: "B", SeatType: "middle", SeatClass: "economy"},
		},
		policies: []string{"Bags under 50 pounds fly free.", "Pets need carriers."},
	}
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) *http.Response {
	t.Helper()

	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestRoot(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testStore())

	var body map[string]string
	resp := getJSON(t, ts, "/", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello World", body["message"])
}

func TestGetAirport(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testStore())

	var airport datastore.Airport
	resp := getJSON(t, ts, "/airports?id=1", &airport)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SFO", airport.IATA)

	resp = getJSON(t, ts, "/airports?iata=sea", &airport)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Seattle", airport.City)

	var errResp ErrorResponse
	resp = getJSON(t, ts, "/airports", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_params", errResp.Error.Code)

	resp = getJSON(t, ts, "/airports?id=999", &errResp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errResp.Error.Code)

	resp = getJSON(t, ts, "/airports?id=abc", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSearchAirports(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testStore())

	var airports []datastore.Airport
	resp := getJSON(t, ts, "/airports/search?country=United+States", &airports)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, airports, 2)

	var errResp ErrorResponse
	resp = getJSON(t, ts, "/airports/search", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_params", errResp.Error.Code)
}

func TestGetAmenity(t *testing.T) {
	t.Parallel()
	store := testStore()
	store.amenities[0].ID = 5
	ts := newTestServer(t, store)

	var amenity datastore.Amenity
	resp := getJSON(t, ts, "/amenities?id=5", &amenity)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Coffee Shop", amenity.Name)

	var errResp ErrorResponse
	resp = getJSON(t, ts, "/amenities", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSearchAmenities(t *testing.T) {
	t.Parallel()
	store := testStore()
	ts := newTestServer(t, store)

	var amenities []datastore.Amenity
	resp := getJSON(t, ts, "/amenities/search?query=coffee&top_k=3", &amenities)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, amenities, 1)
	assert.Equal(t, "Coffee Shop", amenities[0].Name)
	assert.InDelta(t, 0.5, store.lastAmenitySearch.SimilarityThreshold, 1e-9)
	assert.Equal(t, 3, store.lastAmenitySearch.TopK)

	resp = getJSON(t, ts, "/amenities/search?query=coffee&top_k=3&open_day=Monday&open_time=09:00:00", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "monday", store.lastAmenitySearch.OpenDay)

	var errResp ErrorResponse
	resp = getJSON(t, ts, "/amenities/search?query=coffee", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = getJSON(t, ts, "/amenities/search?query=coffee&top_k=3&open_day=monday", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSearchAmenitiesEmbeddingFailure(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Config{
		Logger:   log.NewNop(),
		Store:    testStore(),
		Embedder: &fakeEmbedder{err: fmt.Errorf("upstream quota")},
		Verifier: fakeVerifier{},
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var errResp ErrorResponse
	resp := getJSON(t, ts, "/amenities/search?query=coffee&top_k=3", &errResp)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "embedding_failed", errResp.Error.Code)
}

func TestSearchFlights(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testStore())

	var flights []datastore.Flight
	resp := getJSON(t, ts, "/flights/search?airline=CY&flight_number=922", &flights)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, flights, 1)

	resp = getJSON(t, ts, "/flights/search?departure_airport=SFO&date=2024-01-01", &flights)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, flights, 1)

	var errResp ErrorResponse
	resp = getJSON(t, ts, "/flights/search?departure_airport=SFO&date=01/01/2024", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = getJSON(t, ts, "/flights/search?airline=CY", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetFlight(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testStore())

	var flight datastore.Flight
	resp := getJSON(t, ts, "/flights?flight_id=1", &flight)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "922", flight.FlightNumber)

	var errResp ErrorResponse
	resp = getJSON(t, ts, "/flights", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSearchFlightSeats(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testStore())

	var seats []datastore.Seat
	resp := getJSON(t, ts,
		"/flights/seats?airline=CY&flight_number=922&departure_airport=SFO&departure_time=2024-01-01+05:57:00&seat_type=window",
		&seats)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, seats, 1)
	assert.Equal(t, "A", seats[0].SeatLetter)

	var errResp ErrorResponse
	resp = getJSON(t, ts, "/flights/seats?airline=CY", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func postTicket(t *testing.T, ts *httptest.Server, token string, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/tickets/insert", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("User-Id-Token", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

const validTicketJSON = `{
	"airline": "CY",
	"flight_number": "922",
	"departure_airport": "SFO",
	"arrival_airport": "SEA",
	"departure_time": "2024-01-01 05:57:00",
	"arrival_time": "2024-01-01 07:57:00"
}`

func TestInsertTicket(t *testing.T) {
	t.Parallel()
	store := testStore()
	ts := newTestServer(t, store)

	resp := postTicket(t, ts, "good", validTicketJSON)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var ticket datastore.Ticket
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ticket))
	assert.Equal(t, "user-1", ticket.UserID)
	assert.Equal(t, int32(1), ticket.SeatRow)

	// Listing is scoped to the authenticated user.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/tickets/list", nil)
	require.NoError(t, err)
	req.Header.Set("User-Id-Token", "Bearer good")
	listResp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()
	assert.Equal(t, http.StatusOK, listResp.StatusCode)

	var tickets []datastore.Ticket
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&tickets))
	assert.Len(t, tickets, 1)
}

func TestInsertTicketAuth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testStore())

	resp := postTicket(t, ts, "", validTicketJSON)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postTicket(t, ts, "forged", validTicketJSON)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// Without an OAuth client ID there is no audience to verify tokens
// against, so every ticket request must be denied.
func TestTicketsDeniedWithoutClientID(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Config{
		Logger:   log.NewNop(),
		Store:    testStore(),
		Embedder: &fakeEmbedder{},
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp := postTicket(t, ts, "good", validTicketJSON)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/tickets/list", nil)
	require.NoError(t, err)
	req.Header.Set("User-Id-Token", "Bearer good")
	listResp, err := ts.Client().Do(req)
	require.NoError(t, err)
	listResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, listResp.StatusCode)
}

func TestInsertTicketErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		insertErr  error
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "flight not found",
			insertErr:  datastore.ErrFlightNotFound,
			body:       validTicketJSON,
			wantStatus: http.StatusBadRequest,
			wantCode:   "flight_not_found",
		},
		{
			name:       "seat taken",
			insertErr:  datastore.ErrSeatUnavailable,
			body:       validTicketJSON,
			wantStatus: http.StatusConflict,
			wantCode:   "seat_unavailable",
		},
		{
			name:       "flight full",
			insertErr:  datastore.ErrNoSeats,
			body:       validTicketJSON,
			wantStatus: http.StatusConflict,
			wantCode:   "no_seats",
		},
		{
			name:       "bad json",
			body:       "{bad",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_json",
		},
		{
			name:       "missing fields",
			body:       `{"airline": "CY"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_params",
		},
		{
			name:       "bad timestamp",
			body:       strings.Replace(validTicketJSON, "2024-01-01 05:57:00", "yesterday", 1),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_params",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := testStore()
			store.insertErr = tt.insertErr
			ts := newTestServer(t, store)

			resp := postTicket(t, ts, "good", tt.body)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var errResp ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
			assert.Equal(t, tt.wantCode, errResp.Error.Code)
		})
	}
}

func TestSearchPolicies(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testStore())

	var policies []string
	resp := getJSON(t, ts, "/policies/search?query=baggage&top_k=1", &policies)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, policies, 1)
	assert.Contains(t, policies[0], "50 pounds")

	var errResp ErrorResponse
	resp = getJSON(t, ts, "/policies/search?top_k=1", &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, testStore())

	var body map[string]string
	resp := getJSON(t, ts, "/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp = getJSON(t, ts, "/ready", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestParseUserIDToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "valid bearer", header: "Bearer abc123", want: "abc123"},
		{name: "missing header", header: "", want: ""},
		{name: "wrong scheme", header: "Basic abc123", want: ""},
		{name: "no token", header: "Bearer", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("User-Id-Token", tt.header)
			}
			assert.Equal(t, tt.want, parseUserIDToken(r))
		})
	}
}
