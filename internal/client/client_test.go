package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyport0/skyport/internal/datastore"
	"github.com/skyport0/skyport/internal/log"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := New(context.Background(), ts.URL, log.NewNop())
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "", log.NewNop())
	assert.Error(t, err)

	_, err = New(context.Background(), "ftp://example.com", log.NewNop())
	assert.Error(t, err)

	c, err := New(context.Background(), "http://127.0.0.1:8080/", log.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", c.baseURL)
	assert.Nil(t, c.tokenSource, "plain http skips service credentials")
}

func TestGetAirport(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/airports", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("id"))
		json.NewEncoder(w).Encode(datastore.Airport{ID: 42, IATA: "SFO"})
	})

	airport, err := c.GetAirport(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "SFO", airport.IATA)
}

func TestSearchAirportsOmitsEmptyFilters(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/airports/search", r.URL.Path)
		assert.Equal(t, "Seattle", r.URL.Query().Get("city"))
		assert.False(t, r.URL.Query().Has("country"))
		assert.False(t, r.URL.Query().Has("name"))
		json.NewEncoder(w).Encode([]datastore.Airport{{ID: 2, IATA: "SEA"}})
	})

	airports, err := c.SearchAirports(context.Background(), AirportQuery{City: "Seattle"})
	require.NoError(t, err)
	require.Len(t, airports, 1)
	assert.Equal(t, "SEA", airports[0].IATA)
}

func TestSearchAmenitiesDefaults(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("top_k"))
		assert.Equal(t, "monday", r.URL.Query().Get("open_day"))
		json.NewEncoder(w).Encode([]datastore.Amenity{{Name: "Coffee Shop"}})
	})

	amenities, err := c.SearchAmenities(context.Background(), AmenityQuery{
		Query:    "coffee",
		OpenDay:  "monday",
		OpenTime: "09:00:00",
	})
	require.NoError(t, err)
	require.Len(t, amenities, 1)
}

func TestListFlightsConvertsDate(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		_, err := time.Parse("2006-01-02", date)
		assert.NoError(t, err, "date %q must be normalized", date)
		json.NewEncoder(w).Encode([]datastore.Flight{})
	})

	_, err := c.ListFlights(context.Background(), FlightQuery{
		DepartureAirport: "SFO",
		Date:             "tomorrow",
	})
	require.NoError(t, err)

	_, err = c.ListFlights(context.Background(), FlightQuery{Date: "not a date at all"})
	assert.Error(t, err)
}

func TestInsertTicket(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer user-token", r.Header.Get("User-Id-Token"))

		var req TicketRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2024-01-01 05:57:00", req.DepartureTime, "RFC 3339 T is replaced")

		json.NewEncoder(w).Encode(datastore.Ticket{ID: 1, Airline: req.Airline})
	})

	ticket, err := c.InsertTicket(context.Background(), "user-token", TicketRequest{
		Airline:          "CY",
		FlightNumber:     "922",
		DepartureAirport: "SFO",
		ArrivalAirport:   "SEA",
		DepartureTime:    "2024-01-01T05:57:00",
		ArrivalTime:      "2024-01-01T07:57:00",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), ticket.ID)
}

func TestAPIErrorEnvelope(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]map[string]string{
			"error": {"code": "seat_unavailable", "message": "this seat is already booked on this flight"},
		})
	})

	_, err := c.InsertTicket(context.Background(), "user-token", TicketRequest{
		Airline: "CY", FlightNumber: "922",
		DepartureAirport: "SFO", ArrivalAirport: "SEA",
		DepartureTime: "2024-01-01 05:57:00", ArrivalTime: "2024-01-01 07:57:00",
	})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "seat_unavailable", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "seat_unavailable")
}

func TestAPIErrorPlainBody(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := c.GetAirport(context.Background(), 1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, apiErr.Code)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestSearchPolicies(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/policies/search", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("top_k"))
		json.NewEncoder(w).Encode([]string{"Bags under 50 pounds fly free."})
	})

	policies, err := c.SearchPolicies(context.Background(), "baggage", 3)
	require.NoError(t, err)
	require.Len(t, policies, 1)
}

func TestConvertDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "today", want: "2024-06-15"},
		{in: "Tomorrow", want: "2024-06-16"},
		{in: "yesterday", want: "2024-06-14"},
		{in: "", want: "2024-06-15"},
		{in: "null", want: "2024-06-15"},
		{in: "2024-01-01", want: "2024-01-01"},
		{in: "01/02/2024", want: "2024-01-02"},
		{in: "January 2, 2024", want: "2024-01-02"},
		{in: "2024-01-01T05:57:00Z", want: "2024-01-01"},
		{in: "definitely not a date", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ConvertDate(tt.in, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
