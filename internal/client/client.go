// Package client is a typed HTTP client for the retrieval service.
//
// Requests to https endpoints carry a Google ID token minted for the
// service URL audience; plain http endpoints (local development) are
// called without credentials. End-user identity travels separately in
// the User-Id-Token header on booking endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"

	"github.com/skyport0/skyport/internal/datastore"
	"github.com/skyport0/skyport/internal/log"
)

const defaultTimeout = 30 * time.Second

// Client calls the retrieval service.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	logger      log.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource overrides the service-to-service credential source.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokenSource = ts }
}

// New creates a client for the retrieval service at baseURL.
//
// For https URLs a Google ID token source is created from Application
// Default Credentials with the service URL as audience, matching what
// Cloud Run expects. http URLs skip service credentials entirely.
func New(ctx context.Context, baseURL string, logger log.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("retrieval service URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid retrieval service URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("retrieval service URL must be http or https, got %q", u.Scheme)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tokenSource == nil && u.Scheme == "https" {
		ts, err := idtoken.NewTokenSource(ctx, c.baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create ID token source for %s: %w", c.baseURL, err)
		}
		c.tokenSource = ts
	}

	return c, nil
}

// APIError is a non-2xx response decoded from the service error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("retrieval service error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("retrieval service error (status %d): %s", e.StatusCode, e.Message)
}

// GetAirport fetches an airport by ID.
func (c *Client) GetAirport(ctx context.Context, id int32) (*datastore.Airport, error) {
	var airport datastore.Airport
	q := url.Values{"id": {strconv.FormatInt(int64(id), 10)}}
	if err := c.get(ctx, "/airports", q, "", &airport); err != nil {
		return nil, err
	}
	return &airport, nil
}

// GetAirportByIATA fetches an airport by its 3-letter IATA code.
func (c *Client) GetAirportByIATA(ctx context.Context, iata string) (*datastore.Airport, error) {
	var airport datastore.Airport
	q := url.Values{"iata": {iata}}
	if err := c.get(ctx, "/airports", q, "", &airport); err != nil {
		return nil, err
	}
	return &airport, nil
}

// AirportQuery filters SearchAirports. Empty fields are omitted.
type AirportQuery struct {
	Country string
	City    string
	Name    string
}

// SearchAirports lists airports matching at least one filter.
func (c *Client) SearchAirports(ctx context.Context, query AirportQuery) ([]datastore.Airport, error) {
	q := url.Values{}
	setNonEmpty(q, "country", query.Country)
	setNonEmpty(q, "city", query.City)
	setNonEmpty(q, "name", query.Name)

	var airports []datastore.Airport
	if err := c.get(ctx, "/airports/search", q, "", &airports); err != nil {
		return nil, err
	}
	return airports, nil
}

// GetAmenity fetches an amenity by ID.
func (c *Client) GetAmenity(ctx context.Context, id int32) (*datastore.Amenity, error) {
	var amenity datastore.Amenity
	q := url.Values{"id": {strconv.FormatInt(int64(id), 10)}}
	if err := c.get(ctx, "/amenities", q, "", &amenity); err != nil {
		return nil, err
	}
	return &amenity, nil
}

// AmenityQuery drives semantic amenity search. OpenDay and OpenTime
// must be set together; TopK defaults to 5 when zero.
type AmenityQuery struct {
	Query    string
	TopK     int
	OpenDay  string
	OpenTime string
}

// SearchAmenities performs a semantic search over airport amenities.
func (c *Client) SearchAmenities(ctx context.Context, query AmenityQuery) ([]datastore.Amenity, error) {
	topK := query.TopK
	if topK == 0 {
		topK = 5
	}
	q := url.Values{
		"query": {query.Query},
		"top_k": {strconv.Itoa(topK)},
	}
	setNonEmpty(q, "open_day", query.OpenDay)
	setNonEmpty(q, "open_time", query.OpenTime)

	var amenities []datastore.Amenity
	if err := c.get(ctx, "/amenities/search", q, "", &amenities); err != nil {
		return nil, err
	}
	return amenities, nil
}

// GetFlight fetches a flight by ID.
func (c *Client) GetFlight(ctx context.Context, id int32) (*datastore.Flight, error) {
	var flight datastore.Flight
	q := url.Values{"flight_id": {strconv.FormatInt(int64(id), 10)}}
	if err := c.get(ctx, "/flights", q, "", &flight); err != nil {
		return nil, err
	}
	return &flight, nil
}

// SearchFlightsByNumber lists flights for an airline code and number.
func (c *Client) SearchFlightsByNumber(ctx context.Context, airline, flightNumber string) ([]datastore.Flight, error) {
	q := url.Values{
		"airline":       {airline},
		"flight_number": {flightNumber},
	}
	var flights []datastore.Flight
	if err := c.get(ctx, "/flights/search", q, "", &flights); err != nil {
		return nil, err
	}
	return flights, nil
}

// FlightQuery filters ListFlights. Date accepts natural phrases like
// "today" or "tomorrow" in addition to YYYY-MM-DD.
type FlightQuery struct {
	DepartureAirport string
	ArrivalAirport   string
	Date             string
}

// ListFlights lists flights departing on the given date between airports.
func (c *Client) ListFlights(ctx context.Context, query FlightQuery) ([]datastore.Flight, error) {
	date, err := ConvertDate(query.Date, time.Now())
	if err != nil {
		return nil, fmt.Errorf("invalid flight date %q: %w", query.Date, err)
	}

	q := url.Values{"date": {date}}
	setNonEmpty(q, "departure_airport", query.DepartureAirport)
	setNonEmpty(q, "arrival_airport", query.ArrivalAirport)

	var flights []datastore.Flight
	if err := c.get(ctx, "/flights/search", q, "", &flights); err != nil {
		return nil, err
	}
	return flights, nil
}

// SeatQuery identifies a flight and optional seat filters.
type SeatQuery struct {
	Airline          string
	FlightNumber     string
	DepartureAirport string
	DepartureTime    string
	SeatRow          int32
	SeatLetter       string
	SeatClass        string
	SeatType         string
}

// SearchFlightSeats lists open seats on a flight.
func (c *Client) SearchFlightSeats(ctx context.Context, query SeatQuery) ([]datastore.Seat, error) {
	q := url.Values{
		"airline":           {query.Airline},
		"flight_number":     {query.FlightNumber},
		"departure_airport": {query.DepartureAirport},
		"departure_time":    {query.DepartureTime},
	}
	if query.SeatRow > 0 {
		q.Set("seat_row", strconv.FormatInt(int64(query.SeatRow), 10))
	}
	setNonEmpty(q, "seat_letter", query.SeatLetter)
	setNonEmpty(q, "seat_class", query.SeatClass)
	setNonEmpty(q, "seat_type", query.SeatType)

	var seats []datastore.Seat
	if err := c.get(ctx, "/flights/seats", q, "", &seats); err != nil {
		return nil, err
	}
	return seats, nil
}

// TicketRequest books a seat on a flight. SeatRow and SeatLetter are
// optional; the service assigns any open seat when both are zero.
type TicketRequest struct {
	Airline          string `json:"airline"`
	FlightNumber     string `json:"flight_number"`
	DepartureAirport string `json:"departure_airport"`
	ArrivalAirport   string `json:"arrival_airport"`
	DepartureTime    string `json:"departure_time"`
	ArrivalTime      string `json:"arrival_time"`
	SeatRow          int32  `json:"seat_row,omitzero"`
	SeatLetter       string `json:"seat_letter,omitempty"`
}

// InsertTicket books a ticket on behalf of the user identified by
// userToken, a Google ID token from the signed-in end user.
func (c *Client) InsertTicket(ctx context.Context, userToken string, req TicketRequest) (*datastore.Ticket, error) {
	// LLM output tends toward RFC 3339; the service speaks space-separated.
	req.DepartureTime = strings.Replace(req.DepartureTime, "T", " ", 1)
	req.ArrivalTime = strings.Replace(req.ArrivalTime, "T", " ", 1)

	var ticket datastore.Ticket
	if err := c.do(ctx, http.MethodPost, "/tickets/insert", nil, userToken, req, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// ListTickets lists tickets booked by the user identified by userToken.
func (c *Client) ListTickets(ctx context.Context, userToken string) ([]datastore.Ticket, error) {
	var tickets []datastore.Ticket
	if err := c.get(ctx, "/tickets/list", nil, userToken, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// SearchPolicies performs a semantic search over airline policy text.
func (c *Client) SearchPolicies(ctx context.Context, query string, topK int) ([]string, error) {
	if topK == 0 {
		topK = 5
	}
	q := url.Values{
		"query": {query},
		"top_k": {strconv.Itoa(topK)},
	}
	var policies []string
	if err := c.get(ctx, "/policies/search", q, "", &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, userToken string, result any) error {
	return c.do(ctx, http.MethodGet, path, query, userToken, nil, result)
}

// do performs a request against the retrieval service and decodes the
// JSON response into result. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, userToken string, body, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userToken != "" {
		req.Header.Set("User-Id-Token", "Bearer "+userToken)
	}
	if c.tokenSource != nil {
		tok, err := c.tokenSource.Token()
		if err != nil {
			return fmt.Errorf("failed to mint service credential: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if unmarshalErr := json.Unmarshal(respBody, &envelope); unmarshalErr == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		c.logger.Warn("retrieval request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"code", apiErr.Code,
		)
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response from %s: %w", path, err)
		}
	}
	return nil
}

func setNonEmpty(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
