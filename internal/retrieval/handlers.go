package retrieval

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/skyport0/skyport/internal/datastore"
)

// timestampLayout is the wire format for departure and arrival times.
const timestampLayout = "2006-01-02 15:04:05"

// dateLayout is the wire format for flight search dates.
const dateLayout = "2006-01-02"

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"message": "Hello World"})
}

// optionalString returns a pointer to the query parameter value, or nil
// when the parameter is absent or empty.
func optionalString(r *http.Request, key string) *string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	return &v
}

func parseInt32Param(r *http.Request, key string) (int32, bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, true, err
	}
	return int32(n), true, nil
}

// parseTimestamp accepts both the classic "2006-01-02 15:04:05" wire form
// and RFC 3339.
func parseTimestamp(v string) (time.Time, error) {
	if t, err := time.Parse(timestampLayout, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// writeStoreError maps datastore sentinel errors onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, datastore.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "no matching record", s.logger)
	case errors.Is(err, datastore.ErrFlightNotFound):
		WriteError(w, http.StatusBadRequest, "flight_not_found", "flight information not in database", s.logger)
	case errors.Is(err, datastore.ErrSeatUnavailable):
		WriteError(w, http.StatusConflict, "seat_unavailable", "this seat is already booked on this flight", s.logger)
	case errors.Is(err, datastore.ErrNoSeats):
		WriteError(w, http.StatusConflict, "no_seats", "no open seat on this flight", s.logger)
	default:
		s.logger.Error("datastore query failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", s.logger)
	}
}

// GET /airports?id= | ?iata=
func (s *Server) getAirport(w http.ResponseWriter, r *http.Request) {
	id, present, err := parseInt32Param(r, "id")
	if err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params", "airport id must be an integer", s.logger)
		return
	}

	var airport *datastore.Airport
	switch {
	case present:
		airport, err = s.store.GetAirport(r.Context(), id)
	case r.URL.Query().Get("iata") != "":
		airport, err = s.store.GetAirportByIATA(r.Context(), r.URL.Query().Get("iata"))
	default:
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
			"request requires query params: airport id or iata", s.logger)
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, airport)
}

// GET /airports/search?country=&city=&name=
func (s *Server) searchAirports(w http.ResponseWriter, r *http.Request) {
	country := optionalString(r, "country")
	city := optionalString(r, "city")
	name := optionalString(r, "name")

	if country == nil && city == nil && name == nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
			"request requires at least one query param: country, city, or airport name", s.logger)
		return
	}

	airports, err := s.store.SearchAirports(r.Context(), country, city, name)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, airports)
}

// GET /amenities?id=
func (s *Server) getAmenity(w http.ResponseWriter, r *http.Request) {
	id, present, err := parseInt32Param(r, "id")
	if err != nil || !present {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params", "amenity id is required", s.logger)
		return
	}

	amenity, err := s.store.GetAmenity(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, amenity)
}

// GET /amenities/search?query=&top_k=&open_day=&open_time=
func (s *Server) searchAmenities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	topK, topKPresent, err := parseInt32Param(r, "top_k")
	if query == "" || err != nil || !topKPresent || topK < 1 {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
			"request requires query params: query and positive top_k", s.logger)
		return
	}

	openDay := strings.ToLower(r.URL.Query().Get("open_day"))
	openTime := r.URL.Query().Get("open_time")
	if (openDay == "") != (openTime == "") {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
			"open_day and open_time must be provided together", s.logger)
		return
	}

	embedding, err := s.embedder.Embed(r.Context(), query)
	if err != nil {
		s.logger.Error("embedding query failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "embedding_failed", "could not embed query", s.logger)
		return
	}

	amenities, err := s.store.SearchAmenities(r.Context(), datastore.AmenitySearch{
		Embedding:           embedding,
		SimilarityThreshold: amenityThreshold,
		TopK:                int(topK),
		OpenDay:             openDay,
		OpenTime:            openTime,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, amenities)
}

// GET /flights?flight_id=
func (s *Server) getFlight(w http.ResponseWriter, r *http.Request) {
	id, present, err := parseInt32Param(r, "flight_id")
	if err != nil || !present {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params", "flight_id is required", s.logger)
		return
	}

	flight, err := s.store.GetFlight(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, flight)
}

// GET /flights/search — either date plus airports, or airline plus number.
func (s *Server) searchFlights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	departure := optionalString(r, "departure_airport")
	arrival := optionalString(r, "arrival_airport")
	date := q.Get("date")
	airline := q.Get("airline")
	flightNumber := q.Get("flight_number")

	var flights []datastore.Flight
	var err error
	switch {
	case date != "" && (departure != nil || arrival != nil):
		var day time.Time
		day, err = time.Parse(dateLayout, date)
		if err != nil {
			WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
				"date must be formatted YYYY-MM-DD", s.logger)
			return
		}
		flights, err = s.store.SearchFlightsByAirports(r.Context(), day, departure, arrival)
	case airline != "" && flightNumber != "":
		flights, err = s.store.SearchFlightsByNumber(r.Context(), airline, flightNumber)
	default:
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
			"request requires query params: arrival_airport, departure_airport, date, or both airline and flight_number", s.logger)
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, flights)
}

// GET /flights/seats — open seats on a specific flight.
func (s *Server) searchFlightSeats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	airline := q.Get("airline")
	flightNumber := q.Get("flight_number")
	departureAirport := q.Get("departure_airport")
	departureTime := q.Get("departure_time")

	if airline == "" || flightNumber == "" || departureAirport == "" || departureTime == "" {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
			"request requires query params: airline, flight_number, departure_airport, departure_time", s.logger)
		return
	}
	dep, err := parseTimestamp(departureTime)
	if err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
			"departure_time must be formatted YYYY-MM-DD HH:MM:SS", s.logger)
		return
	}
	seatRow, _, err := parseInt32Param(r, "seat_row")
	if err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params", "seat_row must be an integer", s.logger)
		return
	}

	seats, err := s.store.SearchFlightSeats(r.Context(), datastore.SeatSearch{
		Airline:          airline,
		FlightNumber:     flightNumber,
		DepartureAirport: departureAirport,
		DepartureTime:    dep,
		SeatRow:          seatRow,
		SeatLetter:       q.Get("seat_letter"),
		SeatClass:        q.Get("seat_class"),
		SeatType:         q.Get("seat_type"),
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, seats)
}

// ticketRequest is the POST /tickets/insert body.
type ticketRequest struct {
	Airline          string `json:"airline"`
	FlightNumber     string `json:"flight_number"`
	DepartureAirport string `json:"departure_airport"`
	ArrivalAirport   string `json:"arrival_airport"`
	DepartureTime    string `json:"departure_time"`
	ArrivalTime      string `json:"arrival_time"`
	SeatRow          int32  `json:"seat_row,omitzero"`
	SeatLetter       string `json:"seat_letter,omitempty"`
}

// POST /tickets/insert — requires a verified end-user identity.
func (s *Server) insertTicket(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	if user == nil {
		WriteError(w, http.StatusUnauthorized, "login_required",
			"user login required for data insertion", s.logger)
		return
	}

	var req ticketRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body", s.logger)
		return
	}
	if req.Airline == "" || req.FlightNumber == "" || req.DepartureAirport == "" ||
		req.ArrivalAirport == "" || req.DepartureTime == "" || req.ArrivalTime == "" {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
			"airline, flight_number, airports and times are required", s.logger)
		return
	}

	dep, err := parseTimestamp(req.DepartureTime)
	if err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
			"departure_time must be formatted YYYY-MM-DD HH:MM:SS", s.logger)
		return
	}
	arr, err := parseTimestamp(req.ArrivalTime)
	if err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
			"arrival_time must be formatted YYYY-MM-DD HH:MM:SS", s.logger)
		return
	}

	ticket, err := s.store.InsertTicket(r.Context(), datastore.TicketParams{
		UserID:           user.ID,
		UserName:         user.Name,
		UserEmail:        user.Email,
		Airline:          req.Airline,
		FlightNumber:     req.FlightNumber,
		DepartureAirport: req.DepartureAirport,
		ArrivalAirport:   req.ArrivalAirport,
		DepartureTime:    dep,
		ArrivalTime:      arr,
		SeatRow:          req.SeatRow,
		SeatLetter:       req.SeatLetter,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ticket)
}

// GET /tickets/list — requires a verified end-user identity.
func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	if user == nil {
		WriteError(w, http.StatusUnauthorized, "login_required",
			"user login required for ticket listing", s.logger)
		return
	}

	tickets, err := s.store.ListTickets(r.Context(), user.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tickets)
}

// GET /policies/search?query=&top_k=
func (s *Server) searchPolicies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	topK, topKPresent, err := parseInt32Param(r, "top_k")
	if query == "" || err != nil || !topKPresent || topK < 1 {
		WriteError(w, http.StatusUnprocessableEntity, "invalid_params",
			"request requires query params: query and positive top_k", s.logger)
		return
	}

	embedding, err := s.embedder.Embed(r.Context(), query)
	if err != nil {
		s.logger.Error("embedding query failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "embedding_failed", "could not embed query", s.logger)
		return
	}

	policies, err := s.store.SearchPolicies(r.Context(), embedding, policyThreshold, int(topK))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, policies)
}
