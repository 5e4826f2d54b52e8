package datastore

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// Airport is a row in the airports table.
type Airport struct {
	ID      int32  `json:"id"`
	IATA    string `json:"iata"`
	Name    string `json:"name"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// Amenity is a row in the amenities table.
//
// The per-day opening hours use Postgres TIME columns; they participate in
// search filtering and dataset round trips but are never serialized in API
// responses. Content and Embedding back the vector search and are only
// populated when loading or exporting the dataset.
type Amenity struct {
	ID          int32  `json:"id,omitzero"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Terminal    string `json:"terminal"`
	Category    string `json:"category"`
	Hour        string `json:"hour"`

	SundayStartHour    pgtype.Time `json:"-"`
	SundayEndHour      pgtype.Time `json:"-"`
	MondayStartHour    pgtype.Time `json:"-"`
	MondayEndHour      pgtype.Time `json:"-"`
	TuesdayStartHour   pgtype.Time `json:"-"`
	TuesdayEndHour     pgtype.Time `json:"-"`
	WednesdayStartHour pgtype.Time `json:"-"`
	WednesdayEndHour   pgtype.Time `json:"-"`
	ThursdayStartHour  pgtype.Time `json:"-"`
	ThursdayEndHour    pgtype.Time `json:"-"`
	FridayStartHour    pgtype.Time `json:"-"`
	FridayEndHour      pgtype.Time `json:"-"`
	SaturdayStartHour  pgtype.Time `json:"-"`
	SaturdayEndHour    pgtype.Time `json:"-"`

	Content   string          `json:"content,omitempty"`
	Embedding pgvector.Vector `json:"-"`
}

// Policy is a row in the policies table. Policies are only ever surfaced
// through semantic search, so the API deals in content strings rather than
// full rows.
type Policy struct {
	ID        int32           `json:"id"`
	Content   string          `json:"content"`
	Embedding pgvector.Vector `json:"-"`
}

// Flight is a row in the flights table.
type Flight struct {
	ID               int32     `json:"id"`
	Airline          string    `json:"airline"`
	FlightNumber     string    `json:"flight_number"`
	DepartureAirport string    `json:"departure_airport"`
	ArrivalAirport   string    `json:"arrival_airport"`
	DepartureTime    time.Time `json:"departure_time"`
	ArrivalTime      time.Time `json:"arrival_time"`
	DepartureGate    string    `json:"departure_gate"`
	ArrivalGate      string    `json:"arrival_gate"`
}

// Ticket is a row in the tickets table.
type Ticket struct {
	ID               int32     `json:"id,omitzero"`
	UserID           string    `json:"user_id"`
	UserName         string    `json:"user_name"`
	UserEmail        string    `json:"user_email"`
	Airline          string    `json:"airline"`
	FlightNumber     string    `json:"flight_number"`
	DepartureAirport string    `json:"departure_airport"`
	ArrivalAirport   string    `json:"arrival_airport"`
	DepartureTime    time.Time `json:"departure_time"`
	ArrivalTime      time.Time `json:"arrival_time"`
	SeatRow          int32     `json:"seat_row,omitzero"`
	SeatLetter       string    `json:"seat_letter,omitempty"`
}

// Seat is a row in the seats table. TicketID is nil while the seat is open.
type Seat struct {
	FlightID   int32  `json:"flight_id"`
	SeatRow    int32  `json:"seat_row"`
	SeatLetter string `json:"seat_letter"`
	SeatType   string `json:"seat_type"`
	SeatClass  string `json:"seat_class"`
	IsReserved bool   `json:"is_reserved"`
	TicketID   *int32 `json:"ticket_id"`
}

// Dataset bundles all six tables for bulk load and export.
type Dataset struct {
	Airports  []Airport
	Amenities []Amenity
	Policies  []Policy
	Flights   []Flight
	Tickets   []Ticket
	Seats     []Seat
}
