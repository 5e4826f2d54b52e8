// Package datastore provides PostgreSQL-backed access to the travel
// dataset: airports, amenities, policies, flights, tickets and seats.
// Amenity and policy search use pgvector cosine distance over embedded
// content.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrFlightNotFound indicates the ticket references a flight that is
	// not in the database.
	ErrFlightNotFound = errors.New("flight information not in database")

	// ErrSeatUnavailable indicates the requested seat is already booked.
	ErrSeatUnavailable = errors.New("seat is already booked on this flight")

	// ErrNoSeats indicates the flight has no open seats left.
	ErrNoSeats = errors.New("no open seat on this flight")
)

// queryTimeout bounds individual read queries.
const queryTimeout = 10 * time.Second

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides travel dataset queries backed by PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPool creates a pgx connection pool with pgvector types registered on
// every connection.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// New creates a Store.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const airportCols = `id, iata, name, city, country`

func scanAirport(row pgx.Row) (*Airport, error) {
	var a Airport
	err := row.Scan(&a.ID, &a.IATA, &a.Name, &a.City, &a.Country)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning airport: %w", err)
	}
	return &a, nil
}

// GetAirport retrieves an airport by numeric ID.
func (s *Store) GetAirport(ctx context.Context, id int32) (*Airport, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return scanAirport(s.pool.QueryRow(ctx,
		`SELECT `+airportCols+` FROM airports WHERE id = $1`, id))
}

// GetAirportByIATA retrieves an airport by its IATA code, case-insensitively.
func (s *Store) GetAirportByIATA(ctx context.Context, iata string) (*Airport, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return scanAirport(s.pool.QueryRow(ctx,
		`SELECT `+airportCols+` FROM airports WHERE iata ILIKE $1`, iata))
}

// SearchAirports filters airports by country, city and name. Nil filters
// match everything; name matches as a case-insensitive substring.
func (s *Store) SearchAirports(ctx context.Context, country, city, name *string) ([]Airport, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+airportCols+` FROM airports
		 WHERE ($1::TEXT IS NULL OR country ILIKE $1)
		 AND ($2::TEXT IS NULL OR city ILIKE $2)
		 AND ($3::TEXT IS NULL OR name ILIKE '%' || $3 || '%')`,
		country, city, name)
	if err != nil {
		return nil, fmt.Errorf("searching airports: %w", err)
	}
	defer rows.Close()

	var airports []Airport
	for rows.Next() {
		var a Airport
		if err := rows.Scan(&a.ID, &a.IATA, &a.Name, &a.City, &a.Country); err != nil {
			return nil, fmt.Errorf("scanning airport: %w", err)
		}
		airports = append(airports, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading airports: %w", err)
	}
	return airports, nil
}

// GetAmenity retrieves an amenity by ID. Opening hours, content and
// embedding are not loaded.
func (s *Store) GetAmenity(ctx context.Context, id int32) (*Amenity, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Amenity
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, location, terminal, category, hour
		 FROM amenities WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Description, &a.Location, &a.Terminal, &a.Category, &a.Hour)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning amenity: %w", err)
	}
	return &a, nil
}

// openHourColumns maps a lowercase weekday name to its start/end hour
// columns. Column names are interpolated into SQL, so only values from
// this map may ever be used.
var openHourColumns = map[string][2]string{
	"sunday":    {"sunday_start_hour", "sunday_end_hour"},
	"monday":    {"monday_start_hour", "monday_end_hour"},
	"tuesday":   {"tuesday_start_hour", "tuesday_end_hour"},
	"wednesday": {"wednesday_start_hour", "wednesday_end_hour"},
	"thursday":  {"thursday_start_hour", "thursday_end_hour"},
	"friday":    {"friday_start_hour", "friday_end_hour"},
	"saturday":  {"saturday_start_hour", "saturday_end_hour"},
}

// AmenitySearch holds parameters for SearchAmenities.
type AmenitySearch struct {
	Embedding           pgvector.Vector
	SimilarityThreshold float64
	TopK                int
	// OpenDay and OpenTime optionally restrict results to amenities open
	// at the given weekday and clock time ("HH:MM:SS").
	OpenDay  string
	OpenTime string
}

// SearchAmenities returns the amenities whose embedded content is within
// the cosine distance threshold of the query embedding, nearest first.
func (s *Store) SearchAmenities(ctx context.Context, p AmenitySearch) ([]Amenity, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := `WHERE (embedding <=> $1) < $2`
	args := []any{p.Embedding, p.SimilarityThreshold, p.TopK}

	if p.OpenDay != "" && p.OpenTime != "" {
		cols, ok := openHourColumns[p.OpenDay]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", p.OpenDay)
		}
		openAt, err := ParseTimeOfDay(p.OpenTime)
		if err != nil {
			return nil, fmt.Errorf("invalid open time %q: %w", p.OpenTime, err)
		}
		filter = fmt.Sprintf(`WHERE %s <= $4 AND %s > $4 AND (embedding <=> $1) < $2`,
			cols[0], cols[1])
		args = append(args, openAt)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name, description, location, terminal, category, hour
		 FROM amenities `+filter+`
		 ORDER BY (embedding <=> $1)
		 LIMIT $3`, args...)
	if err != nil {
		return nil, fmt.Errorf("searching amenities: %w", err)
	}
	defer rows.Close()

	var amenities []Amenity
	for rows.Next() {
		var a Amenity
		if err := rows.Scan(&a.Name, &a.Description, &a.Location, &a.Terminal, &a.Category, &a.Hour); err != nil {
			return nil, fmt.Errorf("scanning amenity: %w", err)
		}
		amenities = append(amenities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading amenities: %w", err)
	}
	return amenities, nil
}

const flightCols = `id, airline, flight_number, departure_airport, arrival_airport,
	departure_time, arrival_time, departure_gate, arrival_gate`

func scanFlight(row pgx.Row) (*Flight, error) {
	var f Flight
	err := row.Scan(&f.ID, &f.Airline, &f.FlightNumber, &f.DepartureAirport,
		&f.ArrivalAirport, &f.DepartureTime, &f.ArrivalTime, &f.DepartureGate, &f.ArrivalGate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning flight: %w", err)
	}
	return &f, nil
}

func collectFlights(rows pgx.Rows) ([]Flight, error) {
	defer rows.Close()

	var flights []Flight
	for rows.Next() {
		var f Flight
		if err := rows.Scan(&f.ID, &f.Airline, &f.FlightNumber, &f.DepartureAirport,
			&f.ArrivalAirport, &f.DepartureTime, &f.ArrivalTime, &f.DepartureGate, &f.ArrivalGate); err != nil {
			return nil, fmt.Errorf("scanning flight: %w", err)
		}
		flights = append(flights, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading flights: %w", err)
	}
	return flights, nil
}

// GetFlight retrieves a flight by numeric ID.
func (s *Store) GetFlight(ctx context.Context, id int32) (*Flight, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return scanFlight(s.pool.QueryRow(ctx,
		`SELECT `+flightCols+` FROM flights WHERE id = $1`, id))
}

// SearchFlightsByNumber returns all flights with the given airline code
// and flight number.
func (s *Store) SearchFlightsByNumber(ctx context.Context, airline, number string) ([]Flight, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+flightCols+` FROM flights
		 WHERE airline = $1 AND flight_number = $2`, airline, number)
	if err != nil {
		return nil, fmt.Errorf("searching flights by number: %w", err)
	}
	return collectFlights(rows)
}

// SearchFlightsByAirports returns flights departing within one day of the
// given date. Nil airport filters match everything.
func (s *Store) SearchFlightsByAirports(ctx context.Context, date time.Time, departureAirport, arrivalAirport *string) ([]Flight, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+flightCols+` FROM flights
		 WHERE ($1::TEXT IS NULL OR departure_airport ILIKE $1)
		 AND ($2::TEXT IS NULL OR arrival_airport ILIKE $2)
		 AND departure_time >= $3::timestamp
		 AND departure_time < $3::timestamp + interval '1 day'`,
		departureAirport, arrivalAirport, date)
	if err != nil {
		return nil, fmt.Errorf("searching flights by airports: %w", err)
	}
	return collectFlights(rows)
}

// SeatSearch holds parameters for SearchFlightSeats. The flight is
// identified by airline, number, departure airport and departure time;
// the remaining fields narrow the open seats returned.
type SeatSearch struct {
	Airline          string
	FlightNumber     string
	DepartureAirport string
	DepartureTime    time.Time

	SeatRow    int32  // 0 matches any row
	SeatLetter string // "" matches any letter
	SeatClass  string // "" matches any class
	SeatType   string // "" matches any type
}

// SearchFlightSeats returns the open seats on a flight matching the
// optional seat filters.
func (s *Store) SearchFlightSeats(ctx context.Context, p SeatSearch) ([]Seat, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	seatRow := p.SeatRow
	if seatRow == 0 {
		seatRow = -1
	}

	rows, err := s.pool.Query(ctx,
		`SELECT flight_id, seat_row, seat_letter, seat_type, seat_class, is_reserved, ticket_id
		 FROM seats
		 WHERE is_reserved = FALSE
		 AND flight_id = (
		   SELECT id FROM flights
		   WHERE airline = $1
		   AND flight_number = $2
		   AND departure_airport = $3
		   AND departure_time = $4
		   LIMIT 1)
		 AND (seat_row = $5 OR -1 = $5)
		 AND (seat_letter = $6 OR '' = $6)
		 AND (seat_class = $7 OR '' = $7)
		 AND (seat_type = $8 OR '' = $8)`,
		p.Airline, p.FlightNumber, p.DepartureAirport, p.DepartureTime,
		seatRow, p.SeatLetter, p.SeatClass, p.SeatType)
	if err != nil {
		return nil, fmt.Errorf("searching flight seats: %w", err)
	}
	defer rows.Close()

	var seats []Seat
	for rows.Next() {
		var st Seat
		if err := rows.Scan(&st.FlightID, &st.SeatRow, &st.SeatLetter, &st.SeatType,
			&st.SeatClass, &st.IsReserved, &st.TicketID); err != nil {
			return nil, fmt.Errorf("scanning seat: %w", err)
		}
		seats = append(seats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading seats: %w", err)
	}
	return seats, nil
}

// validateTicket checks that exactly one flight matches the ticket details.
func (s *Store) validateTicket(ctx context.Context, p TicketParams) error {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM flights
		 WHERE airline ILIKE $1
		 AND flight_number ILIKE $2
		 AND departure_airport ILIKE $3
		 AND arrival_airport ILIKE $4
		 AND departure_time = $5::timestamp
		 AND arrival_time = $6::timestamp`,
		p.Airline, p.FlightNumber, p.DepartureAirport, p.ArrivalAirport,
		p.DepartureTime, p.ArrivalTime,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("validating flight: %w", err)
	}
	if count != 1 {
		return ErrFlightNotFound
	}
	return nil
}

// TicketParams holds the details for booking a ticket. SeatRow and
// SeatLetter are optional; when unset the first open seat is assigned.
type TicketParams struct {
	UserID           string
	UserName         string
	UserEmail        string
	Airline          string
	FlightNumber     string
	DepartureAirport string
	ArrivalAirport   string
	DepartureTime    time.Time
	ArrivalTime      time.Time
	SeatRow          int32
	SeatLetter       string
}

// selectOpenSeat locates an open seat inside the booking transaction.
// FOR UPDATE prevents two concurrent bookings from claiming the same seat.
func selectOpenSeat(ctx context.Context, q querier, p TicketParams, anySeat bool) (int32, string, error) {
	query := `SELECT seat_row, seat_letter
		FROM seats
		WHERE flight_id = (
		  SELECT id FROM flights
		  WHERE flight_number = $1
		  AND airline = $2
		  AND departure_airport = $3
		  AND departure_time = $4)
		AND is_reserved = FALSE`
	args := []any{p.FlightNumber, p.Airline, p.DepartureAirport, p.DepartureTime}

	if !anySeat {
		query += ` AND seat_row = $5 AND seat_letter = $6`
		args = append(args, p.SeatRow, p.SeatLetter)
	}
	query += ` LIMIT 1 FOR UPDATE`

	var row int32
	var letter string
	err := q.QueryRow(ctx, query, args...).Scan(&row, &letter)
	if errors.Is(err, pgx.ErrNoRows) {
		if anySeat {
			return 0, "", ErrNoSeats
		}
		return 0, "", ErrSeatUnavailable
	}
	if err != nil {
		return 0, "", fmt.Errorf("selecting open seat: %w", err)
	}
	return row, letter, nil
}

// InsertTicket books a ticket. The flight must exist; the seat check,
// ticket insert and seat reservation run in one transaction. Returns the
// booked ticket including its assigned seat.
func (s *Store) InsertTicket(ctx context.Context, p TicketParams) (*Ticket, error) {
	if err := s.validateTicket(ctx, p); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	anySeat := p.SeatRow == 0 && p.SeatLetter == ""
	seatRow, seatLetter, err := selectOpenSeat(ctx, tx, p, anySeat)
	if err != nil {
		return nil, err
	}

	var ticketID int32
	err = tx.QueryRow(ctx,
		`INSERT INTO tickets (
		   id, user_id, user_name, user_email, airline, flight_number,
		   departure_airport, arrival_airport, departure_time, arrival_time,
		   seat_row, seat_letter
		 ) VALUES (
		   (SELECT COALESCE(MAX(id), 0) + 1 FROM tickets),
		   $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		 ) RETURNING id`,
		p.UserID, p.UserName, p.UserEmail, p.Airline, p.FlightNumber,
		p.DepartureAirport, p.ArrivalAirport, p.DepartureTime, p.ArrivalTime,
		seatRow, seatLetter,
	).Scan(&ticketID)
	if err != nil {
		return nil, fmt.Errorf("inserting ticket: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE seats
		 SET is_reserved = TRUE, ticket_id = $1
		 WHERE flight_id = (
		   SELECT id FROM flights
		   WHERE flight_number = $2
		   AND airline = $3
		   AND departure_airport = $4
		   AND departure_time = $5)
		 AND seat_row = $6
		 AND seat_letter = $7`,
		ticketID, p.FlightNumber, p.Airline, p.DepartureAirport, p.DepartureTime,
		seatRow, seatLetter)
	if err != nil {
		return nil, fmt.Errorf("reserving seat: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, fmt.Errorf("reserving seat: expected 1 row, got %d", tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing ticket transaction: %w", err)
	}

	s.logger.Debug("booked ticket",
		"ticket_id", ticketID,
		"airline", p.Airline,
		"flight_number", p.FlightNumber,
		"seat", fmt.Sprintf("%d%s", seatRow, seatLetter))

	return &Ticket{
		ID:               ticketID,
		UserID:           p.UserID,
		UserName:         p.UserName,
		UserEmail:        p.UserEmail,
		Airline:          p.Airline,
		FlightNumber:     p.FlightNumber,
		DepartureAirport: p.DepartureAirport,
		ArrivalAirport:   p.ArrivalAirport,
		DepartureTime:    p.DepartureTime,
		ArrivalTime:      p.ArrivalTime,
		SeatRow:          seatRow,
		SeatLetter:       seatLetter,
	}, nil
}

// ListTickets returns all tickets booked by the given user.
func (s *Store) ListTickets(ctx context.Context, userID string) ([]Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, user_name, user_email, airline, flight_number,
		   departure_airport, arrival_airport, departure_time, arrival_time,
		   seat_row, seat_letter
		 FROM tickets WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		var t Ticket
		if err := rows.Scan(&t.ID, &t.UserID, &t.UserName, &t.UserEmail, &t.Airline,
			&t.FlightNumber, &t.DepartureAirport, &t.ArrivalAirport,
			&t.DepartureTime, &t.ArrivalTime, &t.SeatRow, &t.SeatLetter); err != nil {
			return nil, fmt.Errorf("scanning ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tickets: %w", err)
	}
	return tickets, nil
}

// SearchPolicies returns the policy passages within the cosine distance
// threshold of the query embedding, nearest first.
func (s *Store) SearchPolicies(ctx context.Context, embedding pgvector.Vector, similarityThreshold float64, topK int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT content
		 FROM policies
		 WHERE (embedding <=> $1) < $2
		 ORDER BY (embedding <=> $1)
		 LIMIT $3`,
		embedding, similarityThreshold, topK)
	if err != nil {
		return nil, fmt.Errorf("searching policies: %w", err)
	}
	defer rows.Close()

	var contents []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		contents = append(contents, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading policies: %w", err)
	}
	return contents, nil
}
