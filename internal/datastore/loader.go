package datastore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Source yields rows of one table. Next returns nil once the input is
// exhausted. Implementations may read lazily, so a Source is only valid
// until its backing reader is closed.
type Source[T any] interface {
	Next() (*T, error)
}

// DatasetSource feeds LoadDataset one Source per table. Small tables can
// be served from memory with SliceSource; the big ones (flights, tickets,
// seats) should stream from disk so the full dataset never has to fit in
// memory at once.
type DatasetSource struct {
	Airports  Source[Airport]
	Amenities Source[Amenity]
	Policies  Source[Policy]
	Flights   Source[Flight]
	Tickets   Source[Ticket]
	Seats     Source[Seat]
}

// SliceSource adapts an in-memory slice to a Source.
type SliceSource[T any] struct {
	rows []T
	next int
}

func NewSliceSource[T any](rows []T) *SliceSource[T] {
	return &SliceSource[T]{rows: rows}
}

func (s *SliceSource[T]) Next() (*T, error) {
	if s.next >= len(s.rows) {
		return nil, nil
	}
	row := &s.rows[s.next]
	s.next++
	return row, nil
}

// Source wraps an in-memory dataset for LoadDataset.
func (ds *Dataset) Source() *DatasetSource {
	return &DatasetSource{
		Airports:  NewSliceSource(ds.Airports),
		Amenities: NewSliceSource(ds.Amenities),
		Policies:  NewSliceSource(ds.Policies),
		Flights:   NewSliceSource(ds.Flights),
		Tickets:   NewSliceSource(ds.Tickets),
		Seats:     NewSliceSource(ds.Seats),
	}
}

// copySource bridges a Source to pgx.CopyFrom, converting one row at a
// time so COPY streams rows as the Source produces them.
type copySource[T any] struct {
	src    Source[T]
	values func(*T) []any
	cur    []any
	err    error
}

func (c *copySource[T]) Next() bool {
	row, err := c.src.Next()
	if err != nil {
		c.err = err
		return false
	}
	if row == nil {
		return false
	}
	c.cur = c.values(row)
	return true
}

func (c *copySource[T]) Values() ([]any, error) { return c.cur, nil }

func (c *copySource[T]) Err() error { return c.err }

func copyTable[T any](ctx context.Context, tx pgx.Tx, table string, columns []string,
	src Source[T], values func(*T) []any) (int64, error) {
	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, &copySource[T]{src: src, values: values})
	if err != nil {
		return 0, fmt.Errorf("loading %s: %w", table, err)
	}
	return n, nil
}

// LoadDataset replaces the contents of all six travel tables. Each table
// is truncated and reloaded with COPY inside a single transaction, so
// readers never observe a half-loaded database. Rows are pulled from the
// source one at a time rather than materialized up front.
func (s *Store) LoadDataset(ctx context.Context, src *DatasetSource) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		`TRUNCATE airports, amenities, policies, flights, tickets, seats`); err != nil {
		return fmt.Errorf("truncating tables: %w", err)
	}

	airports, err := copyTable(ctx, tx, "airports",
		[]string{"id", "iata", "name", "city", "country"},
		src.Airports, func(a *Airport) []any {
			return []any{a.ID, a.IATA, a.Name, a.City, a.Country}
		})
	if err != nil {
		return err
	}

	amenities, err := copyTable(ctx, tx, "amenities",
		[]string{"id", "name", "description", "location", "terminal", "category", "hour",
			"sunday_start_hour", "sunday_end_hour",
			"monday_start_hour", "monday_end_hour",
			"tuesday_start_hour", "tuesday_end_hour",
			"wednesday_start_hour", "wednesday_end_hour",
			"thursday_start_hour", "thursday_end_hour",
			"friday_start_hour", "friday_end_hour",
			"saturday_start_hour", "saturday_end_hour",
			"content", "embedding"},
		src.Amenities, func(a *Amenity) []any {
			return []any{a.ID, a.Name, a.Description, a.Location, a.Terminal, a.Category, a.Hour,
				a.SundayStartHour, a.SundayEndHour,
				a.MondayStartHour, a.MondayEndHour,
				a.TuesdayStartHour, a.TuesdayEndHour,
				a.WednesdayStartHour, a.WednesdayEndHour,
				a.ThursdayStartHour, a.ThursdayEndHour,
				a.FridayStartHour, a.FridayEndHour,
				a.SaturdayStartHour, a.SaturdayEndHour,
				a.Content, a.Embedding}
		})
	if err != nil {
		return err
	}

	policies, err := copyTable(ctx, tx, "policies",
		[]string{"id", "content", "embedding"},
		src.Policies, func(p *Policy) []any {
			return []any{p.ID, p.Content, p.Embedding}
		})
	if err != nil {
		return err
	}

	flights, err := copyTable(ctx, tx, "flights",
		[]string{"id", "airline", "flight_number", "departure_airport", "arrival_airport",
			"departure_time", "arrival_time", "departure_gate", "arrival_gate"},
		src.Flights, func(f *Flight) []any {
			return []any{f.ID, f.Airline, f.FlightNumber, f.DepartureAirport, f.ArrivalAirport,
				f.DepartureTime, f.ArrivalTime, f.DepartureGate, f.ArrivalGate}
		})
	if err != nil {
		return err
	}

	tickets, err := copyTable(ctx, tx, "tickets",
		[]string{"id", "user_id", "user_name", "user_email", "airline", "flight_number",
			"departure_airport", "arrival_airport", "departure_time", "arrival_time",
			"seat_row", "seat_letter"},
		src.Tickets, func(t *Ticket) []any {
			return []any{t.ID, t.UserID, t.UserName, t.UserEmail, t.Airline, t.FlightNumber,
				t.DepartureAirport, t.ArrivalAirport, t.DepartureTime, t.ArrivalTime,
				t.SeatRow, t.SeatLetter}
		})
	if err != nil {
		return err
	}

	seats, err := copyTable(ctx, tx, "seats",
		[]string{"flight_id", "seat_row", "seat_letter", "seat_type", "seat_class",
			"is_reserved", "ticket_id"},
		src.Seats, func(st *Seat) []any {
			return []any{st.FlightID, st.SeatRow, st.SeatLetter, st.SeatType, st.SeatClass,
				st.IsReserved, st.TicketID}
		})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing dataset load: %w", err)
	}

	s.logger.Info("dataset loaded",
		"airports", airports,
		"amenities", amenities,
		"policies", policies,
		"flights", flights,
		"tickets", tickets,
		"seats", seats)

	return nil
}

// exportRowLimit caps tickets and seats on export, matching the size of
// the published sample dataset.
const exportRowLimit = 1000

// Export reads all six tables back into a Dataset, including amenity and
// policy embeddings, for writing out as CSV.
func (s *Store) Export(ctx context.Context) (*Dataset, error) {
	ds := &Dataset{}

	rows, err := s.pool.Query(ctx, `SELECT id, iata, name, city, country FROM airports ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("exporting airports: %w", err)
	}
	for rows.Next() {
		var a Airport
		if err := rows.Scan(&a.ID, &a.IATA, &a.Name, &a.City, &a.Country); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning airport: %w", err)
		}
		ds.Airports = append(ds.Airports, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading airports: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, name, description, location, terminal, category, hour,
		   sunday_start_hour, sunday_end_hour,
		   monday_start_hour, monday_end_hour,
		   tuesday_start_hour, tuesday_end_hour,
		   wednesday_start_hour, wednesday_end_hour,
		   thursday_start_hour, thursday_end_hour,
		   friday_start_hour, friday_end_hour,
		   saturday_start_hour, saturday_end_hour,
		   content, embedding
		 FROM amenities ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("exporting amenities: %w", err)
	}
	for rows.Next() {
		var a Amenity
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Location, &a.Terminal,
			&a.Category, &a.Hour,
			&a.SundayStartHour, &a.SundayEndHour,
			&a.MondayStartHour, &a.MondayEndHour,
			&a.TuesdayStartHour, &a.TuesdayEndHour,
			&a.WednesdayStartHour, &a.WednesdayEndHour,
			&a.ThursdayStartHour, &a.ThursdayEndHour,
			&a.FridayStartHour, &a.FridayEndHour,
			&a.SaturdayStartHour, &a.SaturdayEndHour,
			&a.Content, &a.Embedding); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning amenity: %w", err)
		}
		ds.Amenities = append(ds.Amenities, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading amenities: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT id, content, embedding FROM policies ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("exporting policies: %w", err)
	}
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.Content, &p.Embedding); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		ds.Policies = append(ds.Policies, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading policies: %w", err)
	}

	frows, err := s.pool.Query(ctx, `SELECT `+flightCols+` FROM flights ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("exporting flights: %w", err)
	}
	ds.Flights, err = collectFlights(frows)
	if err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, user_id, user_name, user_email, airline, flight_number,
		   departure_airport, arrival_airport, departure_time, arrival_time,
		   seat_row, seat_letter
		 FROM tickets ORDER BY id ASC LIMIT $1`, exportRowLimit)
	if err != nil {
		return nil, fmt.Errorf("exporting tickets: %w", err)
	}
	for rows.Next() {
		var t Ticket
		if err := rows.Scan(&t.ID, &t.UserID, &t.UserName, &t.UserEmail, &t.Airline,
			&t.FlightNumber, &t.DepartureAirport, &t.ArrivalAirport,
			&t.DepartureTime, &t.ArrivalTime, &t.SeatRow, &t.SeatLetter); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning ticket: %w", err)
		}
		ds.Tickets = append(ds.Tickets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tickets: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT flight_id, seat_row, seat_letter, seat_type, seat_class, is_reserved, ticket_id
		 FROM seats ORDER BY flight_id ASC LIMIT $1`, exportRowLimit)
	if err != nil {
		return nil, fmt.Errorf("exporting seats: %w", err)
	}
	for rows.Next() {
		var st Seat
		if err := rows.Scan(&st.FlightID, &st.SeatRow, &st.SeatLetter, &st.SeatType,
			&st.SeatClass, &st.IsReserved, &st.TicketID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning seat: %w", err)
		}
		ds.Seats = append(ds.Seats, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading seats: %w", err)
	}

	return ds, nil
}
