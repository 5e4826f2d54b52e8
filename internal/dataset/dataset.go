// Package dataset reads and writes the travel dataset CSV files.
//
// The on-disk layout is one CSV per table (airport_dataset.csv,
// amenity_dataset.csv, policy_dataset.csv, flights_dataset.csv,
// tickets_dataset.csv, seats_dataset.csv). Embedding columns hold a
// bracketed list of floats, e.g. "[0.1, -0.2, ...]".
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/skyport0/skyport/internal/datastore"
)

// Canonical file names inside a dataset directory.
const (
	AirportsFile  = "airport_dataset.csv"
	AmenitiesFile = "amenity_dataset.csv"
	PoliciesFile  = "policy_dataset.csv"
	FlightsFile   = "flights_dataset.csv"
	TicketsFile   = "tickets_dataset.csv"
	SeatsFile     = "seats_dataset.csv"
)

// timestampLayout matches the departure/arrival columns in the CSVs.
const timestampLayout = "2006-01-02 15:04:05"

// Loader gives access to all six tables of a dataset directory. The
// small lookup tables are read eagerly; flights, tickets, and seats run
// to hundreds of thousands of rows, so they are exposed as streams that
// decode one CSV record at a time. Callers must Close the loader when
// done, and streams are invalid afterwards.
type Loader struct {
	Airports  []datastore.Airport
	Amenities []datastore.Amenity
	Policies  []datastore.Policy
	Flights   *Stream[datastore.Flight]
	Tickets   *Stream[datastore.Ticket]
	Seats     *Stream[datastore.Seat]

	closers []io.Closer
}

// Open reads the small tables from dir and opens streams over the rest.
func Open(dir string) (*Loader, error) {
	l := &Loader{}
	var err error

	if l.Airports, err = readAirports(filepath.Join(dir, AirportsFile)); err != nil {
		return nil, err
	}
	if l.Amenities, err = readAmenities(filepath.Join(dir, AmenitiesFile)); err != nil {
		return nil, err
	}
	if l.Policies, err = readPolicies(filepath.Join(dir, PoliciesFile)); err != nil {
		return nil, err
	}

	if l.Flights, err = openStream(l, filepath.Join(dir, FlightsFile), parseFlight); err != nil {
		l.Close()
		return nil, err
	}
	if l.Tickets, err = openStream(l, filepath.Join(dir, TicketsFile), parseTicket); err != nil {
		l.Close()
		return nil, err
	}
	if l.Seats, err = openStream(l, filepath.Join(dir, SeatsFile), parseSeat); err != nil {
		l.Close()
		return nil, err
	}

	return l, nil
}

// Close releases the files backing the streams.
func (l *Loader) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

// Source adapts the loader for datastore.LoadDataset.
func (l *Loader) Source() *datastore.DatasetSource {
	return &datastore.DatasetSource{
		Airports:  datastore.NewSliceSource(l.Airports),
		Amenities: datastore.NewSliceSource(l.Amenities),
		Policies:  datastore.NewSliceSource(l.Policies),
		Flights:   l.Flights,
		Tickets:   l.Tickets,
		Seats:     l.Seats,
	}
}

// Stream decodes one table's CSV rows on demand. It implements
// datastore.Source.
type Stream[T any] struct {
	rows  *rowReader
	parse func(*rowReader, map[string]string) (*T, error)
}

// Next returns the next decoded row, or nil at EOF.
func (s *Stream[T]) Next() (*T, error) {
	row, err := s.rows.next()
	if err != nil || row == nil {
		return nil, err
	}
	return s.parse(s.rows, row)
}

func openStream[T any](l *Loader, path string,
	parse func(*rowReader, map[string]string) (*T, error)) (*Stream[T], error) {
	rows, closer, err := openRows(path)
	if err != nil {
		return nil, err
	}
	l.closers = append(l.closers, closer)
	return &Stream[T]{rows: rows, parse: parse}, nil
}

func drain[T any](s *Stream[T]) ([]T, error) {
	var out []T
	for {
		row, err := s.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return out, nil
		}
		out = append(out, *row)
	}
}

// Read loads all six CSV files from dir into memory. Intended for tests
// and small exports; db init streams via Open instead.
func Read(dir string) (*datastore.Dataset, error) {
	l, err := Open(dir)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	ds := &datastore.Dataset{
		Airports:  l.Airports,
		Amenities: l.Amenities,
		Policies:  l.Policies,
	}
	if ds.Flights, err = drain(l.Flights); err != nil {
		return nil, err
	}
	if ds.Tickets, err = drain(l.Tickets); err != nil {
		return nil, err
	}
	if ds.Seats, err = drain(l.Seats); err != nil {
		return nil, err
	}
	return ds, nil
}

// rowReader iterates CSV rows as header-keyed maps.
type rowReader struct {
	path   string
	reader *csv.Reader
	header []string
	line   int
}

func openRows(path string) (*rowReader, io.Closer, error) {
	f, err := os.Open(path) // #nosec G304 -- path is operator-supplied on the CLI
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("reading header of %s: %w", path, err)
	}

	return &rowReader{path: path, reader: r, header: header, line: 1}, f, nil
}

// next returns the next row keyed by column name, or nil at EOF.
func (r *rowReader) next() (map[string]string, error) {
	record, err := r.reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.path, err)
	}
	r.line++

	row := make(map[string]string, len(r.header))
	for i, col := range r.header {
		row[col] = record[i]
	}
	return row, nil
}

func (r *rowReader) errf(format string, args ...any) error {
	return fmt.Errorf("%s line %d: %s", r.path, r.line, fmt.Sprintf(format, args...))
}

func parseInt32(s string) (int32, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	return int32(n), err
}

// parseEmbedding parses a bracketed float list. Both "[1, 2]" and "[1,2]"
// forms are accepted.
func parseEmbedding(s string) (pgvector.Vector, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return pgvector.Vector{}, fmt.Errorf("embedding %q is not a bracketed list", truncate(s, 32))
	}
	fields := strings.Split(s[1:len(s)-1], ",")
	values := make([]float32, 0, len(fields))
	for _, field := range fields {
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return pgvector.Vector{}, fmt.Errorf("parsing embedding value %q: %w", field, err)
		}
		values = append(values, float32(f))
	}
	return pgvector.NewVector(values), nil
}

// formatEmbedding renders a vector the way the Python tooling does, so
// exported files diff cleanly against the published dataset.
func formatEmbedding(v pgvector.Vector) string {
	values := v.Slice()
	parts := make([]string, len(values))
	for i, f := range values {
		parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func parseOptionalTime(s string) (pgtype.Time, error) {
	if strings.TrimSpace(s) == "" {
		return pgtype.Time{}, nil
	}
	return datastore.ParseTimeOfDay(s)
}

func readAirports(path string) ([]datastore.Airport, error) {
	rows, closer, err := openRows(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var airports []datastore.Airport
	for {
		row, err := rows.next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return airports, nil
		}

		id, err := parseInt32(row["id"])
		if err != nil {
			return nil, rows.errf("invalid id: %v", err)
		}
		airports = append(airports, datastore.Airport{
			ID:      id,
			IATA:    row["iata"],
			Name:    row["name"],
			City:    row["city"],
			Country: row["country"],
		})
	}
}

func readAmenities(path string) ([]datastore.Amenity, error) {
	rows, closer, err := openRows(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var amenities []datastore.Amenity
	for {
		row, err := rows.next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return amenities, nil
		}

		id, err := parseInt32(row["id"])
		if err != nil {
			return nil, rows.errf("invalid id: %v", err)
		}
		embedding, err := parseEmbedding(row["embedding"])
		if err != nil {
			return nil, rows.errf("%v", err)
		}

		a := datastore.Amenity{
			ID:          id,
			Name:        row["name"],
			Description: row["description"],
			Location:    row["location"],
			Terminal:    row["terminal"],
			Category:    row["category"],
			Hour:        row["hour"],
			Content:     row["content"],
			Embedding:   embedding,
		}

		hours := []struct {
			col  string
			dest *pgtype.Time
		}{
			{"sunday_start_hour", &a.SundayStartHour},
			{"sunday_end_hour", &a.SundayEndHour},
			{"monday_start_hour", &a.MondayStartHour},
			{"monday_end_hour", &a.MondayEndHour},
			{"tuesday_start_hour", &a.TuesdayStartHour},
			{"tuesday_end_hour", &a.TuesdayEndHour},
			{"wednesday_start_hour", &a.WednesdayStartHour},
			{"wednesday_end_hour", &a.WednesdayEndHour},
			{"thursday_start_hour", &a.ThursdayStartHour},
			{"thursday_end_hour", &a.ThursdayEndHour},
			{"friday_start_hour", &a.FridayStartHour},
			{"friday_end_hour", &a.FridayEndHour},
			{"saturday_start_hour", &a.SaturdayStartHour},
			{"saturday_end_hour", &a.SaturdayEndHour},
		}
		for _, h := range hours {
			t, err := parseOptionalTime(row[h.col])
			if err != nil {
				return nil, rows.errf("invalid %s: %v", h.col, err)
			}
			*h.dest = t
		}

		amenities = append(amenities, a)
	}
}

func readPolicies(path string) ([]datastore.Policy, error) {
	rows, closer, err := openRows(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var policies []datastore.Policy
	for {
		row, err := rows.next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return policies, nil
		}

		id, err := parseInt32(row["id"])
		if err != nil {
			return nil, rows.errf("invalid id: %v", err)
		}
		embedding, err := parseEmbedding(row["embedding"])
		if err != nil {
			return nil, rows.errf("%v", err)
		}
		policies = append(policies, datastore.Policy{
			ID:        id,
			Content:   row["content"],
			Embedding: embedding,
		})
	}
}

func parseFlight(rows *rowReader, row map[string]string) (*datastore.Flight, error) {
	id, err := parseInt32(row["id"])
	if err != nil {
		return nil, rows.errf("invalid id: %v", err)
	}
	dep, err := time.Parse(timestampLayout, row["departure_time"])
	if err != nil {
		return nil, rows.errf("invalid departure_time: %v", err)
	}
	arr, err := time.Parse(timestampLayout, row["arrival_time"])
	if err != nil {
		return nil, rows.errf("invalid arrival_time: %v", err)
	}

	return &datastore.Flight{
		ID:               id,
		Airline:          row["airline"],
		FlightNumber:     row["flight_number"],
		DepartureAirport: row["departure_airport"],
		ArrivalAirport:   row["arrival_airport"],
		DepartureTime:    dep,
		ArrivalTime:      arr,
		DepartureGate:    row["departure_gate"],
		ArrivalGate:      row["arrival_gate"],
	}, nil
}

func parseTicket(rows *rowReader, row map[string]string) (*datastore.Ticket, error) {
	id, err := parseInt32(row["id"])
	if err != nil {
		return nil, rows.errf("invalid id: %v", err)
	}
	dep, err := time.Parse(timestampLayout, row["departure_time"])
	if err != nil {
		return nil, rows.errf("invalid departure_time: %v", err)
	}
	arr, err := time.Parse(timestampLayout, row["arrival_time"])
	if err != nil {
		return nil, rows.errf("invalid arrival_time: %v", err)
	}
	seatRow, err := parseInt32(row["seat_row"])
	if err != nil {
		return nil, rows.errf("invalid seat_row: %v", err)
	}

	return &datastore.Ticket{
		ID:               id,
		UserID:           row["user_id"],
		UserName:         row["user_name"],
		UserEmail:        row["user_email"],
		Airline:          row["airline"],
		FlightNumber:     row["flight_number"],
		DepartureAirport: row["departure_airport"],
		ArrivalAirport:   row["arrival_airport"],
		DepartureTime:    dep,
		ArrivalTime:      arr,
		SeatRow:          seatRow,
		SeatLetter:       row["seat_letter"],
	}, nil
}

func parseSeat(rows *rowReader, row map[string]string) (*datastore.Seat, error) {
	flightID, err := parseInt32(row["flight_id"])
	if err != nil {
		return nil, rows.errf("invalid flight_id: %v", err)
	}
	seatRow, err := parseInt32(row["seat_row"])
	if err != nil {
		return nil, rows.errf("invalid seat_row: %v", err)
	}
	reserved, err := strconv.ParseBool(strings.TrimSpace(row["is_reserved"]))
	if err != nil {
		return nil, rows.errf("invalid is_reserved: %v", err)
	}

	// -1 and empty both mean no ticket attached.
	var ticketID *int32
	if raw := strings.TrimSpace(row["ticket_id"]); raw != "" && raw != "-1" {
		id, err := parseInt32(raw)
		if err != nil {
			return nil, rows.errf("invalid ticket_id: %v", err)
		}
		ticketID = &id
	}

	return &datastore.Seat{
		FlightID:   flightID,
		SeatRow:    seatRow,
		SeatLetter: row["seat_letter"],
		SeatType:   row["seat_type"],
		SeatClass:  row["seat_class"],
		IsReserved: reserved,
		TicketID:   ticketID,
	}, nil
}
