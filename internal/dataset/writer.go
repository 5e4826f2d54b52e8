package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/skyport0/skyport/internal/datastore"
)

// Write renders a Dataset back into the six CSV files under dir,
// overwriting any existing files.
func Write(dir string, ds *datastore.Dataset) error {
	if err := writeAirports(filepath.Join(dir, AirportsFile), ds.Airports); err != nil {
		return err
	}
	if err := writeAmenities(filepath.Join(dir, AmenitiesFile), ds.Amenities); err != nil {
		return err
	}
	if err := writePolicies(filepath.Join(dir, PoliciesFile), ds.Policies); err != nil {
		return err
	}
	if err := writeFlights(filepath.Join(dir, FlightsFile), ds.Flights); err != nil {
		return err
	}
	if err := writeTickets(filepath.Join(dir, TicketsFile), ds.Tickets); err != nil {
		return err
	}
	return writeSeats(filepath.Join(dir, SeatsFile), ds.Seats)
}

// writeCSV writes a header and rows to path, flushing and surfacing any
// write error.
func writeCSV(path string, header []string, rows func(w *csv.Writer) error) error {
	f, err := os.Create(path) // #nosec G304 -- path is operator-supplied on the CLI
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing header of %s: %w", path, err)
	}
	if err := rows(w); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

func itoa(n int32) string { return strconv.FormatInt(int64(n), 10) }

func writeAirports(path string, airports []datastore.Airport) error {
	return writeCSV(path, []string{"id", "iata", "name", "city", "country"},
		func(w *csv.Writer) error {
			for _, a := range airports {
				if err := w.Write([]string{itoa(a.ID), a.IATA, a.Name, a.City, a.Country}); err != nil {
					return err
				}
			}
			return nil
		})
}

func writeAmenities(path string, amenities []datastore.Amenity) error {
	header := []string{
		"id", "name", "description", "location", "terminal", "category", "hour",
		"sunday_start_hour", "sunday_end_hour",
		"monday_start_hour", "monday_end_hour",
		"tuesday_start_hour", "tuesday_end_hour",
		"wednesday_start_hour", "wednesday_end_hour",
		"thursday_start_hour", "thursday_end_hour",
		"friday_start_hour", "friday_end_hour",
		"saturday_start_hour", "saturday_end_hour",
		"content", "embedding",
	}
	return writeCSV(path, header, func(w *csv.Writer) error {
		for _, a := range amenities {
			record := []string{
				itoa(a.ID), a.Name, a.Description, a.Location, a.Terminal, a.Category, a.Hour,
				datastore.FormatTimeOfDay(a.SundayStartHour), datastore.FormatTimeOfDay(a.SundayEndHour),
				datastore.FormatTimeOfDay(a.MondayStartHour), datastore.FormatTimeOfDay(a.MondayEndHour),
				datastore.FormatTimeOfDay(a.TuesdayStartHour), datastore.FormatTimeOfDay(a.TuesdayEndHour),
				datastore.FormatTimeOfDay(a.WednesdayStartHour), datastore.FormatTimeOfDay(a.WednesdayEndHour),
				datastore.FormatTimeOfDay(a.ThursdayStartHour), datastore.FormatTimeOfDay(a.ThursdayEndHour),
				datastore.FormatTimeOfDay(a.FridayStartHour), datastore.FormatTimeOfDay(a.FridayEndHour),
				datastore.FormatTimeOfDay(a.SaturdayStartHour), datastore.FormatTimeOfDay(a.SaturdayEndHour),
				a.Content, formatEmbedding(a.Embedding),
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
}

func writePolicies(path string, policies []datastore.Policy) error {
	return writeCSV(path, []string{"id", "content", "embedding"},
		func(w *csv.Writer) error {
			for _, p := range policies {
				if err := w.Write([]string{itoa(p.ID), p.Content, formatEmbedding(p.Embedding)}); err != nil {
					return err
				}
			}
			return nil
		})
}

func writeFlights(path string, flights []datastore.Flight) error {
	header := []string{
		"id", "airline", "flight_number", "departure_airport", "arrival_airport",
		"departure_time", "arrival_time", "departure_gate", "arrival_gate",
	}
	return writeCSV(path, header, func(w *csv.Writer) error {
		for _, f := range flights {
			record := []string{
				itoa(f.ID), f.Airline, f.FlightNumber, f.DepartureAirport, f.ArrivalAirport,
				f.DepartureTime.Format(timestampLayout), f.ArrivalTime.Format(timestampLayout),
				f.DepartureGate, f.ArrivalGate,
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeTickets(path string, tickets []datastore.Ticket) error {
	header := []string{
		"id", "user_id", "user_name", "user_email", "airline", "flight_number",
		"departure_airport", "arrival_airport", "departure_time", "arrival_time",
		"seat_row", "seat_letter",
	}
	return writeCSV(path, header, func(w *csv.Writer) error {
		for _, t := range tickets {
			record := []string{
				itoa(t.ID), t.UserID, t.UserName, t.UserEmail, t.Airline, t.FlightNumber,
				t.DepartureAirport, t.ArrivalAirport,
				t.DepartureTime.Format(timestampLayout), t.ArrivalTime.Format(timestampLayout),
				itoa(t.SeatRow), t.SeatLetter,
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeSeats(path string, seats []datastore.Seat) error {
	header := []string{
		"flight_id", "seat_row", "seat_letter", "seat_type", "seat_class",
		"is_reserved", "ticket_id",
	}
	return writeCSV(path, header, func(w *csv.Writer) error {
		for _, s := range seats {
			ticketID := ""
			if s.TicketID != nil {
				ticketID = itoa(*s.TicketID)
			}
			record := []string{
				itoa(s.FlightID), itoa(s.SeatRow), s.SeatLetter, s.SeatType, s.SeatClass,
				strconv.FormatBool(s.IsReserved), ticketID,
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
}
