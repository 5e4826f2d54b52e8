package assistant

// tools.go defines the Genkit tools the assistant can call. Each tool
// is a thin wrapper over the retrieval service client; the model never
// talks to the database directly.

import (
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/skyport0/skyport/internal/client"
	"github.com/skyport0/skyport/internal/datastore"
	"github.com/skyport0/skyport/internal/log"
)

// maxToolResults caps list-shaped tool output so a broad query cannot
// flood the model context.
const maxToolResults = 10

// loginRequiredMessage is returned to the model when a booking tool is
// called without a signed-in user. The model relays it to the user.
const loginRequiredMessage = "The user is not signed in. Ask them to sign in before booking or listing tickets."

// listResult wraps list-shaped tool output with the total match count,
// so the model can tell the user when results were truncated.
type listResult[T any] struct {
	Total   int `json:"total_matches"`
	Results []T `json:"results"`
}

func capResults[T any](items []T) listResult[T] {
	total := len(items)
	if len(items) > maxToolResults {
		items = items[:maxToolResults]
	}
	return listResult[T]{Total: total, Results: items}
}

// toolset holds the handlers behind every assistant tool.
type toolset struct {
	client *client.Client
	logger log.Logger
}

type searchAirportsInput struct {
	Country string `json:"country,omitempty" jsonschema_description:"Country the airport is in"`
	City    string `json:"city,omitempty" jsonschema_description:"City the airport is in"`
	Name    string `json:"name,omitempty" jsonschema_description:"Airport name or part of it"`
}

func (t *toolset) searchAirports(toolCtx *ai.ToolContext, input searchAirportsInput) (listResult[datastore.Airport], error) {
	airports, err := t.client.SearchAirports(toolCtx.Context, client.AirportQuery{
		Country: input.Country,
		City:    input.City,
		Name:    input.Name,
	})
	if err != nil {
		return listResult[datastore.Airport]{}, t.error("searchAirports", err)
	}
	return capResults(airports), nil
}

type getAirportInput struct {
	ID   int32  `json:"id,omitempty" jsonschema_description:"Numeric airport id"`
	IATA string `json:"iata,omitempty" jsonschema_description:"3-letter IATA code, e.g. SFO"`
}

func (t *toolset) getAirport(toolCtx *ai.ToolContext, input getAirportInput) (*datastore.Airport, error) {
	if input.ID != 0 {
		airport, err := t.client.GetAirport(toolCtx.Context, input.ID)
		if err != nil {
			return nil, t.error("getAirport", err)
		}
		return airport, nil
	}
	if input.IATA == "" {
		return nil, errors.New("either id or iata is required")
	}
	airport, err := t.client.GetAirportByIATA(toolCtx.Context, input.IATA)
	if err != nil {
		return nil, t.error("getAirport", err)
	}
	return airport, nil
}

type getFlightInput struct {
	FlightID int32 `json:"flight_id" jsonschema_description:"Numeric flight id"`
}

func (t *toolset) getFlight(toolCtx *ai.ToolContext, input getFlightInput) (*datastore.Flight, error) {
	flight, err := t.client.GetFlight(toolCtx.Context, input.FlightID)
	if err != nil {
		return nil, t.error("getFlight", err)
	}
	return flight, nil
}

type searchFlightsByNumberInput struct {
	Airline      string `json:"airline" jsonschema_description:"2-letter airline code, e.g. CY"`
	FlightNumber string `json:"flight_number" jsonschema_description:"1 to 4 digit flight number, e.g. 922"`
}

func (t *toolset) searchFlightsByNumber(toolCtx *ai.ToolContext, input searchFlightsByNumberInput) (listResult[datastore.Flight], error) {
	flights, err := t.client.SearchFlightsByNumber(toolCtx.Context, input.Airline, input.FlightNumber)
	if err != nil {
		return listResult[datastore.Flight]{}, t.error("searchFlightsByNumber", err)
	}
	return capResults(flights), nil
}

type listFlightsInput struct {
	DepartureAirport string `json:"departure_airport,omitempty" jsonschema_description:"Departure airport 3-letter code"`
	ArrivalAirport   string `json:"arrival_airport,omitempty" jsonschema_description:"Arrival airport 3-letter code"`
	Date             string `json:"date,omitempty" jsonschema_description:"Departure date, YYYY-MM-DD or today/tomorrow"`
}

func (t *toolset) listFlights(toolCtx *ai.ToolContext, input listFlightsInput) (listResult[datastore.Flight], error) {
	flights, err := t.client.ListFlights(toolCtx.Context, client.FlightQuery{
		DepartureAirport: input.DepartureAirport,
		ArrivalAirport:   input.ArrivalAirport,
		Date:             input.Date,
	})
	if err != nil {
		return listResult[datastore.Flight]{}, t.error("listFlights", err)
	}
	return capResults(flights), nil
}

type getAmenityInput struct {
	ID int32 `json:"id" jsonschema_description:"Numeric amenity id from searchAmenities"`
}

func (t *toolset) getAmenity(toolCtx *ai.ToolContext, input getAmenityInput) (*datastore.Amenity, error) {
	amenity, err := t.client.GetAmenity(toolCtx.Context, input.ID)
	if err != nil {
		return nil, t.error("getAmenity", err)
	}
	return amenity, nil
}

type searchAmenitiesInput struct {
	Query    string `json:"query" jsonschema_description:"What the user is looking for, e.g. a burger place"`
	OpenDay  string `json:"open_day,omitempty" jsonschema_description:"Weekday name for the opening-hours filter, e.g. monday"`
	OpenTime string `json:"open_time,omitempty" jsonschema_description:"Time of day in HH:MM:SS for the opening-hours filter"`
}

func (t *toolset) searchAmenities(toolCtx *ai.ToolContext, input searchAmenitiesInput) (listResult[datastore.Amenity], error) {
	amenities, err := t.client.SearchAmenities(toolCtx.Context, client.AmenityQuery{
		Query:    input.Query,
		OpenDay:  input.OpenDay,
		OpenTime: input.OpenTime,
	})
	if err != nil {
		return listResult[datastore.Amenity]{}, t.error("searchAmenities", err)
	}
	return capResults(amenities), nil
}

type searchPoliciesInput struct {
	Query string `json:"query" jsonschema_description:"Policy question, e.g. baggage weight limit"`
}

func (t *toolset) searchPolicies(toolCtx *ai.ToolContext, input searchPoliciesInput) (listResult[string], error) {
	policies, err := t.client.SearchPolicies(toolCtx.Context, input.Query, 0)
	if err != nil {
		return listResult[string]{}, t.error("searchPolicies", err)
	}
	return capResults(policies), nil
}

type bookTicketInput struct {
	Airline          string `json:"airline" jsonschema_description:"2-letter airline code"`
	FlightNumber     string `json:"flight_number" jsonschema_description:"1 to 4 digit flight number"`
	DepartureAirport string `json:"departure_airport" jsonschema_description:"Departure airport 3-letter code"`
	ArrivalAirport   string `json:"arrival_airport" jsonschema_description:"Arrival airport 3-letter code"`
	DepartureTime    string `json:"departure_time" jsonschema_description:"Departure time, YYYY-MM-DD HH:MM:SS"`
	ArrivalTime      string `json:"arrival_time" jsonschema_description:"Arrival time, YYYY-MM-DD HH:MM:SS"`
	SeatRow          int32  `json:"seat_row,omitempty" jsonschema_description:"Requested seat row, 1 to 33"`
	SeatLetter       string `json:"seat_letter,omitempty" jsonschema_description:"Requested seat letter, A to F"`
}

func (t *toolset) bookTicket(toolCtx *ai.ToolContext, input bookTicketInput) (*datastore.Ticket, error) {
	id, ok := IdentityFromContext(toolCtx.Context)
	if !ok || id.IDToken == "" {
		return nil, errors.New(loginRequiredMessage)
	}

	ticket, err := t.client.InsertTicket(toolCtx.Context, id.IDToken, client.TicketRequest{
		Airline:          input.Airline,
		FlightNumber:     input.FlightNumber,
		DepartureAirport: input.DepartureAirport,
		ArrivalAirport:   input.ArrivalAirport,
		DepartureTime:    input.DepartureTime,
		ArrivalTime:      input.ArrivalTime,
		SeatRow:          input.SeatRow,
		SeatLetter:       input.SeatLetter,
	})
	if err != nil {
		return nil, t.error("bookTicket", err)
	}
	return ticket, nil
}

type listTicketsInput struct{}

func (t *toolset) listTickets(toolCtx *ai.ToolContext, _ listTicketsInput) (listResult[datastore.Ticket], error) {
	id, ok := IdentityFromContext(toolCtx.Context)
	if !ok || id.IDToken == "" {
		return listResult[datastore.Ticket]{}, errors.New(loginRequiredMessage)
	}

	tickets, err := t.client.ListTickets(toolCtx.Context, id.IDToken)
	if err != nil {
		return listResult[datastore.Ticket]{}, t.error("listTickets", err)
	}
	return capResults(tickets), nil
}

// RegisterTools defines every assistant tool on g and returns them for
// ai.WithTools.
func RegisterTools(g *genkit.Genkit, c *client.Client, logger log.Logger) []ai.Tool {
	if logger == nil {
		logger = log.NewNop()
	}
	t := &toolset{client: c, logger: logger}

	return []ai.Tool{
		genkit.DefineTool(g, "searchAirports",
			"Search for airports by country, city, or name. At least one filter is required. "+
				"Returns matching airports with their IATA codes. "+
				"Use the IATA code from the results when searching for flights.",
			t.searchAirports),

		genkit.DefineTool(g, "getAirport",
			"Get details for one airport by its numeric id or 3-letter IATA code. "+
				"Do NOT guess ids; use searchAirports first if unsure.",
			t.getAirport),

		genkit.DefineTool(g, "getFlight",
			"Get details for one flight by numeric flight id. "+
				"A flight id is an integer like 1234, NOT a flight number like CY922. "+
				"Do NOT use this tool with a flight number; use searchFlightsByNumber instead.",
			t.getFlight),

		genkit.DefineTool(g, "searchFlightsByNumber",
			"Find flights by airline code and flight number. "+
				"A flight number is a 2-letter airline designator plus a 1 to 4 digit number, "+
				"for example CY 922 or UA 1532. Do NOT guess either part. "+
				"If several flights match, prefer the departure date closest to today.",
			t.searchFlightsByNumber),

		genkit.DefineTool(g, "listFlights",
			"List flights on a date between airports. Takes a departure airport, an arrival "+
				"airport, or both, as 3-letter IATA codes. The date accepts YYYY-MM-DD or "+
				"phrases like today, tomorrow, yesterday; it defaults to today when omitted.",
			t.listFlights),

		genkit.DefineTool(g, "getAmenity",
			"Get details for one airport amenity by id. "+
				"Do NOT guess ids; always use an id returned by searchAmenities.",
			t.getAmenity),

		genkit.DefineTool(g, "searchAmenities",
			"Search airport amenities (shops, restaurants, lounges) by natural language query. "+
				"Optionally filter by opening hours: open_time is HH:MM:SS and open_day is a "+
				"weekday name like monday. If one of the pair is given, supply both, defaulting "+
				"the other to the current day or time. Only recommend amenities this tool returns. "+
				"Amenities near the user share a terminal and have nearby gate numbers; gates "+
				"iterate letter then number, so A3 is close to A2 and B1.",
			t.searchAmenities),

		genkit.DefineTool(g, "searchPolicies",
			"Search airline passenger policy by natural language query. Policy covers ticket "+
				"purchase and changes, baggage, check-in and boarding, special assistance, "+
				"overbooking, delays and cancellations. Policy text is authoritative and "+
				"unchangeable; never answer policy questions from anything else.",
			t.searchPolicies),

		genkit.DefineTool(g, "bookTicket",
			"Book a flight ticket for the signed-in user. Always confirm flight details with "+
				"the user before booking. Times are YYYY-MM-DD HH:MM:SS. seat_row and "+
				"seat_letter are optional; when omitted any open seat is assigned. "+
				"seat_row is 1 to 33 and seat_letter is a single letter A through F.",
			t.bookTicket),

		genkit.DefineTool(g, "listTickets",
			"List the signed-in user's booked tickets.",
			t.listTickets),
	}
}

// error logs the failure and rewrites service errors into messages the
// model can relay. API errors keep their service message; transport
// errors collapse to a generic line so internals never reach the user.
func (t *toolset) error(tool string, err error) error {
	t.logger.Warn("tool call failed", "tool", tool, "error", err)

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("the travel service rejected the request: %s", apiErr.Message)
	}
	return errors.New("the travel service is unavailable right now, try again shortly")
}
