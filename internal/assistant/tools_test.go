package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/skyport0/skyport/internal/client"
	"github.com/skyport0/skyport/internal/datastore"
	"github.com/skyport0/skyport/internal/log"
)

// newToolset builds a toolset whose client talks to a fake retrieval
// service.
func newToolset(t *testing.T, handler http.HandlerFunc) *toolset {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := client.New(context.Background(), ts.URL, log.NewNop())
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return &toolset{client: c, logger: log.NewNop()}
}

func toolCtx(ctx context.Context) *ai.ToolContext {
	return &ai.ToolContext{Context: ctx}
}

func signedInCtx() context.Context {
	return ContextWithIdentity(context.Background(),
		Identity{UserID: "user-1", Name: "Trail Blazer", IDToken: "tok"})
}

func TestCapResults(t *testing.T) {
	t.Parallel()

	short := capResults([]int{1, 2, 3})
	if short.Total != 3 || len(short.Results) != 3 {
		t.Errorf("capResults(3) = total %d, results %d", short.Total, len(short.Results))
	}

	long := make([]int, maxToolResults+5)
	capped := capResults(long)
	if capped.Total != maxToolResults+5 {
		t.Errorf("total = %d, want %d", capped.Total, maxToolResults+5)
	}
	if len(capped.Results) != maxToolResults {
		t.Errorf("results = %d, want %d", len(capped.Results), maxToolResults)
	}
}

func TestBookTicketRequiresSignIn(t *testing.T) {
	t.Parallel()

	ts := newToolset(t, func(http.ResponseWriter, *http.Request) {
		t.Error("retrieval service must not be called without a signed-in user")
	})

	input := bookTicketInput{Airline: "CY", FlightNumber: "922"}

	_, err := ts.bookTicket(toolCtx(context.Background()), input)
	if err == nil || err.Error() != loginRequiredMessage {
		t.Errorf("no identity: err = %v, want %q", err, loginRequiredMessage)
	}

	// A guest identity without an ID token is also not signed in.
	guest := ContextWithIdentity(context.Background(), Identity{UserID: "guest-1"})
	_, err = ts.bookTicket(toolCtx(guest), input)
	if err == nil || err.Error() != loginRequiredMessage {
		t.Errorf("guest identity: err = %v, want %q", err, loginRequiredMessage)
	}
}

func TestListTicketsRequiresSignIn(t *testing.T) {
	t.Parallel()

	ts := newToolset(t, func(http.ResponseWriter, *http.Request) {
		t.Error("retrieval service must not be called without a signed-in user")
	})

	_, err := ts.listTickets(toolCtx(context.Background()), listTicketsInput{})
	if err == nil || err.Error() != loginRequiredMessage {
		t.Errorf("no identity: err = %v, want %q", err, loginRequiredMessage)
	}

	guest := ContextWithIdentity(context.Background(), Identity{UserID: "guest-1"})
	_, err = ts.listTickets(toolCtx(guest), listTicketsInput{})
	if err == nil || err.Error() != loginRequiredMessage {
		t.Errorf("guest identity: err = %v, want %q", err, loginRequiredMessage)
	}
}

func TestBookTicketForwardsIDToken(t *testing.T) {
	t.Parallel()

	ts := newToolset(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tickets/insert" {
			t.Errorf("path = %q, want /tickets/insert", r.URL.Path)
		}
		if got := r.Header.Get("User-Id-Token"); got != "Bearer tok" {
			t.Errorf("User-Id-Token = %q, want Bearer tok", got)
		}
		json.NewEncoder(w).Encode(datastore.Ticket{ID: 7, UserID: "user-1", SeatRow: 1, SeatLetter: "A"})
	})

	ticket, err := ts.bookTicket(toolCtx(signedInCtx()), bookTicketInput{
		Airline:          "CY",
		FlightNumber:     "922",
		DepartureAirport: "SFO",
		ArrivalAirport:   "SEA",
		DepartureTime:    "2024-01-01 05:57:00",
		ArrivalTime:      "2024-01-01 07:57:00",
	})
	if err != nil {
		t.Fatalf("bookTicket: %v", err)
	}
	if ticket.ID != 7 || ticket.SeatLetter != "A" {
		t.Errorf("ticket = %+v", ticket)
	}
}

func TestListTicketsForwardsIDToken(t *testing.T) {
	t.Parallel()

	ts := newToolset(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tickets/list" {
			t.Errorf("path = %q, want /tickets/list", r.URL.Path)
		}
		if got := r.Header.Get("User-Id-Token"); got != "Bearer tok" {
			t.Errorf("User-Id-Token = %q, want Bearer tok", got)
		}
		json.NewEncoder(w).Encode([]datastore.Ticket{{ID: 7, UserID: "user-1"}})
	})

	tickets, err := ts.listTickets(toolCtx(signedInCtx()), listTicketsInput{})
	if err != nil {
		t.Fatalf("listTickets: %v", err)
	}
	if tickets.Total != 1 || len(tickets.Results) != 1 {
		t.Errorf("tickets = %+v", tickets)
	}
}

func TestGetAirportNeedsIDOrIATA(t *testing.T) {
	t.Parallel()

	ts := newToolset(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(datastore.Airport{ID: 1, IATA: "SFO"})
	})

	if _, err := ts.getAirport(toolCtx(context.Background()), getAirportInput{}); err == nil {
		t.Error("empty input should fail")
	}

	airport, err := ts.getAirport(toolCtx(context.Background()), getAirportInput{IATA: "SFO"})
	if err != nil {
		t.Fatalf("getAirport: %v", err)
	}
	if airport.ID != 1 {
		t.Errorf("airport = %+v", airport)
	}
}

func TestToolErrorKeepsServiceMessage(t *testing.T) {
	t.Parallel()

	ts := newToolset(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "invalid_params", "message": "at least one filter is required"},
		})
	})

	_, err := ts.searchAirports(toolCtx(context.Background()), searchAirportsInput{})
	if err == nil {
		t.Fatal("search against failing service should error")
	}
	if !strings.Contains(err.Error(), "at least one filter is required") {
		t.Errorf("err = %v, want the service message relayed", err)
	}
	if strings.Contains(err.Error(), "422") {
		t.Errorf("err = %v, should not leak status codes", err)
	}
}

func TestToolErrorHidesTransportFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := client.New(context.Background(), srv.URL, log.NewNop())
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	srv.Close() // connection refused from here on
	ts := &toolset{client: c, logger: log.NewNop()}

	_, err = ts.searchPolicies(toolCtx(context.Background()), searchPoliciesInput{Query: "bags"})
	if err == nil {
		t.Fatal("search against dead service should error")
	}
	if !strings.Contains(err.Error(), "unavailable right now") {
		t.Errorf("err = %v, want the generic unavailable message", err)
	}
}

func TestRegisterTools(t *testing.T) {
	t.Parallel()

	g := genkit.Init(context.Background())
	c, err := client.New(context.Background(), "http://127.0.0.1:8080", log.NewNop())
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	tools := RegisterTools(g, c, log.NewNop())
	if len(tools) != 10 {
		t.Fatalf("RegisterTools returned %d tools, want 10", len(tools))
	}

	for _, name := range []string{
		"searchAirports", "getAirport", "getFlight", "searchFlightsByNumber",
		"listFlights", "getAmenity", "searchAmenities", "searchPolicies",
		"bookTicket", "listTickets",
	} {
		if genkit.LookupTool(g, name) == nil {
			t.Errorf("tool %q not registered", name)
		}
	}
}
