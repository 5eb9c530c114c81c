package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"meeting-live/internal/apperr"
	"meeting-live/internal/db"
)

func TestHealthz(t *testing.T) {
	app := newTestApp(t, testConfig())
	body := expectStatus(t, doRequest(t, app.ts, http.MethodGet, "/healthz", nil), http.StatusOK)
	if body["status"] != "ok" {
		t.Fatalf("expected ok, got %#v", body["status"])
	}
}

func TestLotteryFlow(t *testing.T) {
	app := newTestApp(t, testConfig())

	state := expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/prepare"), map[string]any{
		"title": "Grand prize",
		"count": 1,
	}), http.StatusOK)
	if state["status"] != "preparing" {
		t.Fatalf("expected preparing, got %#v", state["status"])
	}

	for _, id := range []string{"u-1", "u-2", "u-3"} {
		expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/join"), map[string]any{
			"participantId": id,
			"name":          "Guest " + id,
		}), http.StatusOK)
	}

	state = expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/start"), nil), http.StatusOK)
	if state["status"] != "rolling" {
		t.Fatalf("expected rolling, got %#v", state["status"])
	}

	state = expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/stop"), nil), http.StatusOK)
	if state["status"] != "result" {
		t.Fatalf("expected result, got %#v", state["status"])
	}
	result, ok := state["lastResult"].(map[string]any)
	if !ok {
		t.Fatalf("expected lastResult, got %#v", state["lastResult"])
	}
	winners, ok := result["winners"].([]any)
	if !ok || len(winners) != 1 {
		t.Fatalf("expected one winner, got %#v", result["winners"])
	}
	winnerID := winners[0].(map[string]any)["participantId"].(string)

	state = expectStatus(t, doRequest(t, app.ts, http.MethodGet, app.sessionPath("/lottery?participantId="+winnerID), nil), http.StatusOK)
	if state["hasWon"] != true {
		t.Fatalf("expected winner to be marked, got %#v", state["hasWon"])
	}

	history := expectStatus(t, doRequest(t, app.ts, http.MethodGet, app.sessionPath("/lottery/rounds"), nil), http.StatusOK)
	rounds, ok := history["rounds"].([]any)
	if !ok || len(rounds) != 1 {
		t.Fatalf("expected one round, got %#v", history["rounds"])
	}

	state = expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/reset"), nil), http.StatusOK)
	if state["status"] != "idle" {
		t.Fatalf("expected idle, got %#v", state["status"])
	}
}

func TestJoinUsesDirectoryProfile(t *testing.T) {
	app := newTestApp(t, testConfig())
	app.seedDirectory(t, db.DirectoryEntry{ParticipantID: "emp-9", Name: "Grace", Department: "Platform"})

	expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/prepare"), map[string]any{
		"title": "Mug",
		"count": 1,
	}), http.StatusOK)
	state := expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/join"), map[string]any{
		"participantId": "emp-9",
	}), http.StatusOK)
	pool, ok := state["pool"].([]any)
	if !ok || len(pool) != 1 {
		t.Fatalf("expected one participant, got %#v", state["pool"])
	}
	entry := pool[0].(map[string]any)
	if entry["name"] != "Grace" || entry["department"] != "Platform" {
		t.Fatalf("expected directory profile, got %#v", entry)
	}
}

func TestLotteryErrors(t *testing.T) {
	app := newTestApp(t, testConfig())

	expectError(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/join"), map[string]any{
		"participantId": "u-1",
	}), http.StatusConflict, apperr.CodeInvalidState)

	expectError(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/join"), map[string]any{}),
		http.StatusBadRequest, apperr.CodeInvalidRequest)

	expectError(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/prepare"), map[string]any{}),
		http.StatusBadRequest, apperr.CodeInvalidRequest)

	expectError(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/rounds"), map[string]any{
		"title": "No count",
	}), http.StatusBadRequest, apperr.CodeInvalidRequest)

	expectError(t, doRequest(t, app.ts, http.MethodGet, "/api/sessions/9999/lottery", nil),
		http.StatusNotFound, apperr.CodeSessionNotFound)

	expectError(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/stop"), nil),
		http.StatusConflict, apperr.CodeInvalidState)

	expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/prepare"), map[string]any{
		"title": "Empty",
		"count": 1,
	}), http.StatusOK)
	expectError(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/start"), nil),
		http.StatusConflict, apperr.CodeNoEligible)
	expectError(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/leave"), map[string]any{
		"participantId": "ghost",
	}), http.StatusNotFound, apperr.CodeNotInPool)
}

func TestRoundCRUD(t *testing.T) {
	app := newTestApp(t, testConfig())

	created := expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/rounds"), map[string]any{
		"title": "Second prize",
		"count": 2,
	}), http.StatusCreated)
	roundID := uint64(created["id"].(float64))
	path := app.sessionPath("/lottery/rounds/" + strconv.FormatUint(roundID, 10))

	resp := doRequest(t, app.ts, http.MethodDelete, path, nil)
	expectStatus(t, resp, http.StatusNoContent)

	expectError(t, doRequest(t, app.ts, http.MethodDelete, path, nil), http.StatusNotFound, apperr.CodeRoundNotFound)
}

func TestPollFlow(t *testing.T) {
	app := newTestApp(t, testConfig())

	created := expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/polls"), map[string]any{
		"title":    "Lunch?",
		"options":  []string{"Pizza", "Sushi"},
		"duration": 60,
	}), http.StatusCreated)
	if created["status"] != db.PollDraft {
		t.Fatalf("expected draft, got %#v", created["status"])
	}
	pollID := strconv.FormatUint(uint64(created["id"].(float64)), 10)
	options := created["options"].([]any)
	pizza := options[0].(map[string]any)["id"].(float64)

	expectError(t, doRequest(t, app.ts, http.MethodPost, "/api/polls/"+pollID+"/submit", map[string]any{
		"voterId":   "v-1",
		"optionIds": []float64{pizza},
	}), http.StatusConflict, apperr.CodePollNotActive)

	started := expectStatus(t, doRequest(t, app.ts, http.MethodPost, "/api/polls/"+pollID+"/start", nil), http.StatusOK)
	if started["status"] != db.PollActive {
		t.Fatalf("expected active, got %#v", started["status"])
	}

	active := expectStatus(t, doRequest(t, app.ts, http.MethodGet, app.sessionPath("/polls/active?voterId=v-1"), nil), http.StatusOK)
	if active["active"] == nil {
		t.Fatalf("expected an active poll")
	}

	tally := expectStatus(t, doRequest(t, app.ts, http.MethodPost, "/api/polls/"+pollID+"/submit", map[string]any{
		"voterId":   "v-1",
		"optionIds": []float64{pizza},
	}), http.StatusOK)
	if tally["totalVoters"].(float64) != 1 {
		t.Fatalf("expected one voter, got %#v", tally["totalVoters"])
	}

	expectError(t, doRequest(t, app.ts, http.MethodPost, "/api/polls/"+pollID+"/submit", map[string]any{
		"voterId":   "v-1",
		"optionIds": []float64{pizza},
	}), http.StatusConflict, apperr.CodeAlreadyVoted)

	expectError(t, doRequest(t, app.ts, http.MethodPost, "/api/polls/"+pollID+"/submit", map[string]any{
		"voterId": "v-2",
	}), http.StatusBadRequest, apperr.CodeNoSelection)

	state := expectStatus(t, doRequest(t, app.ts, http.MethodGet, "/api/polls/"+pollID+"?voterId=v-1", nil), http.StatusOK)
	if state["hasVoted"] != true {
		t.Fatalf("expected hasVoted, got %#v", state["hasVoted"])
	}

	closed := expectStatus(t, doRequest(t, app.ts, http.MethodPost, "/api/polls/"+pollID+"/close", nil), http.StatusOK)
	if closed["closed"] != true {
		t.Fatalf("expected closed, got %#v", closed["closed"])
	}
	again := expectStatus(t, doRequest(t, app.ts, http.MethodPost, "/api/polls/"+pollID+"/close", nil), http.StatusOK)
	if again["closed"] != false {
		t.Fatalf("expected second close to be a no-op, got %#v", again["closed"])
	}

	results := expectStatus(t, doRequest(t, app.ts, http.MethodGet, "/api/polls/"+pollID+"/results", nil), http.StatusOK)
	first := results["results"].([]any)[0].(map[string]any)
	if first["percent"].(float64) != 100 {
		t.Fatalf("expected 100 percent, got %#v", first["percent"])
	}

	list := expectStatus(t, doRequest(t, app.ts, http.MethodGet, app.sessionPath("/polls?voterId=v-1"), nil), http.StatusOK)
	polls := list["polls"].([]any)
	if len(polls) != 1 {
		t.Fatalf("expected one poll, got %d", len(polls))
	}
	if listed := polls[0].(map[string]any); listed["hasVoted"] != true || listed["title"] != "Lunch?" {
		t.Fatalf("expected voted listing, got %#v", listed)
	}

	history := expectStatus(t, doRequest(t, app.ts, http.MethodGet, "/api/voters/v-1/polls?limit=5", nil), http.StatusOK)
	if history["total"].(float64) != 1 || history["limit"].(float64) != 5 {
		t.Fatalf("unexpected history page %#v", history)
	}
	if entries := history["polls"].([]any); len(entries) != 1 || entries[0].(map[string]any)["hasVoted"] != true {
		t.Fatalf("unexpected history entries %#v", history["polls"])
	}
	empty := expectStatus(t, doRequest(t, app.ts, http.MethodGet, "/api/voters/v-2/polls", nil), http.StatusOK)
	if empty["total"].(float64) != 0 || len(empty["polls"].([]any)) != 0 {
		t.Fatalf("expected empty history, got %#v", empty)
	}
	expectError(t, doRequest(t, app.ts, http.MethodGet, "/api/voters/v-1/polls?limit=500", nil),
		http.StatusBadRequest, apperr.CodeInvalidRequest)
}

func TestPollCreateValidation(t *testing.T) {
	app := newTestApp(t, testConfig())
	expectError(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/polls"), map[string]any{
		"title":    "One option",
		"options":  []string{"Only"},
		"duration": 30,
	}), http.StatusBadRequest, apperr.CodeInvalidRequest)

	expectError(t, doRequest(t, app.ts, http.MethodGet, "/api/polls/424242", nil),
		http.StatusNotFound, apperr.CodePollNotFound)
}

func TestJoinIsRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerSecond = 0.001
	cfg.RateLimitBurst = 1
	app := newTestApp(t, cfg)

	expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/prepare"), map[string]any{
		"title": "Raffle",
		"count": 1,
	}), http.StatusOK)
	expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/join"), map[string]any{
		"participantId": "u-1",
	}), http.StatusOK)
	expectError(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/join"), map[string]any{
		"participantId": "u-2",
	}), http.StatusTooManyRequests, apperr.CodeRateLimited)
}

func TestDisplayPage(t *testing.T) {
	app := newTestApp(t, testConfig())
	expectStatus(t, doRequest(t, app.ts, http.MethodPost, app.sessionPath("/lottery/prepare"), map[string]any{
		"title": "Bike <deluxe>",
		"count": 3,
	}), http.StatusOK)

	resp := doRequest(t, app.ts, http.MethodGet, "/display/sessions/"+strconv.FormatUint(uint64(app.session), 10), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html, got %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	html := string(data)
	if !strings.Contains(html, "Bike &lt;deluxe&gt;") {
		t.Fatalf("expected escaped round title in page")
	}
	if !strings.Contains(html, "3 to be drawn") {
		t.Fatalf("expected prize count in page")
	}

	missing := doRequest(t, app.ts, http.MethodGet, "/display/sessions/9999", nil)
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", missing.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	app := newTestApp(t, testConfig())
	req, err := http.NewRequest(http.MethodOptions, app.ts.URL+app.sessionPath("/lottery/join"), nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://screens.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}
