package roomlist

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/gorilla/mux"

	"github.com/matrix-org/roomlist/internal"
	"github.com/matrix-org/roomlist/list"
)

func newTestAPI(t *testing.T) (*list.Engine, *mux.Router) {
	t.Helper()
	engine := list.NewEngine(nil, false)
	r := mux.NewRouter()
	api := &ListsAPI{Engine: engine}
	api.Attach(r)
	return engine, r
}

func seedRoom(t *testing.T, engine *list.Engine, roomID, name string, ts uint64, tags ...string) {
	t.Helper()
	tagMap := make(map[string]*float64, len(tags))
	for _, tag := range tags {
		tagMap[tag] = nil
	}
	engine.NotifyRoomUpdate(context.Background(), &list.RoomMetadata{
		RoomID:                roomID,
		Name:                  name,
		CanonicalisedName:     internal.CanonicaliseRoomName(name),
		LastActivityTimestamp: ts,
		Tags:                  tagMap,
	}, list.CauseTagChanged)
}

func doRequest(t *testing.T, r *mux.Router, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseList(t *testing.T, w *httptest.ResponseRecorder) listResponse {
	t.Helper()
	var res listResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to parse response %s: %s", w.Body.String(), err)
	}
	return res
}

func TestAPIGetList(t *testing.T) {
	engine, r := newTestAPI(t)
	seedRoom(t, engine, "!a:localhost", "Apple", 100, "m.favourite")
	seedRoom(t, engine, "!b:localhost", "Banana", 300, "m.favourite")
	seedRoom(t, engine, "!c:localhost", "Carrot", 200, "m.favourite")

	w := doRequest(t, r, "GET", "/lists/m.favourite", nil)
	if w.Code != 200 {
		t.Fatalf("got HTTP %d want 200: %s", w.Code, w.Body.String())
	}
	res := parseList(t, w)
	// default strategy is recency, most recent first
	wantIDs := []string{"!b:localhost", "!c:localhost", "!a:localhost"}
	if !reflect.DeepEqual(res.RoomIDs, wantIDs) {
		t.Errorf("got room IDs %v want %v", res.RoomIDs, wantIDs)
	}
	if res.Sort != string(list.SortRecency) {
		t.Errorf("got sort %q want %q", res.Sort, list.SortRecency)
	}
	if !res.MutedToBottom {
		t.Errorf("recency lists should pin muted rooms to the bottom")
	}
}

func TestAPIGetUnknownListIsEmpty(t *testing.T) {
	_, r := newTestAPI(t)
	w := doRequest(t, r, "GET", "/lists/u.nothing", nil)
	if w.Code != 200 {
		t.Fatalf("got HTTP %d want 200: %s", w.Code, w.Body.String())
	}
	res := parseList(t, w)
	if res.RoomIDs == nil || len(res.RoomIDs) != 0 {
		t.Errorf("unknown tag should read as an empty list, got %v", res.RoomIDs)
	}
	if res.Sort != "" {
		t.Errorf("unknown tag should have no sort, got %q", res.Sort)
	}
}

func TestAPIPutSort(t *testing.T) {
	engine, r := newTestAPI(t)
	seedRoom(t, engine, "!b:localhost", "Banana", 300, "m.favourite")
	seedRoom(t, engine, "!a:localhost", "Apple", 100, "m.favourite")

	w := doRequest(t, r, "PUT", "/lists/m.favourite/sort", []byte(`{"sort":"alphabetic"}`))
	if w.Code != 200 {
		t.Fatalf("got HTTP %d want 200: %s", w.Code, w.Body.String())
	}
	res := parseList(t, w)
	wantIDs := []string{"!a:localhost", "!b:localhost"}
	if !reflect.DeepEqual(res.RoomIDs, wantIDs) {
		t.Errorf("got room IDs %v want %v", res.RoomIDs, wantIDs)
	}
	if res.Sort != string(list.SortAlphabetic) {
		t.Errorf("got sort %q want %q", res.Sort, list.SortAlphabetic)
	}
	if res.MutedToBottom {
		t.Errorf("alphabetic lists should not pin muted rooms to the bottom")
	}
}

func TestAPIPutSortInvalid(t *testing.T) {
	engine, r := newTestAPI(t)
	seedRoom(t, engine, "!a:localhost", "Apple", 100, "m.favourite")

	w := doRequest(t, r, "PUT", "/lists/m.favourite/sort", []byte(`{"sort":"sparkle"}`))
	if w.Code != 400 {
		t.Fatalf("got HTTP %d want 400: %s", w.Code, w.Body.String())
	}
	var res jsonError
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to parse error response %s: %s", w.Body.String(), err)
	}
	if res.Err == "" {
		t.Errorf("error response should carry a message")
	}
	// the bad request must not have changed the strategy
	if got := engine.SortStrategyForTag("m.favourite"); got != list.DefaultSortStrategy {
		t.Errorf("strategy changed to %q after invalid request", got)
	}
}

func TestAPIPutSortBadBody(t *testing.T) {
	_, r := newTestAPI(t)
	w := doRequest(t, r, "PUT", "/lists/m.favourite/sort", []byte(`{not json`))
	if w.Code != 400 {
		t.Fatalf("got HTTP %d want 400: %s", w.Code, w.Body.String())
	}
}

func TestAPIDeleteList(t *testing.T) {
	engine, r := newTestAPI(t)
	seedRoom(t, engine, "!a:localhost", "Apple", 100, "m.favourite")

	w := doRequest(t, r, "DELETE", "/lists/m.favourite", nil)
	if w.Code != 200 {
		t.Fatalf("got HTTP %d want 200: %s", w.Code, w.Body.String())
	}
	if got := engine.Tags(); len(got) != 0 {
		t.Errorf("tag should be retired, still have %v", got)
	}
	res := parseList(t, doRequest(t, r, "GET", "/lists/m.favourite", nil))
	if len(res.RoomIDs) != 0 {
		t.Errorf("retired tag should read as empty, got %v", res.RoomIDs)
	}
}

func TestAPIGetTags(t *testing.T) {
	engine, r := newTestAPI(t)
	seedRoom(t, engine, "!a:localhost", "Apple", 100, "m.favourite", "u.work")

	w := doRequest(t, r, "GET", "/lists", nil)
	if w.Code != 200 {
		t.Fatalf("got HTTP %d want 200: %s", w.Code, w.Body.String())
	}
	var res struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to parse response %s: %s", w.Body.String(), err)
	}
	if len(res.Tags) != 2 {
		t.Errorf("got tags %v want 2 entries", res.Tags)
	}
}

func TestAPICORSPreflight(t *testing.T) {
	_, r := newTestAPI(t)
	w := doRequest(t, r, "OPTIONS", "/lists/m.favourite", nil)
	if w.Code != 200 {
		t.Fatalf("got HTTP %d want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("got Access-Control-Allow-Origin %q want *", got)
	}
}
