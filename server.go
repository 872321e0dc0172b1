package roomlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/matrix-org/roomlist/internal"
	"github.com/matrix-org/roomlist/list"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

type server struct {
	chain []func(next http.Handler) http.Handler
	final http.Handler
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h := s.final
	for i := range s.chain {
		h = s.chain[len(s.chain)-1-i](h)
	}
	h.ServeHTTP(w, req)
}

func allowCORS(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
		if req.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		next.ServeHTTP(w, req)
	}
}

// ListsAPI exposes the engine's ordered lists over HTTP.
type ListsAPI struct {
	Engine *list.Engine
}

type listResponse struct {
	Tag           string   `json:"tag"`
	Sort          string   `json:"sort,omitempty"`
	MutedToBottom bool     `json:"muted_to_bottom"`
	RoomIDs       []string `json:"room_ids"`
}

func (a *ListsAPI) Attach(r *mux.Router) {
	r.Handle("/lists", allowCORS(http.HandlerFunc(a.getTags))).Methods("GET", "OPTIONS")
	r.Handle("/lists/{tag}", allowCORS(http.HandlerFunc(a.getList))).Methods("GET", "OPTIONS")
	r.Handle("/lists/{tag}/sort", allowCORS(http.HandlerFunc(a.putSort))).Methods("PUT", "OPTIONS")
	r.Handle("/lists/{tag}", allowCORS(http.HandlerFunc(a.deleteList))).Methods("DELETE")
}

func (a *ListsAPI) getTags(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, 200, struct {
		Tags []string `json:"tags"`
	}{a.Engine.Tags()})
}

// getList returns the current order for a tag. Unknown tags are not an error: they
// read as an empty list, matching the engine's snapshot semantics.
func (a *ListsAPI) getList(w http.ResponseWriter, req *http.Request) {
	tag := mux.Vars(req)["tag"]
	internal.SetOperationContextTag(req.Context(), tag, "")
	writeJSON(w, 200, listResponse{
		Tag:           tag,
		Sort:          string(a.Engine.SortStrategyForTag(tag)),
		MutedToBottom: a.Engine.MutedToBottom(tag),
		RoomIDs:       a.Engine.OrderedRoomIDs(tag),
	})
}

func (a *ListsAPI) putSort(w http.ResponseWriter, req *http.Request) {
	tag := mux.Vars(req)["tag"]
	var body struct {
		Sort string `json:"sort"`
	}
	defer req.Body.Close()
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, &HandlerError{
			StatusCode: 400,
			Err:        fmt.Errorf("invalid request body: %s", err),
		})
		return
	}
	err := a.Engine.SetSortAlgorithm(req.Context(), tag, list.SortStrategy(body.Sort))
	if err != nil {
		status := 500
		if errors.Is(err, list.ErrInvalidSortStrategy) {
			status = 400
		}
		writeError(w, &HandlerError{StatusCode: status, Err: err})
		return
	}
	a.getList(w, req)
}

func (a *ListsAPI) deleteList(w http.ResponseWriter, req *http.Request) {
	a.Engine.RetireTag(mux.Vars(req)["tag"])
	writeJSON(w, 200, struct{}{})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Err(err).Msg("failed to write response JSON")
	}
}

func writeError(w http.ResponseWriter, herr *HandlerError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(herr.StatusCode)
	w.Write(herr.JSON())
}

// listen blocks forever serving the API with the standard middleware chain.
func listen(bindAddr string, r *mux.Router) {
	srv := &server{
		chain: []func(next http.Handler) http.Handler{
			hlog.NewHandler(logger),
			func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					next.ServeHTTP(w, req.WithContext(internal.OperationContext(req.Context())))
				})
			},
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				entry := internal.DecorateLogger(r.Context(), hlog.FromRequest(r).Info())
				entry.
					Str("method", r.Method).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Str("path", r.URL.Path).
					Msg("")
			}),
			hlog.RemoteAddrHandler("ip"),
		},
		final: otelhttp.NewHandler(r, "roomlist"),
	}

	logger.Info().Msgf("listening on %s", bindAddr)
	if err := http.ListenAndServe(bindAddr, srv); err != nil {
		logger.Fatal().Err(err).Msg("failed to listen and serve")
	}
}

type HandlerError struct {
	StatusCode int
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("HTTP %d : %s", e.StatusCode, e.Err.Error())
}

type jsonError struct {
	Err string `json:"error"`
}

func (e HandlerError) JSON() []byte {
	je := jsonError{e.Error()}
	b, _ := json.Marshal(je)
	return b
}
