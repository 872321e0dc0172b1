package roomlist

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matrix-org/roomlist/list"
	"github.com/matrix-org/roomlist/pubsub"
	"github.com/matrix-org/roomlist/state"
	"github.com/matrix-org/roomlist/sync2"
)

type Opts struct {
	BindAddr    string
	PostgresURI string
	// DestinationServer is the sync v2 server to poll for room updates. Empty
	// disables ingestion, e.g when driving the engine through the API only.
	DestinationServer string
	UserID            string
	AccessToken       string
	EnablePrometheus  bool
}

// RunRoomListServer is the main entry point to the server. It rebuilds the engine
// from storage, starts the poller and the snapshot writer, then serves the API.
// Blocks forever.
func RunRoomListServer(opts Opts) {
	store := state.NewStorage(opts.PostgresURI)
	bus := pubsub.NewPubSub(50)
	var notifier pubsub.Notifier = bus
	if opts.EnablePrometheus {
		notifier = pubsub.NewPromNotifier(bus, "lists")
	}
	engine := list.NewEngine(notifier, opts.EnablePrometheus)

	memberships, err := store.LoadTagMemberships()
	if err != nil {
		logger.Panic().Err(err).Msg("failed to load tag memberships")
	}
	engine.LoadRooms(context.Background(), memberships)
	logger.Info().Int("num_tags", len(memberships)).Msg("loaded tag memberships")

	// every published order is written back so cold starts can serve immediately
	go func() {
		err := bus.Listen(pubsub.ChanLists, func(p pubsub.Payload) {
			switch payload := p.(type) {
			case *pubsub.ListUpdatePayload:
				if err := store.PersistSnapshot(payload.Tag, payload.RoomIDs); err != nil {
					logger.Err(err).Str("tag", payload.Tag).Msg("failed to persist snapshot")
				}
			case *pubsub.ListRetiredPayload:
				if err := store.DeleteSnapshot(payload.Tag); err != nil {
					logger.Err(err).Str("tag", payload.Tag).Msg("failed to delete snapshot")
				}
			}
		})
		if err != nil {
			logger.Err(err).Msg("snapshot listener stopped")
		}
	}()

	if opts.DestinationServer != "" {
		client := &sync2.HTTPClient{
			// long-polls are held open for 30s, leave plenty of slack
			Client:            &http.Client{Timeout: 5 * time.Minute},
			DestinationServer: opts.DestinationServer,
		}
		poller := sync2.NewPoller(opts.UserID, opts.AccessToken, client, engine, store)
		go poller.Poll(context.Background(), "", func() {
			logger.Info().Msg("initial sync complete")
		})
	}

	r := mux.NewRouter()
	api := &ListsAPI{Engine: engine}
	api.Attach(r)
	if opts.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}
	listen(opts.BindAddr, r)
}
