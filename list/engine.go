package list

import (
	"context"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/matrix-org/roomlist/internal"
	"github.com/matrix-org/roomlist/pubsub"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// DefaultSortStrategy is what lazily-created tags start with.
const DefaultSortStrategy = SortRecency

// Engine owns one OrderingAlgorithm per active tag, routes update notifications to the
// affected tags and exposes read-only snapshots of the resulting orders. All public
// methods are safe for concurrent use: a single mutex is held for the duration of each
// call, since the cached sequences are not safe for concurrent mutation. Updates are
// applied in the order they are delivered; the Engine imposes no stronger guarantee,
// so concurrent notification sources must be serialised by the caller.
type Engine struct {
	mu   sync.Mutex
	tags map[string]*OrderingAlgorithm

	notifier pubsub.Notifier

	updatesVec *prometheus.CounterVec
	resorts    prometheus.Counter
	numTags    prometheus.Gauge
}

// NewEngine creates an engine with no tags. notifier may be nil, in which case no list
// update payloads are published.
func NewEngine(notifier pubsub.Notifier, enablePrometheus bool) *Engine {
	e := &Engine{
		tags:     make(map[string]*OrderingAlgorithm),
		notifier: notifier,
	}
	if enablePrometheus {
		e.addPrometheusMetrics()
	}
	return e
}

func (e *Engine) addPrometheusMetrics() {
	e.updatesVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomlist",
		Subsystem: "engine",
		Name:      "num_updates",
		Help:      "Number of room updates handled, by cause.",
	}, []string{"cause"})
	e.resorts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roomlist",
		Subsystem: "engine",
		Name:      "num_full_resorts",
		Help:      "Number of full O(n log n) resorts, including degraded-path self-heals.",
	})
	e.numTags = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomlist",
		Subsystem: "engine",
		Name:      "num_tags",
		Help:      "Number of active tags with an ordering algorithm instance.",
	})
	prometheus.MustRegister(e.updatesVec, e.resorts, e.numTags)
}

// Teardown unregisters prometheus metrics. Call when discarding the engine.
func (e *Engine) Teardown() {
	if e.updatesVec != nil {
		prometheus.Unregister(e.updatesVec)
		prometheus.Unregister(e.resorts)
		prometheus.Unregister(e.numTags)
	}
}

// LoadRooms bulk-loads the initial tag memberships, e.g from storage at process start.
// Replaces any existing membership for the named tags.
func (e *Engine) LoadRooms(ctx context.Context, roomsByTag map[string][]*RoomMetadata) {
	_, span := internal.StartSpan(ctx, "LoadRooms")
	defer span.End()
	e.mu.Lock()
	defer e.mu.Unlock()
	for tag, rooms := range roomsByTag {
		algo := e.algorithmForTag(tag)
		algo.SetRooms(rooms)
		e.publishUpdate(algo)
	}
}

// NotifyRoomUpdate routes one (room, cause) pair to the tags it affects. The tags a
// room currently belongs to are read from the room's own tag attribute, not cached
// here. Tag changes lazily create algorithm instances with the default strategy.
// Internal inconsistencies degrade to a full resort rather than surfacing an error.
func (e *Engine) NotifyRoomUpdate(ctx context.Context, room *RoomMetadata, cause Cause) {
	if room == nil {
		return
	}
	ctx, span := internal.StartSpan(ctx, "NotifyRoomUpdate")
	defer span.End()
	internal.SetOperationContextTag(ctx, "", cause.String())

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.updatesVec != nil {
		e.updatesVec.WithLabelValues(cause.String()).Inc()
	}

	changed := false
	switch cause {
	case CauseRoomRemoved:
		// the room's tag attribute may already be empty by the time we hear about the
		// removal, so fan out to every tag which still holds it
		for _, algo := range e.tags {
			if algo.HandleRoomUpdate(room, cause) {
				e.publishUpdate(algo)
				changed = true
			}
		}
	case CauseTagChanged, CausePossibleTagChange:
		// make sure each tag the room claims has an instance to insert into
		for tag := range room.Tags {
			e.algorithmForTag(tag)
		}
		// then deliver everywhere, so tags the room left get to drop it
		for _, algo := range e.tags {
			if algo.HandleRoomUpdate(room, cause) {
				e.publishUpdate(algo)
				changed = true
			}
		}
	default:
		// activity-style causes only ever reposition existing members, so they route
		// to the tags the room claims. Unknown tags are not created here: membership
		// is asserted via tag changes only.
		for tag := range room.Tags {
			algo := e.tags[tag]
			if algo == nil {
				continue
			}
			if algo.HandleRoomUpdate(room, cause) {
				e.publishUpdate(algo)
				changed = true
			}
		}
	}
	internal.SetOperationContextResult(ctx, len(room.Tags), changed)
}

// OrderedRooms returns the current cached sequence for a tag as a copy which is safe
// to iterate without locking. Unknown tags return an empty sequence, never nil.
func (e *Engine) OrderedRooms(tag string) []*RoomMetadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	algo := e.tags[tag]
	if algo == nil {
		return []*RoomMetadata{}
	}
	return algo.OrderedRooms()
}

// OrderedRoomIDs is OrderedRooms but just the IDs.
func (e *Engine) OrderedRoomIDs(tag string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	algo := e.tags[tag]
	if algo == nil {
		return []string{}
	}
	return algo.RoomIDs()
}

// SetSortAlgorithm changes the active strategy for a tag, forcing a full resort of
// that tag only. Lazily creates the tag. The only engine operation which can fail:
// an invalid strategy returns ErrInvalidSortStrategy and changes nothing.
func (e *Engine) SetSortAlgorithm(ctx context.Context, tag string, strategy SortStrategy) error {
	if !strategy.Valid() {
		return ErrInvalidSortStrategy
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	algo := e.algorithmForTag(tag)
	if err := algo.SetSortAlgorithm(strategy); err != nil {
		// already validated; if this fires the two validation paths have diverged
		internal.GetSentryHubFromContextOrDefault(ctx).CaptureException(err)
		return err
	}
	if e.resorts != nil {
		e.resorts.Inc()
	}
	e.publishUpdate(algo)
	return nil
}

// SortStrategyForTag returns the active strategy for a tag, or "" if the tag has no
// algorithm instance.
func (e *Engine) SortStrategyForTag(tag string) SortStrategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	algo := e.tags[tag]
	if algo == nil {
		return ""
	}
	return algo.SortStrategy()
}

// MutedToBottom reports whether consumers of the given tag should pin muted rooms to
// a visual tail. Derived from the tag's active strategy.
func (e *Engine) MutedToBottom(tag string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	algo := e.tags[tag]
	return algo != nil && algo.MutedToBottom()
}

// RetireTag drops the algorithm instance for a tag, bounding memory when ephemeral
// tags churn. Retiring an unknown tag is a no-op.
func (e *Engine) RetireTag(tag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tags[tag]; !ok {
		return
	}
	delete(e.tags, tag)
	if e.numTags != nil {
		e.numTags.Dec()
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(pubsub.ChanLists, &pubsub.ListRetiredPayload{Tag: tag}); err != nil {
			logger.Err(err).Str("tag", tag).Msg("failed to publish list retirement")
		}
	}
}

// Tags returns the tags which currently have an algorithm instance, in no particular
// order.
func (e *Engine) Tags() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return internal.Keys(e.tags)
}

// algorithmForTag returns the instance for a tag, creating one with the default
// strategy if needed. Callers must hold e.mu.
func (e *Engine) algorithmForTag(tag string) *OrderingAlgorithm {
	algo := e.tags[tag]
	if algo != nil {
		return algo
	}
	algo, err := NewOrderingAlgorithm(tag, DefaultSortStrategy)
	internal.Assert("default sort strategy is valid", err == nil)
	e.tags[tag] = algo
	if e.numTags != nil {
		e.numTags.Inc()
	}
	return algo
}

// publishUpdate pushes the new order for a tag to downstream consumers. Callers must
// hold e.mu.
func (e *Engine) publishUpdate(algo *OrderingAlgorithm) {
	if e.notifier == nil {
		return
	}
	err := e.notifier.Notify(pubsub.ChanLists, &pubsub.ListUpdatePayload{
		Tag:     algo.Tag(),
		RoomIDs: algo.RoomIDs(),
	})
	if err != nil {
		logger.Err(err).Str("tag", algo.Tag()).Msg("failed to publish list update")
	}
}
