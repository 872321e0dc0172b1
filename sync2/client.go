package sync2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

var Version = ""

var HTTP401 error = fmt.Errorf("HTTP 401")

type Client interface {
	DoSyncV2(ctx context.Context, accessToken, since string, isFirst bool) (*SyncResponse, int, error)
}

// HTTPClient is a sync v2 client for a single account.
type HTTPClient struct {
	Client            *http.Client
	DestinationServer string
}

// DoSyncV2 performs a sync v2 request. Returns the sync response and the response
// status code or an error. Set isFirst=true on the first sync to force a timeout=0
// sync to ensure snapiness.
func (v *HTTPClient) DoSyncV2(ctx context.Context, accessToken, since string, isFirst bool) (*SyncResponse, int, error) {
	syncURL := v.createSyncURL(since, isFirst)
	req, err := http.NewRequestWithContext(ctx, "GET", syncURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("DoSyncV2: NewRequest failed: %w", err)
	}
	req.Header.Set("User-Agent", "roomlist-"+Version)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	res, err := v.Client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("DoSyncV2: request failed: %w", err)
	}
	defer res.Body.Close()
	switch res.StatusCode {
	case 200:
		var svr SyncResponse
		if err := json.NewDecoder(res.Body).Decode(&svr); err != nil {
			return nil, 0, fmt.Errorf("DoSyncV2: response body decode JSON failed: %w", err)
		}
		return &svr, 200, nil
	case 401:
		return nil, 401, HTTP401
	default:
		return nil, res.StatusCode, fmt.Errorf("DoSyncV2: response returned %s", res.Status)
	}
}

func (v *HTTPClient) createSyncURL(since string, isFirst bool) string {
	qps := "?"
	if isFirst { // first time syncing in this process
		qps += "timeout=0"
	} else {
		qps += "timeout=30000"
	}
	if since != "" {
		qps += "&since=" + since
	}
	return v.DestinationServer + "/_matrix/client/r0/sync" + qps
}

type SyncResponse struct {
	NextBatch   string            `json:"next_batch"`
	AccountData EventsResponse    `json:"account_data"`
	Rooms       SyncRoomsResponse `json:"rooms"`
}

type SyncRoomsResponse struct {
	Join  map[string]SyncV2JoinResponse  `json:"join"`
	Leave map[string]SyncV2LeaveResponse `json:"leave"`
}

type EventsResponse struct {
	Events []json.RawMessage `json:"events"`
}

type TimelineResponse struct {
	Events    []json.RawMessage `json:"events"`
	Limited   bool              `json:"limited"`
	PrevBatch string            `json:"prev_batch"`
}

type SyncV2JoinResponse struct {
	State       EventsResponse   `json:"state"`
	Timeline    TimelineResponse `json:"timeline"`
	Ephemeral   EventsResponse   `json:"ephemeral"`
	AccountData EventsResponse   `json:"account_data"`
}

type SyncV2LeaveResponse struct {
	Timeline TimelineResponse `json:"timeline"`
}
