package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPEmitter posts each event as its own JSON body to a configured
// ingest URL. Grounded on the teacher's analytics client: a short-timeout
// client, bearer auth header, and failures that are logged rather than
// propagated, since a broken analytics sink must never affect playback.
type HTTPEmitter struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPEmitter(url, apiKey string) *HTTPEmitter {
	return &HTTPEmitter{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (e *HTTPEmitter) Emit(evt Event) {
	if e.url == "" {
		return
	}
	go e.post(evt)
}

func (e *HTTPEmitter) post(evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal domain event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("failed to build event ingest request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	res, err := e.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(evt.Kind)).Msg("event ingest request failed")
		return
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		log.Warn().Int("status", res.StatusCode).Str("kind", string(evt.Kind)).Msg("event ingest rejected")
	}
}
