// Package remote drives a running participant through its websocket.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/api"
	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/party"
)

const handshakeTimeout = 10 * time.Second

type Remote struct {
	conn *websocket.Conn

	// gorilla connections support one concurrent writer
	writeLock sync.Mutex
}

// Dial connects to the participant listening at address, e.g. "localhost:8080".
func Dial(ctx context.Context, address string) (*Remote, error) {
	u := url.URL{Scheme: "ws", Host: address, Path: "/ws"}

	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	resp.Body.Close()

	return &Remote{conn: conn}, nil
}

// Watch calls f with every event until ctx is done or the participant goes away.
func (r *Remote) Watch(ctx context.Context, f func(party.Event)) error {
	done := make(chan error, 1)

	go func() {
		for {
			_, message, err := r.conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}

			e := party.Event{}
			if err := json.Unmarshal(message, &e); err != nil {
				log.Error().Err(err).Str("service", "remote").Msg("can't parse event")
				continue
			}
			f(e)
		}
	}()

	select {
	case err := <-done:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil
		}
		return err
	case <-ctx.Done():
		return r.Close()
	}
}

func (r *Remote) SetVideoSource(url string) error {
	return r.send(api.SetVideoSourceMethod, api.SourceRequest{URL: url})
}

func (r *Remote) SetPlaybackState(patch core.PlaybackPatch) error {
	return r.send(api.SetPlaybackStateMethod, patch)
}

func (r *Remote) SetSeeking(seeking bool) error {
	return r.send(api.SetSeekingMethod, api.SeekingRequest{Seeking: seeking})
}

func (r *Remote) send(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(api.Rpc{Method: method, Params: raw})
	if err != nil {
		return err
	}

	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	return r.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame and closes the connection.
func (r *Remote) Close() error {
	r.writeLock.Lock()
	err := r.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	r.writeLock.Unlock()

	if cerr := r.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
