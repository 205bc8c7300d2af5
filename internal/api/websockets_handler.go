package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/party"
)

const errorEvent party.EventType = "error"

func WebsocketsHandler(websocket *melody.Melody) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := websocket.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't handle websocket request")
		}
	}
}

// ConnectHandler sends the current state so that a client does not wait for the next change.
func ConnectHandler(p Party) func(session *melody.Session) {
	return func(session *melody.Session) {
		snapshot := []party.Event{
			{Type: party.RosterEvent, Data: p.Roster()},
			{Type: party.HostEvent, Data: p.Host()},
			{Type: party.PlaybackEvent, Data: p.Playback()},
			{Type: party.StreamsEvent, Data: p.Streams()},
		}

		for _, e := range snapshot {
			if err := writeEvent(session, e); err != nil {
				log.Error().Err(err).Str("service", "api").Msg("can't write snapshot")
				closeWsSession(session)
				return
			}
		}
	}
}

func DisconnectHandler() func(session *melody.Session) {
	return func(session *melody.Session) {
		log.Debug().Str("service", "api").Str("remote", session.Request.RemoteAddr).Msg("websocket disconnected")
	}
}

func HandleMessage(p Party) func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		rpc, err := RpcFromReader(bytes.NewReader(msg))
		if err != nil {
			log.Error().Err(err).Str("service", "api").Msg("rpc parse error")
			replyError(s, err)
			return
		}

		if err := rpc.Call(context.Background(), p); err != nil {
			log.Error().Err(err).Str("service", "api").Str("method", rpc.Method).Msg("rpc failed")
			replyError(s, err)
		}
	}
}

// Broadcast pushes every event of p to every websocket session until the returned function is called.
func Broadcast(p Party, websocket *melody.Melody) (func(), error) {
	return p.Subscribe(func(e party.Event) {
		payload, err := json.Marshal(e)
		if err != nil {
			log.Error().Err(err).Str("service", "api").Str("type", string(e.Type)).Msg("can't encode event")
			return
		}
		if err := websocket.Broadcast(payload); err != nil {
			log.Debug().Err(err).Str("service", "api").Msg("broadcast")
		}
	})
}

func writeEvent(session *melody.Session, e party.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return session.Write(payload)
}

func replyError(s *melody.Session, err error) {
	if err := writeEvent(s, party.Event{Type: errorEvent, Data: err.Error()}); err != nil {
		log.Debug().Err(err).Str("service", "api").Msg("can't reply")
	}
}

func closeWsSession(s *melody.Session) {
	if err := s.Close(); err != nil {
		log.Debug().Err(err).Str("service", "api").Msg("close websocket session")
	}
}
