package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/isqad/livelook-party/internal/core"
)

const (
	SetVideoSourceMethod   = "setVideoSource"
	SetPlaybackStateMethod = "setPlaybackState"
	SetSeekingMethod       = "setSeeking"
)

var errUnknownMethod = errors.New("unknown method")

// Rpc is a command sent by a presentation client over the websocket.
type Rpc struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func RpcFromReader(r io.Reader) (*Rpc, error) {
	rpc := &Rpc{}
	if err := json.NewDecoder(r).Decode(rpc); err != nil {
		return nil, err
	}
	return rpc, nil
}

// Call applies the command to p.
func (rpc *Rpc) Call(ctx context.Context, p Party) error {
	switch rpc.Method {
	case SetVideoSourceMethod:
		req := SourceRequest{}
		if err := json.Unmarshal(rpc.Params, &req); err != nil {
			return fmt.Errorf("%s params: %w", rpc.Method, err)
		}
		return p.SetVideoSource(ctx, req.URL)
	case SetPlaybackStateMethod:
		patch := core.PlaybackPatch{}
		if err := json.Unmarshal(rpc.Params, &patch); err != nil {
			return fmt.Errorf("%s params: %w", rpc.Method, err)
		}
		return p.SetPlaybackState(ctx, patch)
	case SetSeekingMethod:
		req := SeekingRequest{}
		if err := json.Unmarshal(rpc.Params, &req); err != nil {
			return fmt.Errorf("%s params: %w", rpc.Method, err)
		}
		return p.SetSeeking(ctx, req.Seeking)
	default:
		return fmt.Errorf("%w: %q", errUnknownMethod, rpc.Method)
	}
}
