package party

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/eventloop"
	"github.com/isqad/livelook-party/internal/host"
	"github.com/isqad/livelook-party/internal/mesh"
	"github.com/isqad/livelook-party/internal/playback"
	"github.com/isqad/livelook-party/internal/presence"
	"github.com/isqad/livelook-party/internal/signaling"
	"github.com/isqad/livelook-party/internal/store"
)

// Client is one participant in one session. All of its components share one event loop.
type Client struct {
	sessionID core.SessionID
	self      core.Participant

	loop        *eventloop.Loop
	mailbox     *signaling.Mailbox
	mesh        *mesh.Manager
	registry    *presence.Registry
	coordinator *host.Coordinator
	sync        *playback.Synchronizer
	player      *playback.Player

	ctx    context.Context
	cancel context.CancelFunc

	// loop only
	roster   []core.Participant
	settle   func(func())
	watchers map[int]func(Event)
	nextID   int

	leaveOnce sync.Once
}

func newClient(st store.Store, opts Options, sessionID core.SessionID, self core.Participant) *Client {
	loop := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		sessionID: sessionID,
		self:      self,
		loop:      loop,
		ctx:       ctx,
		cancel:    cancel,
		settle:    debounce.New(opts.Session.RosterSettle),
		watchers:  map[int]func(Event){},
	}

	c.mailbox = signaling.NewMailbox(st, loop, sessionID, self.ID)
	c.mesh = mesh.NewManager(self.ID, opts.Transport, c.mailbox, loop)
	c.registry = presence.NewRegistry(st, loop, sessionID, self)
	c.coordinator = host.NewCoordinator(st, loop, sessionID, self.ID)
	c.sync = playback.NewSynchronizer(st, loop, sessionID, self.ID, c.coordinator)
	c.player = playback.NewPlayer(c.sync, c.coordinator, playback.NewClock(time.Now), playback.Reconciler{
		Follow:  opts.Playback.FollowThreshold,
		Publish: opts.Playback.PublishThreshold,
	})

	c.mailbox.OnOffer(c.mesh.HandleOffer)
	c.mailbox.OnAnswer(c.mesh.HandleAnswer)
	c.mailbox.OnICECandidate(c.mesh.HandleICECandidate)

	c.registry.OnRoster(c.handleRoster)
	c.registry.OnRejoin(c.mesh.Reset)
	c.mesh.OnStreams(func(streams []mesh.Stream) {
		c.emit(Event{Type: StreamsEvent, Data: streamInfos(streams)})
	})
	c.coordinator.OnChange(func(core.ParticipantID) {
		c.emit(Event{Type: HostEvent, Data: c.Host()})
	})
	c.sync.OnChange(func(state core.PlaybackState) {
		c.player.Follow(state)
		c.emit(Event{Type: PlaybackEvent, Data: c.Playback()})
	})

	return c
}

// start subscribes in dependency order: the mailbox first so that no offer
// sent in reaction to our presence record is missed.
func (c *Client) start(ctx context.Context, opts Options) error {
	if err := c.mailbox.Listen(c.ctx); err != nil {
		return err
	}
	if err := c.coordinator.Watch(c.ctx); err != nil {
		return err
	}
	if err := c.sync.Watch(c.ctx); err != nil {
		return err
	}
	if err := c.registry.Join(ctx); err != nil {
		return err
	}
	if err := c.registry.Watch(c.ctx); err != nil {
		return err
	}

	go c.every(opts.Session.HeartbeatInterval, func() {
		if err := c.registry.Heartbeat(c.ctx); err != nil {
			log.Error().Err(err).Str("service", "party").Str("participantID", c.self.ID.String()).Msg("heartbeat")
		}
	})
	go c.every(opts.Playback.TickInterval, func() {
		if err := c.player.Tick(c.ctx); err != nil {
			log.Error().Err(err).Str("service", "party").Str("participantID", c.self.ID.String()).Msg("republish position")
		}
	})

	return nil
}

// every posts fn onto the loop at each tick until the client leaves.
func (c *Client) every(interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.loop.Post(fn)
		}
	}
}

func (c *Client) handleRoster(roster []core.Participant) {
	c.roster = roster
	c.emit(Event{Type: RosterEvent, Data: roster})

	c.settle(func() {
		c.loop.Post(func() {
			c.mesh.SetRoster(c.roster)
		})
	})
}

func (c *Client) emit(e Event) {
	for _, w := range c.watchers {
		w(e)
	}
}

// stop cancels every subscription and closes every connection. Persisted
// presence and mailbox documents are left for the delayed cleanup.
func (c *Client) stop() {
	c.leaveOnce.Do(func() {
		c.cancel()
		c.registry.Close()
		c.mailbox.Close()
		c.coordinator.Close()
		c.sync.Close()
		c.loop.Call(c.mesh.Close)
		c.loop.Stop()

		log.Debug().
			Str("service", "party").
			Str("participantID", c.self.ID.String()).
			Str("sessionID", c.sessionID.String()).
			Msg("left")
	})
}

func (c *Client) SessionID() core.SessionID {
	return c.sessionID
}

func (c *Client) Self() core.Participant {
	return c.self
}

func (c *Client) Roster() []core.Participant {
	return c.registry.Roster()
}

func (c *Client) Streams() []StreamInfo {
	var streams []mesh.Stream
	c.loop.Call(func() {
		streams = c.mesh.Streams()
	})
	return streamInfos(streams)
}

func (c *Client) Peers() []mesh.PeerInfo {
	var peers []mesh.PeerInfo
	c.loop.Call(func() {
		peers = c.mesh.Peers()
	})
	return peers
}

func (c *Client) Host() HostInfo {
	return HostInfo{HostID: c.coordinator.HostID(), IsHost: c.coordinator.IsHost()}
}

func (c *Client) Playback() PlaybackInfo {
	clock := c.player.Clock()
	return PlaybackInfo{PlaybackState: c.sync.State(), Position: clock.Position(), Seeking: clock.Seeking()}
}

func (c *Client) SetVideoSource(ctx context.Context, url string) error {
	var err error
	if !c.loop.Call(func() { err = c.sync.SetVideoSource(ctx, url) }) {
		return ErrLeft
	}
	return err
}

func (c *Client) SetPlaybackState(ctx context.Context, patch core.PlaybackPatch) error {
	var err error
	if !c.loop.Call(func() { err = c.sync.SetPlaybackState(ctx, patch) }) {
		return ErrLeft
	}
	return err
}

// SetSeeking marks the local player as scrubbing. Corrections from the shared
// state and position republishing pause until it is released.
func (c *Client) SetSeeking(ctx context.Context, seeking bool) error {
	var err error
	if !c.loop.Call(func() {
		err = c.player.SetSeeking(ctx, seeking)
		c.emit(Event{Type: PlaybackEvent, Data: c.Playback()})
	}) {
		return ErrLeft
	}
	return err
}

// Subscribe calls f on the loop for every event until the returned function is called.
func (c *Client) Subscribe(f func(Event)) (func(), error) {
	var id int
	if !c.loop.Call(func() {
		id = c.nextID
		c.nextID++
		c.watchers[id] = f
	}) {
		return nil, ErrLeft
	}

	return func() {
		c.loop.Post(func() {
			delete(c.watchers, id)
		})
	}, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("%s/%s", c.sessionID, c.self.ID)
}
