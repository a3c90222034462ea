package transport

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/metrics"
	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2phost "github.com/libp2p/go-libp2p/core/host"
	peer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	transportLibp2p = "libp2p"

	defaultLibp2pJoinTimeout = time.Minute
	libp2pPeerPoll           = 100 * time.Millisecond
)

// Libp2pConfig configures a gossipsub room. Gossipsub assigns no indices, so
// every party carries its own configured PartyIndex.
//
// MinPeers is the number of other subscribers a topic needs before Join returns
// and before Send publishes. JoinTimeout bounds that wait.
type Libp2pConfig struct {
	Listen      []string
	Bootnodes   []string
	PartyIndex  uint16
	NAT         bool
	MinPeers    int
	JoinTimeout time.Duration
}

// Libp2pRoom maps every channel onto a gossipsub topic. Topics keep no history,
// so Join holds until MinPeers other parties are subscribed: a party that has
// joined cannot publish before the expected peers listen.
type Libp2pRoom struct {
	cfg  Libp2pConfig
	host p2phost.Host
	ps   *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]*libp2pTopic
	closed bool
}

// libp2pTopic counts the local channels subscribed to a topic; the topic is
// closed once the last of them has cancelled its subscription.
type libp2pTopic struct {
	topic    *pubsub.Topic
	channels map[*libp2pChannel]struct{}
}

func NewLibp2pRoom(ctx context.Context, cfg Libp2pConfig) (*Libp2pRoom, error) {
	if cfg.PartyIndex == 0 {
		return nil, errors.New("libp2p party index must be set")
	}
	if cfg.MinPeers < 0 {
		return nil, errors.Errorf("invalid libp2p min peers %d", cfg.MinPeers)
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultLibp2pJoinTimeout
	}

	opts := []libp2p.Option{}
	var addrs []ma.Multiaddr
	for _, s := range cfg.Listen {
		if strings.TrimSpace(s) == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid listen address %q", s)
		}
		addrs = append(addrs, a)
	}
	if len(addrs) > 0 {
		opts = append(opts, libp2p.ListenAddrs(addrs...))
	}
	if cfg.NAT {
		opts = append(opts, libp2p.NATPortMap())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create libp2p host")
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, errors.Wrap(err, "failed to start gossipsub")
	}

	for _, b := range cfg.Bootnodes {
		if strings.TrimSpace(b) == "" {
			continue
		}
		addr := b
		err := retry.Do(
			func() error { return connectOnce(ctx, h, addr) },
			retry.Context(ctx),
			retry.Attempts(5),
			retry.Delay(time.Second),
			retry.OnRetry(func(n uint, err error) {
				log.Debug().Err(err).Str("bootnode", addr).Uint("attempt", n+1).Msg("Retrying bootnode connection")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Str("bootnode", addr).Msg("Failed to connect to bootnode")
		}
	}

	r := &Libp2pRoom{
		cfg:    cfg,
		host:   h,
		ps:     ps,
		topics: make(map[string]*libp2pTopic),
	}
	log.Info().
		Str("peer_id", h.ID().String()).
		Strs("addrs", r.Addrs()).
		Int("min_peers", cfg.MinPeers).
		Msg("libp2p listening")
	return r, nil
}

// Addrs are the dialable addresses of the local host, including its peer id.
func (r *Libp2pRoom) Addrs() []string {
	out := make([]string, 0, len(r.host.Addrs()))
	for _, a := range r.host.Addrs() {
		out = append(out, a.String()+"/p2p/"+r.host.ID().String())
	}
	return out
}

// Join subscribes to the topic and waits until MinPeers other parties have
// subscribed too.
func (r *Libp2pRoom) Join(ctx context.Context, name string) (Channel, error) {
	ch, err := r.subscribe(name)
	if err != nil {
		return nil, err
	}
	if err := r.awaitPeers(ctx, ch.topic, name); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *Libp2pRoom) subscribe(name string) (*libp2pChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRoomClosed
	}
	t, ok := r.topics[name]
	if !ok {
		topic, err := r.ps.Join(name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to join topic %s", name)
		}
		t = &libp2pTopic{topic: topic, channels: make(map[*libp2pChannel]struct{})}
		r.topics[name] = t
	}
	sub, err := t.topic.Subscribe()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to subscribe to topic %s", name)
	}

	ch := &libp2pChannel{room: r, name: name, origin: uuid.NewString(), topic: t.topic, sub: sub}
	t.channels[ch] = struct{}{}
	return ch, nil
}

func (r *Libp2pRoom) awaitPeers(ctx context.Context, topic *pubsub.Topic, name string) error {
	if r.cfg.MinPeers == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.JoinTimeout)
	defer cancel()

	ticker := time.NewTicker(libp2pPeerPoll)
	defer ticker.Stop()
	for {
		peers := len(topic.ListPeers())
		if peers >= r.cfg.MinPeers {
			log.Debug().Str("room", name).Int("peers", peers).Msg("Topic peers subscribed")
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "topic %s has %d of %d peers", name, peers, r.cfg.MinPeers)
		case <-ticker.C:
		}
	}
}

func (r *Libp2pRoom) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var open []*libp2pChannel
	for _, t := range r.topics {
		for ch := range t.channels {
			open = append(open, ch)
		}
	}
	r.mu.Unlock()

	for _, ch := range open {
		_ = ch.Close()
	}

	r.mu.Lock()
	for name, t := range r.topics {
		if err := t.topic.Close(); err != nil {
			log.Debug().Err(err).Str("room", name).Msg("Failed to close topic")
		}
		delete(r.topics, name)
	}
	r.mu.Unlock()
	return r.host.Close()
}

// release drops ch from its topic and closes the topic once no channel uses it.
// A cancelled subscription is removed by the pubsub loop, so the close is retried
// until the loop has caught up.
func (r *Libp2pRoom) release(ch *libp2pChannel) {
	r.mu.Lock()
	if t, ok := r.topics[ch.name]; ok {
		delete(t.channels, ch)
	}
	r.mu.Unlock()

	err := retry.Do(
		func() error {
			r.mu.Lock()
			defer r.mu.Unlock()
			t, ok := r.topics[ch.name]
			if !ok || len(t.channels) > 0 || r.closed {
				return nil
			}
			if err := t.topic.Close(); err != nil {
				return err
			}
			delete(r.topics, ch.name)
			return nil
		},
		retry.Attempts(10),
		retry.Delay(10*time.Millisecond),
		retry.MaxDelay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Warn().Err(err).Str("room", ch.name).Msg("Failed to close topic")
	}
}

// openTopics is the number of topics the room still holds.
func (r *Libp2pRoom) openTopics() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}

// libp2pEnvelope tags every publication with the channel that sent it, so a
// channel skips only its own messages and still sees those of other local channels.
type libp2pEnvelope struct {
	Message
	Origin string `json:"origin"`
}

type libp2pChannel struct {
	room   *Libp2pRoom
	name   string
	origin string
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	mu     sync.Mutex
	closed bool
}

func (c *libp2pChannel) Name() string  { return c.name }
func (c *libp2pChannel) Index() uint16 { return c.room.cfg.PartyIndex }

func (c *libp2pChannel) Send(ctx context.Context, body interface{}) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	msg, err := newMessage(c.Index(), body)
	if err != nil {
		return err
	}
	data, err := json.Marshal(&libp2pEnvelope{Message: *msg, Origin: c.origin})
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}
	var opts []pubsub.PubOpt
	if c.room.cfg.MinPeers > 0 {
		opts = append(opts, pubsub.WithReadiness(pubsub.MinTopicSize(c.room.cfg.MinPeers)))
	}
	if err := c.topic.Publish(ctx, data, opts...); err != nil {
		metrics.TransportMessagesTotal.WithLabelValues(transportLibp2p, "tx", "error").Inc()
		return errors.Wrapf(err, "failed to publish to topic %s", c.name)
	}
	metrics.TransportMessagesTotal.WithLabelValues(transportLibp2p, "tx", "ok").Inc()
	return nil
}

func (c *libp2pChannel) Recv(ctx context.Context) (*Message, error) {
	self := c.room.host.ID()
	for {
		if c.isClosed() {
			return nil, ErrChannelClosed
		}
		pm, err := c.sub.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, errors.Wrapf(ErrChannelClosed, "topic %s: %v", c.name, err)
		}
		var env libp2pEnvelope
		if err := json.Unmarshal(pm.Data, &env); err != nil {
			metrics.TransportMessagesTotal.WithLabelValues(transportLibp2p, "rx", "decode_error").Inc()
			continue
		}
		if pm.ReceivedFrom == self {
			if env.Origin == c.origin {
				continue
			}
		} else if env.Sender == c.Index() {
			continue
		}
		metrics.TransportMessagesTotal.WithLabelValues(transportLibp2p, "rx", "ok").Inc()
		m := env.Message
		return &m, nil
	}
}

func (c *libp2pChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *libp2pChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.sub.Cancel()
	c.room.release(c)
	return nil
}

func connectOnce(ctx context.Context, h p2phost.Host, addr string) error {
	maAddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maAddr)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return h.Connect(ctx2, *info)
}
