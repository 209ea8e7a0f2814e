// Package exchange realizes spec.md §4.8's foreach/exchange/all_reduce
// fabric on top of an embedded NATS server per rank, adapted from
// servs/s_nats/nats_serv/service.go's embedded-server-plus-client pattern.
// Where the teacher's service wraps a request/endpoint RPC surface, Mesh
// wraps a round-based collective: every rank publishes the envelopes it
// owes its partners for the current round and blocks until everything
// addressed to it has arrived.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Mesh is one rank's membership in the exchange fabric: an embedded NATS
// server, a client connection to it, and this rank's signed RankToken
// (see Token; Exchange and AllReduceSum do not attach it to messages).
type Mesh struct {
	ClusterName string
	Rank        int
	NRanks      int
	Jobs        int

	server *server.Server
	conn   *nats.Conn
	url    string
	token  string
	log    zerolog.Logger
}

// Config configures NewMesh. Rank 0 hosts the embedded NATS server
// (ConnectURL left empty); every other rank joins it by setting
// ConnectURL to the value rank 0's Mesh.ClientURL() returned, mirroring
// how servs/s_nats/main.go starts one broker that s_nats clients dial
// into rather than embedding a server per client.
type Config struct {
	ClusterName   string
	Rank          int
	NRanks        int
	Jobs          int
	Host          string
	Port          int
	ConnectURL    string // non-empty: join an existing mesh instead of hosting
	ClusterSecret string // signs/verifies RankToken; empty disables the check
}

// NewMesh either starts the mesh's embedded NATS server (ConnectURL
// empty) or dials an existing one (ConnectURL set), then mints this
// rank's RankToken (returned by Token).
func NewMesh(cfg Config, log zerolog.Logger) (*Mesh, error) {
	if cfg.Jobs <= 0 {
		cfg.Jobs = 1
	}

	var ns *server.Server
	var connectURL string

	if cfg.ConnectURL == "" {
		opts := &server.Options{
			Host:      cfg.Host,
			Port:      cfg.Port,
			JetStream: false,
		}
		started, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("start embedded nats server for rank %d: %w", cfg.Rank, err)
		}
		go started.Start()
		if !started.ReadyForConnections(5 * time.Second) {
			return nil, fmt.Errorf("rank %d: embedded nats server not ready after 5s", cfg.Rank)
		}
		ns = started
		connectURL = started.ClientURL()
	} else {
		connectURL = cfg.ConnectURL
	}

	nc, err := nats.Connect(connectURL)
	if err != nil {
		if ns != nil {
			ns.Shutdown()
		}
		return nil, fmt.Errorf("connect rank %d to mesh at %s: %w", cfg.Rank, connectURL, err)
	}

	token, err := SignRankToken(cfg.ClusterSecret, cfg.Rank)
	if err != nil {
		nc.Close()
		if ns != nil {
			ns.Shutdown()
		}
		return nil, fmt.Errorf("sign rank token for rank %d: %w", cfg.Rank, err)
	}

	return &Mesh{
		ClusterName: cfg.ClusterName,
		Rank:        cfg.Rank,
		NRanks:      cfg.NRanks,
		Jobs:        cfg.Jobs,
		server:      ns,
		conn:        nc,
		url:         connectURL,
		token:       token,
		log:         log.With().Int("rank", cfg.Rank).Logger(),
	}, nil
}

// ClientURL returns the address other ranks should set as ConnectURL to
// join this mesh; meaningful only when this Mesh is the host (rank 0).
func (m *Mesh) ClientURL() string { return m.url }

// Close drains the client connection and shuts down the embedded server.
func (m *Mesh) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
	if m.server != nil {
		m.server.Shutdown()
	}
}

// Foreach runs f over every block id, bounded by Jobs concurrent workers,
// stopping at the first error (spec.md §6's -j flag).
func (m *Mesh) Foreach(ctx context.Context, blocks []int64, f func(ctx context.Context, gid int64) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.Jobs)
	for _, gid := range blocks {
		gid := gid
		g.Go(func() error { return f(gctx, gid) })
	}
	return g.Wait()
}

// Envelope is one message addressed to a single destination rank within
// a round; Payload carries the caller's already-serialized block state
// (a swapreduce.Outgoing, a components.Descriptor batch, ...).
type Envelope struct {
	Round   int             `json:"round"`
	From    int             `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

func (m *Mesh) subject(round, rank int) string {
	return fmt.Sprintf("toposcan.%s.exchange.%d.%d", m.ClusterName, round, rank)
}

// Exchange implements spec.md's collective communication step: outgoing
// maps destination rank to the payload this rank owes it for round;
// wantFrom lists the ranks this rank expects to hear from (may include
// itself, for a self-addressed envelope). It blocks until all of them
// have arrived or timeout elapses.
func (m *Mesh) Exchange(round int, outgoing map[int]json.RawMessage, wantFrom []int, timeout time.Duration) ([]Envelope, error) {
	sub, err := m.conn.SubscribeSync(m.subject(round, m.Rank))
	if err != nil {
		return nil, fmt.Errorf("rank %d: subscribe round %d: %w", m.Rank, round, err)
	}
	defer sub.Unsubscribe()

	for dest, payload := range outgoing {
		env := Envelope{Round: round, From: m.Rank, Payload: payload}
		data, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("rank %d: marshal envelope to %d: %w", m.Rank, dest, err)
		}
		if err := m.conn.Publish(m.subject(round, dest), data); err != nil {
			return nil, fmt.Errorf("rank %d: publish to %d: %w", m.Rank, dest, err)
		}
	}
	if err := m.conn.Flush(); err != nil {
		return nil, fmt.Errorf("rank %d: flush round %d: %w", m.Rank, round, err)
	}

	incoming := make([]Envelope, 0, len(wantFrom))
	for range wantFrom {
		msg, err := sub.NextMsg(timeout)
		if err != nil {
			return incoming, fmt.Errorf("rank %d: round %d: waiting on %d more messages: %w", m.Rank, round, len(wantFrom)-len(incoming), err)
		}
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return incoming, fmt.Errorf("rank %d: round %d: unmarshal envelope: %w", m.Rank, round, err)
		}
		incoming = append(incoming, env)
	}
	return incoming, nil
}

// AllReduceSum sums value across every rank, used by components.Block's
// per-round NotDoneCount vote (spec.md §4.4 step 4's fixed-point check)
// and by the pre-loop mean-threshold computation (global sum and count).
func (m *Mesh) AllReduceSum(round int, value float64, timeout time.Duration) (float64, error) {
	subject := fmt.Sprintf("toposcan.%s.allreduce.%d", m.ClusterName, round)
	sub, err := m.conn.SubscribeSync(subject)
	if err != nil {
		return 0, fmt.Errorf("rank %d: subscribe allreduce round %d: %w", m.Rank, round, err)
	}
	defer sub.Unsubscribe()

	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("rank %d: marshal allreduce value: %w", m.Rank, err)
	}
	if err := m.conn.Publish(subject, data); err != nil {
		return 0, fmt.Errorf("rank %d: publish allreduce round %d: %w", m.Rank, round, err)
	}
	if err := m.conn.Flush(); err != nil {
		return 0, fmt.Errorf("rank %d: flush allreduce round %d: %w", m.Rank, round, err)
	}

	sum := 0.0
	for i := 0; i < m.NRanks; i++ {
		msg, err := sub.NextMsg(timeout)
		if err != nil {
			return sum, fmt.Errorf("rank %d: allreduce round %d: waiting on %d more of %d: %w", m.Rank, round, m.NRanks-i, m.NRanks, err)
		}
		var v float64
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return sum, fmt.Errorf("rank %d: allreduce round %d: unmarshal: %w", m.Rank, round, err)
		}
		sum += v
	}
	return sum, nil
}

// RankTokenClaims is the JWT payload of a RankToken, signed with the
// cluster secret. Joining a mesh does not check it; VerifyRankToken does
// (the CLI's monitor uses it to authorize HTTP requests).
type RankTokenClaims struct {
	Rank int `json:"rank"`
	jwt.RegisteredClaims
}

// SignRankToken signs a RankToken for rank under secret. An empty secret
// yields an empty token, signalling "no cluster authentication configured"
// to VerifyRankToken.
func SignRankToken(secret string, rank int) (string, error) {
	if secret == "" {
		return "", nil
	}
	claims := RankTokenClaims{
		Rank: rank,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}

// VerifyRankToken checks tokenStr against secret and returns the rank it
// was signed for. An empty secret accepts any token, matching
// SignRankToken's "no cluster authentication configured" convention.
func VerifyRankToken(secret, tokenStr string) (int, error) {
	if secret == "" {
		return 0, nil
	}
	tok, err := jwt.ParseWithClaims(tokenStr, &RankTokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse rank token: %w", err)
	}
	claims, ok := tok.Claims.(*RankTokenClaims)
	if !ok || !tok.Valid {
		return 0, fmt.Errorf("invalid rank token")
	}
	return claims.Rank, nil
}

// Token returns this mesh's signed RankToken, for inclusion on any
// message a rank publishes outside of Exchange/AllReduceSum's internal
// plumbing (e.g. a monitor client authenticating against the mesh).
func (m *Mesh) Token() string { return m.token }
