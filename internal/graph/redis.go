package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "read2me:"

// RedisStore implements Store using Redis.
//
// Layout, relative to the prefix:
//
//	node:{id}               hash   kind, story, summary
//	kind:{kind}             set    node ids of that kind
//	edges:{id}:{edgeKind}   list   JSON edges in attach order
type RedisStore struct {
	client *redis.Client
	prefix string
	bgsave bool
}

// NewRedisStore connects to the Redis instance at redisURL
func NewRedisStore(ctx context.Context, redisURL, prefix string, bgsave bool) (*RedisStore, error) {
	if redisURL == "" {
		return nil, errors.New("redis url is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, bgsave: bgsave}, nil
}

func (r *RedisStore) nodeKey(id string) string {
	return r.prefix + "node:" + id
}

func (r *RedisStore) kindKey(kind Kind) string {
	return r.prefix + "kind:" + string(kind)
}

func (r *RedisStore) edgesKey(id string, kind EdgeKind) string {
	return r.prefix + "edges:" + id + ":" + string(kind)
}

func (r *RedisStore) Node(ctx context.Context, id string) (*Node, error) {
	fields, err := r.client.HGetAll(ctx, r.nodeKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load node %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return &Node{
		ID:      id,
		Kind:    Kind(fields["kind"]),
		Story:   fields["story"],
		Summary: fields["summary"],
	}, nil
}

func (r *RedisStore) CreateNode(ctx context.Context, node Node) error {
	if node.ID == "" {
		return errors.New("graph: node id cannot be empty")
	}
	if node.Kind == "" {
		node.Kind = KindPending
	}

	key := r.nodeKey(node.ID)
	created, err := r.client.HSetNX(ctx, key, "kind", string(node.Kind)).Result()
	if err != nil {
		return fmt.Errorf("failed to create node %s: %w", node.ID, err)
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrNodeExists, node.ID)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if node.Story != "" {
			pipe.HSet(ctx, key, "story", node.Story)
		}
		if node.Summary != "" {
			pipe.HSet(ctx, key, "summary", node.Summary)
		}
		pipe.SAdd(ctx, r.kindKey(node.Kind), node.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store node %s: %w", node.ID, err)
	}
	return nil
}

// Nodes returns nodes of the given kind ordered by id
func (r *RedisStore) Nodes(ctx context.Context, kind Kind) ([]*Node, error) {
	ids, err := r.client.SMembers(ctx, r.kindKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s nodes: %w", kind, err)
	}
	sort.Strings(ids)

	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		n, err := r.Node(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *RedisStore) ClaimStory(ctx context.Context, id, story string) (bool, error) {
	n, err := r.Node(ctx, id)
	if err != nil {
		return false, err
	}

	claimed, err := r.client.HSetNX(ctx, r.nodeKey(id), "story", story).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set story for %s: %w", id, err)
	}
	if claimed && n.Kind == KindPending {
		if err := r.moveKind(ctx, id, KindPending, KindPage); err != nil {
			return true, err
		}
	}
	return claimed, nil
}

func (r *RedisStore) SetKind(ctx context.Context, id string, kind Kind) error {
	n, err := r.Node(ctx, id)
	if err != nil {
		return err
	}
	return r.moveKind(ctx, id, n.Kind, kind)
}

func (r *RedisStore) moveKind(ctx context.Context, id string, from, to Kind) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.nodeKey(id), "kind", string(to))
		pipe.SRem(ctx, r.kindKey(from), id)
		pipe.SAdd(ctx, r.kindKey(to), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set kind of %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) SetSummary(ctx context.Context, id, summary string) error {
	if err := r.mustExist(ctx, id); err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.nodeKey(id), "summary", summary).Err(); err != nil {
		return fmt.Errorf("failed to set summary for %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) Attach(ctx context.Context, from, to string, kind EdgeKind, action string) error {
	count, err := r.client.Exists(ctx, r.nodeKey(from), r.nodeKey(to)).Result()
	if err != nil {
		return fmt.Errorf("failed to check edge endpoints: %w", err)
	}
	if count != 2 {
		return fmt.Errorf("%w: edge %s -> %s", ErrNotFound, from, to)
	}

	data, err := sonic.MarshalString(Edge{From: from, To: to, Kind: kind, Action: action})
	if err != nil {
		return fmt.Errorf("failed to marshal edge: %w", err)
	}
	if err := r.client.RPush(ctx, r.edgesKey(from, kind), data).Err(); err != nil {
		return fmt.Errorf("failed to attach edge %s -> %s: %w", from, to, err)
	}
	return nil
}

func (r *RedisStore) Edges(ctx context.Context, id string, kind EdgeKind) ([]Edge, error) {
	if err := r.mustExist(ctx, id); err != nil {
		return nil, err
	}

	raw, err := r.client.LRange(ctx, r.edgesKey(id, kind), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load edges of %s: %w", id, err)
	}

	edges := make([]Edge, 0, len(raw))
	for _, item := range raw {
		var e Edge
		if err := sonic.UnmarshalString(item, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edge of %s: %w", id, err)
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// Flush asks Redis for a background save when enabled. Managed instances
// usually persist on their own and reject BGSAVE, so it is opt-in.
func (r *RedisStore) Flush(ctx context.Context) error {
	if !r.bgsave {
		return nil
	}
	err := r.client.BgSave(ctx).Err()
	if err != nil && strings.Contains(err.Error(), "in progress") {
		return nil
	}
	return err
}

func (r *RedisStore) mustExist(ctx context.Context, id string) error {
	count, err := r.client.Exists(ctx, r.nodeKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check node %s: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Ping tests Redis connection
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
