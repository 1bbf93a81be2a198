package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "infergate:client:"

// RedisStore resolves credentials from a Redis instance, one JSON document
// per client id. It backs deployments where entitlements are provisioned
// out of band and rotated without restarting the gateway.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to the given Redis URL and returns a Store.
func NewRedisStore(addr string) (*RedisStore, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("auth: redis ping: %w", err)
	}
	return &RedisStore{client: c}, nil
}

// parseRedisURL parses addr into UniversalOptions supporting single and
// cluster Redis deployments. If no scheme is present, addr is treated as a
// plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	switch u.Scheme {
	case "redis", "rediss":
		if u.Path != "" && u.Path != "/" {
			db, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/"))
			if err != nil {
				return nil, fmt.Errorf("auth: redis url: invalid db: %w", err)
			}
			opts.DB = db
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	default:
		return nil, fmt.Errorf("auth: redis url: invalid scheme: %s", u.Scheme)
	}

	return opts, nil
}

func (s *RedisStore) Lookup(ctx context.Context, clientID string) (Credential, error) {
	b, err := s.client.Get(ctx, redisKeyPrefix+clientID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Credential{}, ErrUnknownClient
		}
		return Credential{}, fmt.Errorf("auth: redis lookup: %w", err)
	}
	var c Credential
	if err := json.Unmarshal(b, &c); err != nil {
		return Credential{}, fmt.Errorf("auth: redis credential decode: %w", err)
	}
	if c.ClientID == "" {
		c.ClientID = clientID
	}
	return c, nil
}

// Put stores a credential document; used by provisioning tools and tests.
func (s *RedisStore) Put(ctx context.Context, c Credential) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+c.ClientID, b, 0).Err()
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }
