package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "session:"

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*redisStore)(nil)

// NewRedisStore keeps sessions in redis; every save extends the session for ttl.
func NewRedisStore(client *redis.Client, ttl time.Duration) Store {
	return &redisStore{client: client, ttl: ttl}
}

func (s *redisStore) Get(ctx context.Context, id string) (Session, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Session{}, ErrNotFound
		}
		return Session{}, errors.Wrap(err, "reading session")
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, errors.Wrap(err, "decoding session")
	}
	return sess, nil
}

func (s *redisStore) Save(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	return errors.Wrap(s.client.Set(ctx, redisKeyPrefix+sess.ID, raw, s.ttl).Err(), "writing session")
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	return errors.Wrap(s.client.Del(ctx, redisKeyPrefix+id).Err(), "deleting session")
}
