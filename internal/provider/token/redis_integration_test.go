//go:build integration

package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credsync/internal/provider/token"
	"credsync/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *token.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = token.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestMissOnEmptyStore() {
	_, ok, err := s.store.Get(context.Background(), "nsdc")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisStoreSuite) TestPutThenGet() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, "nsdc", "bearer-abc", time.Minute))

	tok, ok, err := s.store.Get(ctx, "nsdc")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("bearer-abc", tok)
}

func (s *RedisStoreSuite) TestKeysAreProviderScoped() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, "nsdc", "bearer-nsdc", time.Minute))

	_, ok, err := s.store.Get(ctx, "udemy")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisStoreSuite) TestExpiredTokenIsAMiss() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, "nsdc", "bearer-abc", 50*time.Millisecond))

	s.Require().Eventually(func() bool {
		_, ok, err := s.store.Get(ctx, "nsdc")
		return err == nil && !ok
	}, 2*time.Second, 50*time.Millisecond)
}

func (s *RedisStoreSuite) TestDeleteEvicts() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, "nsdc", "bearer-abc", time.Minute))
	s.Require().NoError(s.store.Delete(ctx, "nsdc"))

	_, ok, err := s.store.Get(ctx, "nsdc")
	s.Require().NoError(err)
	s.False(ok)
}
