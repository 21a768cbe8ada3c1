package gtmi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// grantsCacheKey generates the redis key for a user's resolved grant set.
func (s *Service) grantsCacheKey(tenantID, userID uint) string {
	return fmt.Sprintf("%sgrants:%d:%d", s.cachePrefix, tenantID, userID)
}

// cachedGrants returns a cached grant set, if present.
func (s *Service) cachedGrants(ctx context.Context, tenantID, userID uint) ([]Grant, bool) {
	if s.redis == nil {
		return nil, false
	}

	val, err := s.redis.Get(ctx, s.grantsCacheKey(tenantID, userID)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		return nil, false
	}

	var grants []Grant
	if err := json.Unmarshal([]byte(val), &grants); err != nil {
		return nil, false
	}
	return grants, true
}

// setCachedGrants caches a resolved grant set.
func (s *Service) setCachedGrants(ctx context.Context, tenantID, userID uint, grants []Grant) {
	if s.redis == nil {
		return
	}

	data, err := json.Marshal(grants)
	if err != nil {
		return
	}
	s.redis.Set(ctx, s.grantsCacheKey(tenantID, userID), data, s.cacheTTL)
}

// invalidateGrantCache drops cached grants for one user, or for the whole
// tenant when userID is 0. Any role, permission or assignment mutation must
// call this.
func (s *Service) invalidateGrantCache(ctx context.Context, tenantID, userID uint) {
	if s.redis == nil {
		return
	}

	pattern := fmt.Sprintf("%sgrants:%d:*", s.cachePrefix, tenantID)
	if userID != 0 {
		s.redis.Del(ctx, s.grantsCacheKey(tenantID, userID))
		return
	}
	keys, err := s.redis.Keys(ctx, pattern).Result()
	if err != nil {
		return
	}
	for _, key := range keys {
		s.redis.Del(ctx, key)
	}
}
