// Package groups answers group-membership questions for the role resolver,
// caching per-member group lists in Redis.
package groups

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"caseflow/api/internal/store"
	"github.com/redis/go-redis/v9"
)

type membershipStore interface {
	GroupsForMember(ctx context.Context, email string) ([]string, error)
	GroupMembers(ctx context.Context, groupName string) ([]store.Person, error)
}

type Service struct {
	store      membershipStore
	cache      *redis.Client
	cacheTTL   time.Duration
	adminGroup string
}

func New(membership membershipStore, cache *redis.Client, cacheTTL time.Duration, adminGroup string) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Service{
		store:      membership,
		cache:      cache,
		cacheTTL:   cacheTTL,
		adminGroup: adminGroup,
	}
}

// NewCache connects to Redis and verifies the connection.
func NewCache(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func (s *Service) key(email string) string {
	return "groups:member:" + email
}

// memberGroups returns the group names for an email, going to the backing
// store on a cache miss. Cache failures fall through to the store.
func (s *Service) memberGroups(ctx context.Context, email string) ([]string, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, s.key(email)).Result()
		if err == nil {
			var groups []string
			if jsonErr := json.Unmarshal([]byte(cached), &groups); jsonErr == nil {
				return groups, nil
			}
		} else if err != redis.Nil {
			log.Printf("groups: cache read for %s: %v", email, err)
		}
	}

	groups, err := s.store.GroupsForMember(ctx, email)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		encoded, err := json.Marshal(groups)
		if err == nil {
			if err := s.cache.Set(ctx, s.key(email), encoded, s.cacheTTL).Err(); err != nil {
				log.Printf("groups: cache write for %s: %v", email, err)
			}
		}
	}
	return groups, nil
}

// IsMember reports whether the email belongs to at least one of the named
// groups.
func (s *Service) IsMember(ctx context.Context, email string, groupNames []string) (bool, error) {
	if email == "" || len(groupNames) == 0 {
		return false, nil
	}
	memberOf, err := s.memberGroups(ctx, email)
	if err != nil {
		return false, err
	}
	have := make(map[string]struct{}, len(memberOf))
	for _, name := range memberOf {
		have[name] = struct{}{}
	}
	for _, name := range groupNames {
		if _, ok := have[name]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) IsAdmin(ctx context.Context, email string) (bool, error) {
	return s.IsMember(ctx, email, []string{s.adminGroup})
}

// Members returns profile snapshots for a group, uncached: rosters are only
// read on notification fan-out.
func (s *Service) Members(ctx context.Context, groupName string) ([]store.Person, error) {
	return s.store.GroupMembers(ctx, groupName)
}

// Invalidate drops the cached group list for an email.
func (s *Service) Invalidate(ctx context.Context, email string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.key(email)).Err(); err != nil {
		log.Printf("groups: cache invalidate for %s: %v", email, err)
	}
}
