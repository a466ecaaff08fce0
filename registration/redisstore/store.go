/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package redisstore provides a registration store backed by Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/registration"
)

// DefaultKeyPrefix is the default prefix of all keys written by the store.
const DefaultKeyPrefix = "dcr:"

// Config contains settings of the Redis connection.
type Config struct {
	Addr      string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password  string `mapstructure:"password" yaml:"password" json:"-"`
	DB        int    `mapstructure:"db" yaml:"db" json:"db"`
	KeyPrefix string `mapstructure:"keyPrefix" yaml:"keyPrefix" json:"keyPrefix"`
}

// Store is a registration.Store backed by Redis.
// Every registration is a JSON value under {prefix}registration:{orderID}, written with SETNX.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    log.FieldLogger
}

var _ registration.Store = (*Store)(nil)

// New connects to Redis and creates a new Store.
func New(ctx context.Context, cfg Config, logger log.FieldLogger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, cfg.KeyPrefix, logger), nil
}

// NewWithClient creates a Store with a pre-configured client.
func NewWithClient(client redis.UniversalClient, keyPrefix string, logger log.FieldLogger) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, keyPrefix: keyPrefix, logger: idputil.PrepareLogger(logger)}
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(orderID string) string {
	return s.keyPrefix + "registration:" + orderID
}

// FindByOrderID implements registration.Store.
// A value that cannot be decoded is reported as not found.
func (s *Store) FindByOrderID(ctx context.Context, orderID string) (registration.Registration, error) {
	data, err := s.client.Get(ctx, s.key(orderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return registration.Registration{}, registration.ErrNotFound
		}
		return registration.Registration{}, fmt.Errorf("get registration: %w", err)
	}
	var reg registration.Registration
	if err = json.Unmarshal(data, &reg); err != nil {
		s.logger.Warn(fmt.Sprintf("corrupt registration value for order %q, treating as absent", orderID),
			log.Error(err))
		return registration.Registration{}, registration.ErrNotFound
	}
	if reg.OrderID == "" {
		reg.OrderID = orderID
	}
	return reg, nil
}

// Save implements registration.Store.
func (s *Store) Save(ctx context.Context, reg registration.Registration) error {
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("invalid registration: %w", err)
	}
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	key := s.key(reg.OrderID)
	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("set registration: %w", err)
	}
	if ok {
		return nil
	}
	if _, err = s.FindByOrderID(ctx, reg.OrderID); !errors.Is(err, registration.ErrNotFound) {
		if err != nil {
			return err
		}
		return registration.ErrAlreadyExists
	}

	// The existing value is corrupt, keep it under a backup key and retry once.
	backupKey := fmt.Sprintf("%s:corrupt-%d", key, time.Now().Unix())
	if err = s.client.Rename(ctx, key, backupKey).Err(); err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("move corrupt registration aside: %w", err)
	}
	s.logger.Warn(fmt.Sprintf("corrupt registration value for order %q moved to %s", reg.OrderID, backupKey))
	if ok, err = s.client.SetNX(ctx, key, data, 0).Result(); err != nil {
		return fmt.Errorf("set registration: %w", err)
	}
	if !ok {
		return registration.ErrAlreadyExists
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such key")
}
