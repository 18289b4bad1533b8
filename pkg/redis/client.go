// Package redis provides Redis client utilities.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options are the connection settings the server reads from config.
type Options struct {
	Addr     string
	Password string
	// TLS enables TLS 1.2+; managed Redis services generally require it
	// whenever a password is set.
	TLS bool
}

// NewClient creates a client and checks the connection with PING.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	options := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       0,
	}
	if opts.TLS {
		options.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: connecting to %s: %w", opts.Addr, err)
	}

	return client, nil
}
