package errx

import (
	"context"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// WrapRedis maps Redis errors to AppError with appropriate status codes.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, redis.Nil):
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	case errors.Is(err, context.DeadlineExceeded):
		return New(err, http.StatusGatewayTimeout, RedisErrorMessage)
	case errors.Is(err, context.Canceled):
		return New(err, StatusClientClosedRequest, RedisErrorMessage)
	case errors.Is(err, redis.ErrPoolTimeout), errors.Is(err, redis.ErrClosed):
		return New(err, http.StatusServiceUnavailable, RedisErrorMessage)
	}
	return New(err, http.StatusBadGateway, RedisErrorMessage)
}
