package errx

import (
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// WrapRedis maps Redis errors to AppError with an appropriate status code.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(err, KindStorage, http.StatusNotFound, RedisNotFoundMessage)
	}
	return New(err, KindStorage, http.StatusBadGateway, RedisErrorMessage)
}
