package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"ImageClassifier/pkg/response"
)

var (
	ErrTooManyRequests = response.NewError(http.StatusTooManyRequests, "Too many requests")
)

// limiterIdleTTL is how long an IP's bucket survives without traffic.
const limiterIdleTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	bucket    map[string]*visitor
	rate      rate.Limit
	burstSize int
	mutex     *sync.Mutex
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(reqRate rate.Limit, burstSize int) *rateLimiter {
	return &rateLimiter{
		bucket:    make(map[string]*visitor),
		rate:      reqRate,
		burstSize: burstSize,
		mutex:     &sync.Mutex{},
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (r *rateLimiter) GetLimiterFrom(ip string) *rate.Limiter {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) >= limiterIdleTTL {
		r.sweep(now)
	}

	v, exist := r.bucket[ip]
	if !exist {
		v = &visitor{limiter: rate.NewLimiter(r.rate, r.burstSize)}
		r.bucket[ip] = v
	}
	v.lastSeen = now

	return v.limiter
}

// sweep drops buckets idle for longer than limiterIdleTTL. Caller holds mutex.
func (r *rateLimiter) sweep(now time.Time) {
	for ip, v := range r.bucket {
		if now.Sub(v.lastSeen) >= limiterIdleTTL {
			delete(r.bucket, ip)
		}
	}
	r.lastSweep = now
}

func (m *middleware) NewRateLimiter(ctx *fiber.Ctx) error {
	if m.rateLimitter == nil {
		return ctx.Next()
	}

	clientIP := ctx.IP()
	limiter := m.rateLimitter.GetLimiterFrom(clientIP)

	if !limiter.Allow() {
		m.log.WithFields(logrus.Fields{
			"request_id": m.GetRequestID(ctx),
			"ip":         clientIP,
			"path":       ctx.Path(),
		}).Warn("Too many requests")
		return ctx.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"detail": ErrTooManyRequests.Error(),
		})
	}

	return ctx.Next()
}
