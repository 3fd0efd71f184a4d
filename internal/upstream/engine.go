package upstream

import (
	"context"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"aiproxy-go/internal/config"
	"aiproxy-go/internal/constants"
	"aiproxy-go/internal/credential"
	apperrors "aiproxy-go/internal/errors"
	"aiproxy-go/internal/monitoring/tracing"
	log "github.com/sirupsen/logrus"
)

const minDelay = constants.RetryMinBackoff

// ErrNoCredentials is returned before any network call when the pool is empty.
var ErrNoCredentials = apperrors.New(http.StatusBadRequest, "no_credentials", "invalid_request_error", "no api secrets configured for this model")

// AttemptFunc 使用给定凭证发起一次上游调用。
type AttemptFunc func(ctx context.Context, secret credential.APISecret) Result

// Attempt 描述一次尝试, 供日志与指标使用。
type Attempt struct {
	CallID  uint64
	Index   int
	Round   int
	Secret  string
	Kind    Kind
	Status  int
	Err     error
	Latency time.Duration
	// Delay 是本次尝试之后的退避时间 (仅在整轮失败后非零)。
	Delay time.Duration
}

// Outcome 是 Do 的返回值。
type Outcome struct {
	Response *http.Response
	// Secret 是产生 Response 的凭证; 终态失败时为最后一个尝试的凭证。
	Secret   credential.APISecret
	Attempts int
	Waited   time.Duration
	// Failed 表示 Response 是合成的失败响应。
	Failed bool
}

// Engine 在凭证之间轮换, 对 429/503 做有界退避。
type Engine struct {
	WaitBudget  time.Duration
	MaxBackoff  time.Duration
	BaseBackoff time.Duration
	// MaxErrorBody 限制复述的上游错误体大小。
	MaxErrorBody int64

	Sleep     func(ctx context.Context, d time.Duration) error
	OnAttempt func(Attempt)

	rand  func() float64
	intn  func(int) int
	now   func() time.Time
	calls atomic.Uint64
}

// NewEngine builds an engine from cfg; zero fields fall back to defaults.
func NewEngine(cfg config.RetryConfig) *Engine {
	e := &Engine{
		WaitBudget:   cfg.WaitBudget(),
		MaxBackoff:   cfg.MaxBackoff(),
		BaseBackoff:  cfg.BaseBackoff(),
		MaxErrorBody: 1 << 20,
		Sleep:        sleepCtx,
		rand:         rand.Float64,
		intn:         rand.Intn,
		now:          time.Now,
	}
	if e.WaitBudget <= 0 {
		e.WaitBudget = constants.RetryWaitBudget
	}
	if e.MaxBackoff <= 0 {
		e.MaxBackoff = constants.RetryMaxBackoff
	}
	if e.BaseBackoff <= 0 {
		e.BaseBackoff = constants.RetryBaseBackoff
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do 依次尝试 secrets, 起点随机并环绕。返回错误仅限: 凭证为空、致命
// 传输错误、或 ctx 取消。所有凭证耗尽时返回合成的诊断响应。
func (e *Engine) Do(ctx context.Context, secrets []credential.APISecret, attempt AttemptFunc) (*Outcome, error) {
	n := len(secrets)
	if n == 0 {
		return nil, ErrNoCredentials
	}
	callID := e.calls.Add(1)
	start := e.intn(n)
	logger := log.WithField("call_id", callID)

	var (
		last     Result
		lastSec  credential.APISecret
		attempts int
		waited   time.Duration
		round    int
	)
	for {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				closeResult(last)
				return nil, err
			}
			secret := secrets[(start+i)%n]
			began := e.now()
			res := attempt(ctx, secret)
			attempts++

			ev := Attempt{
				CallID: callID, Index: attempts, Round: round, Secret: secret.DisplayName(),
				Kind: res.Kind, Status: res.Status, Err: res.Err, Latency: e.now().Sub(began),
			}

			switch res.Kind {
			case KindOK:
				closeResult(last)
				e.emit(ctx, ev)
				return &Outcome{Response: res.Response, Secret: secret, Attempts: attempts, Waited: waited}, nil
			case KindFatal:
				closeResult(last)
				e.emit(ctx, ev)
				logger.WithError(res.Err).WithField("secret", ev.Secret).Warn("upstream attempt failed fatally")
				return nil, res.Err
			}

			closeResult(last)
			last, lastSec = res, secret

			if i == n-1 && isThrottle(res.Status) && waited < e.WaitBudget {
				ev.Delay = e.nextDelay(res.Header, round, e.WaitBudget-waited)
			}
			e.emit(ctx, ev)
			logger.WithFields(log.Fields{
				"secret":  ev.Secret,
				"status":  res.Status,
				"attempt": attempts,
			}).Debug("upstream attempt retryable")

			if ev.Delay > 0 {
				closeResult(last)
				last.Response = nil
				if err := e.Sleep(ctx, ev.Delay); err != nil {
					return nil, err
				}
				waited += ev.Delay
				round++
				break
			}
			if i == n-1 {
				return e.failure(last, lastSec, attempts, waited), nil
			}
		}
	}
}

func isThrottle(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

func closeResult(r Result) {
	if r.Response != nil && r.Response.Body != nil {
		_ = r.Response.Body.Close()
	}
}

func (e *Engine) emit(ctx context.Context, a Attempt) {
	tracing.RecordAttempt(ctx, a.Index, a.Secret, a.Kind.String(), a.Status, a.Delay)
	if e.OnAttempt != nil {
		e.OnAttempt(a)
	}
}
