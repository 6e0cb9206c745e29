package services

import (
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState 熔断器状态
type CircuitBreakerState int

const (
	StateClosedCB   CircuitBreakerState = iota // 关闭状态（正常）
	StateOpenCB                                // 开启状态（熔断）
	StateHalfOpenCB                            // 半开状态（试探）
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosedCB:
		return "closed"
	case StateOpenCB:
		return "open"
	case StateHalfOpenCB:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	MaxFailures     int           `mapstructure:"max_failures"`
	ResetTimeout    time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMaxReqs int           `mapstructure:"half_open_max_reqs"`
}

// DefaultCircuitBreakerConfig 默认熔断器配置
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:     5,
		ResetTimeout:    60 * time.Second,
		HalfOpenMaxReqs: 3,
	}
}

// CircuitBreaker guards a flaky dependency (the mail broker).
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	state        CircuitBreakerState
	failureCount int
	lastFailTime time.Time
	halfOpenReqs int
	now          func() time.Time
	mutex        sync.Mutex
}

// NewCircuitBreaker 使用默认配置
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithConfig(DefaultCircuitBreakerConfig())
}

// NewCircuitBreakerWithConfig fills zero fields from the defaults.
func NewCircuitBreakerWithConfig(cfg *CircuitBreakerConfig) *CircuitBreaker {
	c := *DefaultCircuitBreakerConfig()
	if cfg != nil {
		if cfg.MaxFailures > 0 {
			c.MaxFailures = cfg.MaxFailures
		}
		if cfg.ResetTimeout > 0 {
			c.ResetTimeout = cfg.ResetTimeout
		}
		if cfg.HalfOpenMaxReqs > 0 {
			c.HalfOpenMaxReqs = cfg.HalfOpenMaxReqs
		}
	}
	return &CircuitBreaker{config: c, state: StateClosedCB, now: time.Now}
}

// Allow 检查是否允许请求通过
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosedCB:
		return true
	case StateOpenCB:
		if cb.now().Sub(cb.lastFailTime) > cb.config.ResetTimeout {
			cb.state = StateHalfOpenCB
			cb.halfOpenReqs = 1
			return true
		}
		return false
	case StateHalfOpenCB:
		if cb.halfOpenReqs < cb.config.HalfOpenMaxReqs {
			cb.halfOpenReqs++
			return true
		}
		return false
	default:
		return false
	}
}

// OnSuccess 记录成功请求
func (cb *CircuitBreaker) OnSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.state = StateClosedCB
	cb.failureCount = 0
	cb.halfOpenReqs = 0
}

// OnFailure 记录失败请求；半开状态下失败立即重新熔断
func (cb *CircuitBreaker) OnFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailTime = cb.now()

	switch cb.state {
	case StateClosedCB:
		if cb.failureCount >= cb.config.MaxFailures {
			cb.state = StateOpenCB
		}
	case StateHalfOpenCB:
		cb.state = StateOpenCB
		cb.halfOpenReqs = 0
	}
}

// Do runs fn when allowed and records the outcome.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if !cb.Allow() {
		return fmt.Errorf("%w: circuit %s", ErrDependencyUnavailable, cb.State())
	}
	if err := fn(); err != nil {
		cb.OnFailure()
		return err
	}
	cb.OnSuccess()
	return nil
}

// State 获取当前状态
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// FailureCount 获取失败计数
func (cb *CircuitBreaker) FailureCount() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failureCount
}

// Reset 重置熔断器
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.state = StateClosedCB
	cb.failureCount = 0
	cb.halfOpenReqs = 0
}
