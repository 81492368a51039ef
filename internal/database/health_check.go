package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthChecker 状态库健康检查器
type HealthChecker struct {
	db         *sql.DB
	logger     *logrus.Logger
	timeout    time.Duration
	retryDelay time.Duration
	maxRetries int
	isHealthy  bool
	lastCheck  time.Time
	lastError  error
	mu         sync.RWMutex
}

// HealthCheckResult 健康检查结果
type HealthCheckResult struct {
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	LastError    string    `json:"last_error,omitempty"`
	ResponseTime string    `json:"response_time,omitempty"`
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(db *sql.DB, logger *logrus.Logger) *HealthChecker {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &HealthChecker{
		db:         db,
		logger:     logger,
		timeout:    5 * time.Second,
		retryDelay: 200 * time.Millisecond,
		maxRetries: 3,
	}
}

// SetRetryConfig 设置重试配置
func (hc *HealthChecker) SetRetryConfig(delay time.Duration, maxRetries int) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.retryDelay = delay
	hc.maxRetries = maxRetries
}

// Check 执行单次健康检查
func (hc *HealthChecker) Check(ctx context.Context) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	err := hc.db.PingContext(ctx)
	responseTime := time.Since(start)

	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lastCheck = time.Now()
	if err != nil {
		hc.lastError = err
		hc.isHealthy = false
		hc.logger.WithFields(logrus.Fields{
			"error":         err.Error(),
			"response_time": responseTime,
		}).Warn("State database health check failed")
		return err
	}
	hc.lastError = nil
	hc.isHealthy = true
	hc.logger.WithField("response_time", responseTime).Debug("State database health check passed")
	return nil
}

// WaitForHealthy 带退避重试直到检查通过
func (hc *HealthChecker) WaitForHealthy(ctx context.Context) error {
	hc.mu.RLock()
	delay, retries := hc.retryDelay, hc.maxRetries
	hc.mu.RUnlock()

	err := hc.Check(ctx)
	for i := 0; err != nil && i < retries; i++ {
		hc.logger.WithField("attempt", i+1).Info("Retrying state database connection")
		select {
		case <-time.After(delay * time.Duration(i+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
		err = hc.Check(ctx)
	}
	return err
}

// IsHealthy 当前健康状态
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.isHealthy
}

// GetHealthResult 获取健康检查结果
func (hc *HealthChecker) GetHealthResult() HealthCheckResult {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	result := HealthCheckResult{
		Healthy:   hc.isHealthy,
		LastCheck: hc.lastCheck,
	}
	if hc.lastError != nil {
		result.LastError = hc.lastError.Error()
	}
	return result
}
