package di

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/corpus-go/internal/config"
	"github.com/aihub/corpus-go/internal/logger"
	"github.com/aihub/corpus-go/internal/metrics"
)

// Options 构建容器需要的外部输入
type Options struct {
	Config  *config.CorpusConfig
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Container 一个语料库的依赖注入容器，组件按需创建，Close按创建的逆序释放
type Container struct {
	dig    *dig.Container
	ctx    context.Context
	logger *zap.Logger

	mu       sync.Mutex
	cleanups []func() error
}

// New 创建容器并注册全部提供者，ctx用于provider的初始化调用
func New(ctx context.Context, opts Options) (*Container, error) {
	if opts.Config == nil {
		return nil, errors.New("di: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}

	c := &Container{
		dig:    dig.New(),
		ctx:    ctx,
		logger: opts.Logger,
	}
	if err := c.registerProviders(opts); err != nil {
		return nil, err
	}
	return c, nil
}

// Invoke 封装dig.Invoke，错误中去掉dig的包装
func (c *Container) Invoke(function interface{}, opts ...dig.InvokeOption) error {
	if err := c.dig.Invoke(function, opts...); err != nil {
		return dig.RootCause(err)
	}
	return nil
}

// Provide 封装dig.Provide
func (c *Container) Provide(constructor interface{}, opts ...dig.ProvideOption) error {
	return c.dig.Provide(constructor, opts...)
}

func (c *Container) onClose(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, fn)
}

// Close 释放已创建的组件
func (c *Container) Close() error {
	c.mu.Lock()
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
