package scripts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/logger"
)

// Output 脚本输出的目标
type Output interface {
	Print(text string)
	PPrint(v interface{})
	Clear()
}

// Host 脚本可以调用的语料库操作
type Host interface {
	Name() string
	Path() string
	SendPrompt(ctx context.Context, text string) (string, error)
	Search(ctx context.Context, text string, k int) ([]string, error)
	ListDocs(ctx context.Context, allDocs bool, docSet string) ([]string, error)
	AddAnnotation(ctx context.Context, title, text string) (uint, string, error)
}

// Func Go实现的脚本，非nil的返回值交给调用方
type Func func(ctx context.Context, host Host, out Output, args []string) (interface{}, error)

// Script 目录中发现的或注册的脚本
type Script struct {
	Name string
	Path string
	fn   Func
}

// Builtin 是否为注册的Go脚本
func (s *Script) Builtin() bool {
	return s.fn != nil
}

// Catalog 脚本目录，可执行文件以去掉扩展名的文件名为脚本名
type Catalog struct {
	dir     string
	logger  *zap.Logger
	mu      sync.RWMutex
	files   map[string]*Script
	funcs   map[string]*Script
	watcher *fsnotify.Watcher
}

// NewCatalog 创建脚本目录
func NewCatalog(dir string, log *zap.Logger) *Catalog {
	if log == nil {
		log = logger.Named("scripts")
	}
	return &Catalog{
		dir:    dir,
		logger: log,
		files:  make(map[string]*Script),
		funcs:  make(map[string]*Script),
	}
}

// Dir 脚本目录
func (c *Catalog) Dir() string {
	return c.dir
}

// RegisterFunc 注册Go脚本，与文件同名时优先
func (c *Catalog) RegisterFunc(name string, fn Func) error {
	if strings.TrimSpace(name) == "" || fn == nil {
		return apperrors.NewInvalidParameters("script name and function are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs[name] = &Script{Name: name, fn: fn}
	return nil
}

// Scan 重新扫描目录，目录不存在时目录为空
func (c *Catalog) Scan() error {
	found := make(map[string]*Script)
	entries, err := os.ReadDir(c.dir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if _, dup := found[name]; dup {
			c.logger.Warn("duplicate script name", zap.String("name", name), zap.String("file", entry.Name()))
			continue
		}
		found[name] = &Script{Name: name, Path: filepath.Join(c.dir, entry.Name())}
	}

	c.mu.Lock()
	c.files = found
	c.mu.Unlock()
	c.logger.Debug("scripts scanned", zap.String("dir", c.dir), zap.Int("count", len(found)))
	return nil
}

// Lookup 按名称查找脚本
func (c *Catalog) Lookup(name string) (*Script, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.funcs[name]; ok {
		return s, true
	}
	s, ok := c.files[name]
	return s, ok
}

// Names 全部脚本名，已排序
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{}, len(c.files)+len(c.funcs))
	for name := range c.files {
		seen[name] = struct{}{}
	}
	for name := range c.funcs {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run 执行脚本，失败包装为ScriptExecution；子进程脚本没有返回值
func (c *Catalog) Run(ctx context.Context, name string, host Host, out Output, args []string) (interface{}, error) {
	script, ok := c.Lookup(name)
	if !ok {
		return nil, apperrors.NewInvalidParameters("script %q not found in %s", name, c.dir)
	}

	c.logger.Info("running script", zap.String("name", name), zap.Strings("args", args))
	var (
		result interface{}
		err    error
	)
	if script.Builtin() {
		result, err = callFunc(ctx, script.fn, host, out, args)
	} else {
		err = runProcess(ctx, script.Path, host, out, args)
	}
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, apperrors.NewCancelledError("script "+name, ctx.Err())
	}
	if apperrors.HasCode(err, apperrors.ErrCodeScriptExecution) {
		return nil, err
	}
	return nil, apperrors.NewScriptError(name, err)
}

// callFunc panic转换为错误返回
func callFunc(ctx context.Context, fn Func, host Host, out Output, args []string) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, host, out, args)
}

// Watch 目录变化时重新扫描，直到ctx结束或Close
func (c *Catalog) Watch(ctx context.Context) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(c.dir); err != nil {
		w.Close()
		return err
	}

	c.mu.Lock()
	if c.watcher != nil {
		c.watcher.Close()
	}
	c.watcher = w
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				w.Close()
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
					continue
				}
				if err := c.Scan(); err != nil {
					c.logger.Warn("rescan scripts failed", zap.Error(err))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.logger.Warn("script watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close 停止监听
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	c.watcher = nil
	return err
}
