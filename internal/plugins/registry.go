package plugins

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/logger"
)

// ProviderType provider来源
type ProviderType string

const (
	ProviderTypeBuiltin ProviderType = "builtin"
	ProviderTypePlugin  ProviderType = "plugin"
)

// Provider 按名称暴露能力
type Provider interface {
	Capability(name string) (interface{}, bool)
}

// CapabilityMap 内置provider的能力表
type CapabilityMap map[string]interface{}

func (m CapabilityMap) Capability(name string) (interface{}, bool) {
	v, ok := m[name]
	return v, ok
}

// ProviderInfo 注册表条目，Exports之外的能力不可解析
type ProviderInfo struct {
	Name    string       `json:"name"`
	Type    ProviderType `json:"type"`
	Exports []string     `json:"exports"`
	Handle  Provider     `json:"-"`
}

// exports 是否声明导出了capability
func (p *ProviderInfo) exports(capability string) bool {
	for _, e := range p.Exports {
		if e == capability {
			return true
		}
	}
	return false
}

// LoadFailure 单个插件的加载失败
type LoadFailure struct {
	Dir string
	Err error
}

// LoadOptions 插件目录扫描配置
type LoadOptions struct {
	StartTimeout time.Duration
}

// Registry provider注册表
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*ProviderInfo
	logger    *zap.Logger
}

// NewRegistry 创建注册表
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = logger.Named("plugins")
	}
	return &Registry{
		providers: make(map[string]*ProviderInfo),
		logger:    log,
	}
}

// Register 注册provider，同名时后注册的覆盖先注册的
func (r *Registry) Register(info ProviderInfo) error {
	if info.Name == "" {
		return apperrors.NewInvalidProviderConfig("provider name is missing")
	}
	if info.Handle == nil {
		return apperrors.NewInvalidProviderConfig("provider %s has no handle", info.Name)
	}
	if info.Type == "" {
		info.Type = ProviderTypeBuiltin
	}
	exports := append([]string(nil), info.Exports...)
	info.Exports = exports

	r.mu.Lock()
	old, replaced := r.providers[info.Name]
	r.providers[info.Name] = &info
	r.mu.Unlock()

	if replaced {
		r.logger.Info("provider replaced", zap.String("provider", info.Name), zap.String("type", string(info.Type)))
		closeHandle(old.Handle, info.Handle)
	}
	return nil
}

func closeHandle(old, current Provider) {
	if old == nil {
		return
	}
	if c, ok := old.(io.Closer); ok {
		if cur, same := current.(io.Closer); same && cur == c {
			return
		}
		_ = c.Close()
	}
}

// Get 按名称查找provider
func (r *Registry) Get(name string) (*ProviderInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.providers[name]
	if !ok {
		return nil, apperrors.NewNotFoundError("provider", name)
	}
	copied := *info
	return &copied, nil
}

// List 已注册provider，按名称排序
func (r *Registry) List() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderInfo, 0, len(r.providers))
	for _, info := range r.providers {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolveCapability 只返回已在Exports中声明的能力
func (r *Registry) ResolveCapability(provider, capability string) (interface{}, error) {
	info, err := r.Get(provider)
	if err != nil {
		return nil, err
	}
	if !info.exports(capability) {
		return nil, apperrors.NewNotFoundError("capability", provider+"."+capability)
	}
	handle, ok := info.Handle.Capability(capability)
	if !ok || handle == nil {
		return nil, apperrors.NewNotImplemented("provider %s declares %s but does not implement it", provider, capability)
	}
	return handle, nil
}

// RegisterFromDirectory 加载dir下每个子目录中的manifest.json，单个失败不影响其余插件
func (r *Registry) RegisterFromDirectory(ctx context.Context, dir string, opts LoadOptions) []LoadFailure {
	manifests, err := filepath.Glob(filepath.Join(dir, "*", ManifestFile))
	if err != nil {
		return []LoadFailure{{Dir: dir, Err: err}}
	}
	if len(manifests) == 0 {
		if _, statErr := os.Stat(dir); statErr == nil {
			r.logger.Debug("no plugins found", zap.String("dir", dir))
		}
		return nil
	}
	sort.Strings(manifests)

	var failures []LoadFailure
	for _, path := range manifests {
		pluginDir := filepath.Dir(path)
		info, err := r.load(ctx, path, opts)
		if err == nil {
			err = r.Register(*info)
		}
		if err != nil {
			r.logger.Error("failed to load plugin", zap.String("dir", pluginDir), zap.Error(err))
			failures = append(failures, LoadFailure{Dir: pluginDir, Err: err})
			continue
		}
		r.logger.Info("plugin registered",
			zap.String("provider", info.Name),
			zap.Strings("exports", info.Exports))
	}
	return failures
}

func (r *Registry) load(ctx context.Context, manifestPath string, opts LoadOptions) (*ProviderInfo, error) {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	remote, err := Launch(ctx, manifest, filepath.Dir(manifestPath), opts.StartTimeout, r.logger)
	if err != nil {
		return nil, err
	}
	return &ProviderInfo{
		Name:    manifest.Name,
		Type:    ProviderTypePlugin,
		Exports: manifest.Exports,
		Handle:  remote,
	}, nil
}

// Close 关闭全部持有外部资源的provider
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, info := range r.providers {
		if c, ok := info.Handle.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(r.providers, name)
	}
	return firstErr
}
