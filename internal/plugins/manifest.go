package plugins

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/aihub/corpus-go/internal/errors"
)

// ManifestFile 插件目录中的清单文件名
const ManifestFile = "manifest.json"

// Manifest 外部插件进程的声明
type Manifest struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Exports     []string          `json:"exports"`
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env"`
	Checksum    string            `json:"checksum,omitempty"` // 可执行文件SHA256
}

// LoadManifest 读取并校验manifest.json
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewInvalidProviderConfig("failed to read manifest %s", path).WithCause(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperrors.NewInvalidProviderConfig("failed to parse manifest %s", path).WithCause(err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return apperrors.NewInvalidProviderConfig("manifest name is required")
	}
	if m.Command == "" {
		return apperrors.NewInvalidProviderConfig("plugin %s: manifest command is required", m.Name)
	}
	if len(m.Exports) == 0 {
		return apperrors.NewInvalidProviderConfig("plugin %s: manifest exports cannot be empty", m.Name)
	}
	for _, e := range m.Exports {
		if e != CapabilityEmbeddings && e != CapabilityLLM {
			return apperrors.NewInvalidProviderConfig("plugin %s: capability %q cannot be served by an external process", m.Name, e)
		}
	}
	return nil
}

// CommandPath 相对命令以插件目录为基准
func (m *Manifest) CommandPath(dir string) string {
	if filepath.IsAbs(m.Command) {
		return m.Command
	}
	candidate := filepath.Join(dir, m.Command)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return m.Command
}

// VerifyChecksum 校验可执行文件
func (m *Manifest) VerifyChecksum(dir string) error {
	if m.Checksum == "" {
		return nil
	}
	file, err := os.Open(m.CommandPath(dir))
	if err != nil {
		return apperrors.NewInvalidProviderConfig("plugin %s: cannot open command", m.Name).WithCause(err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return fmt.Errorf("hash plugin command: %w", err)
	}
	actual := hex.EncodeToString(hash.Sum(nil))
	if !strings.EqualFold(actual, m.Checksum) {
		return apperrors.NewInvalidProviderConfig("plugin %s: checksum mismatch: expected %s, got %s", m.Name, m.Checksum, actual)
	}
	return nil
}
