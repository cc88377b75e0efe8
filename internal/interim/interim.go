// Package interim 在步骤之间持久化中间 JSON（UTF-8，保留非 ASCII，缩进 2）。
package interim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/firstsmile-dev/Excel-AI-project/internal/atomicfile"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// 默认文件名。
const (
	InputFile      = "target_macro_input.json"
	OutputFile     = "target_macro_output.json"
	NormalizedFile = "target_macro_normalized.json"
)

// Store: 中间文件所在目录与文件名。
type Store struct {
	Dir        string
	Input      string
	Output     string
	Normalized string
}

// NewStore 用默认文件名构造；dir 为空表示当前目录。
func NewStore(dir string) Store {
	return Store{Dir: dir, Input: InputFile, Output: OutputFile, Normalized: NormalizedFile}
}

// Path 将文件名解析到 Dir 下；绝对路径原样返回。
func (s Store) Path(name string) string {
	if filepath.IsAbs(name) || s.Dir == "" {
		return name
	}
	return filepath.Join(s.Dir, name)
}

func (s Store) SaveRows(ctx context.Context, rows []contract.RegistryRow) (string, error) {
	p := s.Path(s.Input)
	return p, Write(ctx, p, nonNil(rows))
}

func (s Store) LoadRows() ([]contract.RegistryRow, error) {
	return Read[[]contract.RegistryRow](s.Path(s.Input))
}

func (s Store) SaveOutput(ctx context.Context, recs []contract.TitleRecord) (string, error) {
	p := s.Path(s.Output)
	return p, Write(ctx, p, nonNil(recs))
}

func (s Store) LoadOutput() ([]contract.TitleRecord, error) {
	return Read[[]contract.TitleRecord](s.Path(s.Output))
}

func (s Store) SaveNormalized(ctx context.Context, recs []contract.TitleRecord) (string, error) {
	p := s.Path(s.Normalized)
	return p, Write(ctx, p, nonNil(recs))
}

func (s Store) LoadNormalized() ([]contract.TitleRecord, error) {
	return Read[[]contract.TitleRecord](s.Path(s.Normalized))
}

// 空切片写成 [] 而不是 null。
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// Marshal 以 UTF-8 编码 v：不转义 HTML 与非 ASCII，缩进 2，末尾换行。
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write 原子写出 v。
func Write(ctx context.Context, path string, v any) error {
	b, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("interim encode %s: %w", path, err)
	}
	if err := atomicfile.WriteFile(ctx, path, b, 0o644); err != nil {
		return fmt.Errorf("interim write: %w", err)
	}
	return nil
}

// Read 读取并解码。文件不存在视为配置错误（前一步尚未运行）。
func Read[T any](path string) (T, error) {
	var v T
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, fmt.Errorf("%w: interim file %s missing (run the previous step first)", contract.ErrConfig, path)
		}
		return v, fmt.Errorf("interim read %s: %w", path, err)
	}
	b = bytes.TrimPrefix(b, []byte("\xEF\xBB\xBF"))
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("interim %s: %w: %v", path, contract.ErrDecode, err)
	}
	return v, nil
}
