// Package atomicfile 以"同目录临时文件 + 替换"的方式整体写入文件。
package atomicfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile 把 data 一次写入 path：同目录 .tmp-* 临时文件，Sync 后替换目标。
// 任一步失败都会清理临时文件，目标文件保持原状。
func WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if perm != 0 {
		_ = os.Chmod(tmpPath, perm)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := osReplace(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	ok = true
	_ = syncDir(dir)
	return nil
}
