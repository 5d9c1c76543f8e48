package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"geosearch/internal/geo"
)

// 文档注释：种子文件目录源
// 背景：无数据库的演示或离线部署使用 JSON 数组形式的实体列表；每次刷新重新读取文件，便于手工修改后生效。
// 约束：文件不存在时返回空列表而非错误。
type FileLoader struct {
	Path string
}

func (f FileLoader) Load(ctx context.Context) ([]geo.Entity, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var es []geo.Entity
	if err := json.Unmarshal(b, &es); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	return es, nil
}
