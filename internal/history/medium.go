package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryMedium：进程内介质，用于测试与无状态部署
type MemoryMedium struct {
	mu sync.Mutex
	m  map[string][]byte
}

func NewMemoryMedium() *MemoryMedium { return &MemoryMedium{m: make(map[string][]byte)} }

func (m *MemoryMedium) Load(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.m[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryMedium) Save(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryMedium) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
	return nil
}

// 文档注释：文件介质
// 背景：每个键对应目录下一个 JSON 文件；写入先落临时文件再 rename，保证读到的要么是旧内容要么是新内容。
// 约束：键中的路径分隔符与冒号被替换为下划线。
type FileMedium struct {
	dir string
}

func NewFileMedium(dir string) (*FileMedium, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileMedium{dir: dir}, nil
}

func (f *FileMedium) path(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return filepath.Join(f.dir, r.Replace(key)+".json")
}

func (f *FileMedium) Load(key string) ([]byte, error) {
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

func (f *FileMedium) Save(key string, data []byte) error {
	p := f.path(key)
	tmp, err := os.CreateTemp(f.dir, ".history-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (f *FileMedium) Delete(key string) error {
	err := os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// 文档注释：Redis 介质
// 背景：多实例共享同一份历史时使用；每次调用带独立超时，Medium 契约是同步的。
type RedisMedium struct {
	rc      *redis.Client
	timeout time.Duration
}

func NewRedisMedium(rc *redis.Client, timeout time.Duration) *RedisMedium {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisMedium{rc: rc, timeout: timeout}
}

func (r *RedisMedium) Load(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	b, err := r.rc.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

func (r *RedisMedium) Save(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.rc.Set(ctx, key, data, 0).Err()
}

func (r *RedisMedium) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.rc.Del(ctx, key).Err()
}
