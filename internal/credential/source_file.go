package credential

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type secretsFile struct {
	Secrets []APISecret `yaml:"secrets"`
}

// FileSource 从 YAML 文件加载上游凭证，支持热重载。
type FileSource struct {
	path string

	mu      sync.RWMutex
	secrets []APISecret
	lastMod time.Time
}

// NewFileSource 读取 path 并返回来源。文件解析失败时返回错误。
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: filepath.Clean(path)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticSource 使用内存中的凭证列表构造来源（测试与嵌入场景）。
func NewStaticSource(secrets []APISecret) *FileSource {
	return &FileSource{secrets: secrets}
}

// GetSecrets 返回调用方可用、且支持该模型的凭证。
func (s *FileSource) GetSecrets(_ context.Context, q Lookup) ([]APISecret, error) {
	if q.AuthToken == "" {
		return nil, ErrUnauthorized
	}
	s.mu.RLock()
	all := s.secrets
	s.mu.RUnlock()

	scoped := false
	out := make([]APISecret, 0, len(all))
	for _, sec := range all {
		if !authorized(sec, q) {
			continue
		}
		scoped = true
		if MatchesModel(sec, q.Model) {
			out = append(out, sec)
		}
	}
	if !scoped && len(all) > 0 {
		return nil, ErrUnauthorized
	}
	return out, nil
}

// Len 返回当前加载的凭证数。
func (s *FileSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.secrets)
}

func (s *FileSource) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read secrets file: %w", err)
	}
	var f secretsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse secrets file: %w", err)
	}
	for i := range f.Secrets {
		if f.Secrets[i].ID == "" {
			f.Secrets[i].ID = fmt.Sprintf("%s-%d", f.Secrets[i].Type, i)
		}
		if err := validate(f.Secrets[i]); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.secrets = f.Secrets
	if info, err := os.Stat(s.path); err == nil {
		s.lastMod = info.ModTime()
	}
	s.mu.Unlock()
	log.WithFields(log.Fields{"path": s.path, "count": len(f.Secrets)}).Info("secrets loaded")
	return nil
}

// Watch reloads the file on change until ctx is done. A failed reload keeps
// the previous snapshot.
func (s *FileSource) Watch(ctx context.Context) {
	if s.path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("secrets watcher unavailable, falling back to polling")
		go s.poll(ctx)
		return
	}
	// 监听目录以捕获原子替换（rename）
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		log.WithError(err).WithField("path", s.path).Warn("failed to watch secrets directory, falling back to polling")
		_ = watcher.Close()
		go s.poll(ctx)
		return
	}
	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != s.path || evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, s.reloadLogged)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("secrets watcher error")
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()
}

func (s *FileSource) poll(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			info, err := os.Stat(s.path)
			if err != nil {
				continue
			}
			s.mu.RLock()
			changed := info.ModTime().After(s.lastMod)
			s.mu.RUnlock()
			if changed {
				s.reloadLogged()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *FileSource) reloadLogged() {
	if err := s.reload(); err != nil {
		log.WithError(err).WithField("path", s.path).Warn("failed to reload secrets; keeping previous set")
	}
}
