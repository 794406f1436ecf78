package strategy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"backlab/internal/logger"
)

// libraryFile 映射策略定义文件。
type libraryFile struct {
	Strategies map[string]Definition `yaml:"strategies"`
}

// LibrarySnapshot 某一时刻的定义集。
type LibrarySnapshot struct {
	Version     int64
	LoadedAt    time.Time
	Definitions map[string]Definition
}

// LibraryListener 在定义文件热重载后触发。
type LibraryListener func(LibrarySnapshot)

// Library 从 YAML 文件装载声明式策略定义并监听文件变更。
// 定义坏了只记日志不替换快照，正在跑的回测不受影响。
type Library struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  LibrarySnapshot
	listeners []LibraryListener
}

// NewLibrary 读取定义文件并开始监听。
func NewLibrary(path string) (*Library, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy library requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy library failed: %w", err)
	}
	lib := &Library{path: path, v: v}
	if err := lib.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := lib.reload(); err != nil {
			logger.Errorf("strategy library reload failed: %v", err)
			return
		}
		lib.notifyListeners()
	})
	v.WatchConfig()
	return lib, nil
}

// Snapshot 当前定义集。
func (l *Library) Snapshot() LibrarySnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneLibrarySnapshot(l.snapshot)
}

// Definition 按 ID 取定义。
func (l *Library) Definition(id string) (Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.snapshot.Definitions[strings.TrimSpace(id)]
	return def, ok
}

// IDs 已装载的定义 ID，排序稳定。
func (l *Library) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.snapshot.Definitions))
	for id := range l.snapshot.Definitions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Strategy 按 ID 构造可评估策略。
func (l *Library) Strategy(id string) (Strategy, error) {
	def, ok := l.Definition(id)
	if !ok {
		return nil, configErrf("unknown strategy definition %q", id)
	}
	return NewComposable(def)
}

// OnChange 注册热重载回调。
func (l *Library) OnChange(fn LibraryListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *Library) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read strategy library failed: %w", err)
	}
	var file libraryFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("parse strategy library failed: %w", err)
	}

	defs := make(map[string]Definition, len(file.Strategies))
	for name, def := range file.Strategies {
		if strings.TrimSpace(def.ID) == "" {
			def.ID = strings.TrimSpace(name)
		}
		// 装载时即走完整校验，坏定义拒绝整个文件。
		if _, err := NewComposable(def); err != nil {
			return fmt.Errorf("strategy %q: %w", def.ID, err)
		}
		defs[def.ID] = def
	}

	l.mu.Lock()
	l.snapshot = LibrarySnapshot{
		Version:     l.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		Definitions: defs,
	}
	l.mu.Unlock()
	logger.Infof("strategy library loaded %d definitions from %s", len(defs), filepath.Base(l.path))
	return nil
}

func (l *Library) notifyListeners() {
	l.mu.RLock()
	snap := cloneLibrarySnapshot(l.snapshot)
	listeners := append([]LibraryListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb LibraryListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("strategy library listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func cloneLibrarySnapshot(src LibrarySnapshot) LibrarySnapshot {
	dst := LibrarySnapshot{
		Version:     src.Version,
		LoadedAt:    src.LoadedAt,
		Definitions: make(map[string]Definition, len(src.Definitions)),
	}
	for id, def := range src.Definitions {
		dst.Definitions[id] = def
	}
	return dst
}
