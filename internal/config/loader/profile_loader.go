package loader

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"negotiator/internal/logger"
	"negotiator/internal/pkg/convert"
	"negotiator/internal/strategy"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrUnknownProfile is returned by Resolve for names not in the current snapshot.
var ErrUnknownProfile = errors.New("unknown strategy profile")

// paramsSchema 约束 profile 中的 params 块。
const paramsSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "aspiration_exponent": {"type": "number", "exclusiveMinimum": 0},
    "nash_balance": {"type": "number", "minimum": 0, "maximum": 1},
    "grid_max_quantity": {"type": "integer", "minimum": 1, "maximum": 50}
  }
}`

// ProfileDefinition 描述一个命名的策略参数组合。
type ProfileDefinition struct {
	Name        string         `yaml:"-"`
	Description string         `yaml:"description"`
	Variant     string         `yaml:"variant"`
	Params      map[string]any `yaml:"params"`
	Default     bool           `yaml:"default"`

	// 归一化后的参数（避免运行期重复解析）
	resolved strategy.Params
}

// StrategyParams returns the profile's parameters layered over the base parameters.
func (d ProfileDefinition) StrategyParams() strategy.Params { return d.resolved }

// FileConfig 是完整的 profile 配置文件结构。
type FileConfig struct {
	Profiles map[string]ProfileDefinition `yaml:"profiles"`
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version     int64
	LoadedAt    time.Time
	DefaultName string
	Profiles    map[string]ProfileDefinition
}

// Names returns profile names in sorted order.
func (s ProfileSnapshot) Names() []string {
	out := make([]string, 0, len(s.Profiles))
	for name := range s.Profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(ProfileSnapshot)

// ProfileLoader 负责从 YAML 文件中加载策略 profile，并监听热更新。
type ProfileLoader struct {
	path   string
	base   strategy.Params
	v      *viper.Viper
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// NewProfileLoader 读取配置文件并开始监听 FS 事件。base 为未在 profile 中出现的参数提供取值。
func NewProfileLoader(path string, base strategy.Params) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("base strategy params: %w", err)
	}
	schema, err := compileSchema(paramsSchema)
	if err != nil {
		return nil, fmt.Errorf("compile profile schema: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	loader := &ProfileLoader{path: path, base: base, v: v, schema: schema}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot 返回当前配置快照（深拷贝）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Resolve returns the named profile; an empty name selects the default profile.
func (l *ProfileLoader) Resolve(name string) (ProfileDefinition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	name = strings.TrimSpace(name)
	if name == "" {
		name = l.snapshot.DefaultName
	}
	def, ok := l.snapshot.Profiles[name]
	if !ok {
		return ProfileDefinition{}, fmt.Errorf("%w %q", ErrUnknownProfile, name)
	}
	return def, nil
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer safeRecover("profile listener")
		fn(snap)
	}()
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer safeRecover("profile listener")
			cb(snap)
		}(fn)
	}
}

func (l *ProfileLoader) reload() error {
	fileCfg, err := readProfileFile(l.path)
	if err != nil {
		return err
	}
	if len(fileCfg.Profiles) == 0 {
		return fmt.Errorf("%s defines no profiles", filepath.Base(l.path))
	}
	normalized := make(map[string]ProfileDefinition, len(fileCfg.Profiles))
	defaultName := ""
	for name, def := range fileCfg.Profiles {
		norm, err := l.normalizeProfile(name, def)
		if err != nil {
			return err
		}
		normalized[norm.Name] = norm
		if norm.Default {
			if defaultName != "" {
				return fmt.Errorf("profiles %s and %s are both marked default", defaultName, norm.Name)
			}
			defaultName = norm.Name
		}
	}
	if defaultName == "" {
		names := ProfileSnapshot{Profiles: normalized}.Names()
		defaultName = names[0]
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:     l.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		DefaultName: defaultName,
		Profiles:    normalized,
	}
	l.mu.Unlock()
	logger.Infof("Profile loader reloaded %d strategy profiles from %s (default=%s)", len(normalized), filepath.Base(l.path), defaultName)
	return nil
}

func (l *ProfileLoader) normalizeProfile(name string, def ProfileDefinition) (ProfileDefinition, error) {
	def.Name = strings.TrimSpace(name)
	def.Description = strings.TrimSpace(def.Description)
	params := sanitizeParams(def.Params)
	if err := l.schema.Validate(params); err != nil {
		return def, fmt.Errorf("profile %s params: %w", def.Name, err)
	}
	resolved := l.base
	overlay := paramsOverlay{target: &resolved}
	if err := overlay.decode(params); err != nil {
		return def, fmt.Errorf("profile %s params: %w", def.Name, err)
	}
	if v := strings.TrimSpace(def.Variant); v != "" {
		variant, err := strategy.ParseVariant(v)
		if err != nil {
			return def, fmt.Errorf("profile %s: %w", def.Name, err)
		}
		resolved.Variant = variant
	}
	if err := resolved.Validate(); err != nil {
		return def, fmt.Errorf("profile %s: %w", def.Name, err)
	}
	def.Params = cloneParams(def.Params)
	def.resolved = resolved
	return def, nil
}

// paramsOverlay decodes only the keys present in a profile onto target.
type paramsOverlay struct {
	target *strategy.Params
}

func (o *paramsOverlay) decode(raw any) error {
	var overlay struct {
		AspirationExponent *float64 `mapstructure:"aspiration_exponent"`
		NashBalance        *float64 `mapstructure:"nash_balance"`
		GridMaxQuantity    *int     `mapstructure:"grid_max_quantity"`
	}
	if err := mapstructure.WeakDecode(raw, &overlay); err != nil {
		return err
	}
	if overlay.AspirationExponent != nil {
		o.target.AspirationExponent = *overlay.AspirationExponent
	}
	if overlay.NashBalance != nil {
		o.target.NashBalance = *overlay.NashBalance
	}
	if overlay.GridMaxQuantity != nil {
		o.target.GridMaxQuantity = *overlay.GridMaxQuantity
	}
	return nil
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read profile config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse profile config failed: %w", err)
	}
	return cfg, nil
}

func compileSchema(raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("profile_params.json", strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("profile_params.json")
}

// sanitizeParams 把 YAML 解码出的数值统一为 JSON 数值类型，字符串形式的数字转为 float64。
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case string:
		if num, err := convert.ParseFloat(val); err == nil {
			return num
		}
		return val
	default:
		if num, ok := convert.ToFloat64(val); ok {
			return num
		}
		return val
	}
}

func cloneParams(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := ProfileSnapshot{
		Version:     src.Version,
		LoadedAt:    src.LoadedAt,
		DefaultName: src.DefaultName,
		Profiles:    make(map[string]ProfileDefinition, len(src.Profiles)),
	}
	for name, def := range src.Profiles {
		def.Params = cloneParams(def.Params)
		dst.Profiles[name] = def
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
