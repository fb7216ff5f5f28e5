package out

import (
	"context"
	"fmt"
	"sort"

	"attacher/internal/modules/attach/domain"
	attachout "attacher/internal/modules/attach/port/out"
	"attacher/internal/platform/checksum"
)

// PluginOpener starts an out-of-process controller described by a manifest.
type PluginOpener interface {
	Open(ctx context.Context, manifest domain.Manifest) (attachout.Controller, error)
}

type builtin struct {
	factory attachout.Factory
	detail  string
}

// Registry resolves controllers by name. Built-in controllers are fixed when
// the registry is built; plugin manifests are read at resolution time.
type Registry struct {
	builtins map[string]builtin
	names    []string
	store    attachout.ManifestStore
	opener   PluginOpener
}

type registryBuilder struct {
	builtins map[string]builtin
	store    attachout.ManifestStore
	opener   PluginOpener
	errors   []error
}

type RegistryOption func(*registryBuilder)

// WithController registers a built-in factory under name.
func WithController(name, detail string, factory attachout.Factory) RegistryOption {
	return func(b *registryBuilder) {
		if name == "" {
			b.errors = append(b.errors, fmt.Errorf("controller name is required"))
			return
		}
		if factory == nil {
			b.errors = append(b.errors, fmt.Errorf("controller %q has no factory", name))
			return
		}
		if _, exists := b.builtins[name]; exists {
			b.errors = append(b.errors, fmt.Errorf("controller %q already registered", name))
			return
		}
		b.builtins[name] = builtin{factory: factory, detail: detail}
	}
}

// WithPlugins enables manifest-backed controllers.
func WithPlugins(store attachout.ManifestStore, opener PluginOpener) RegistryOption {
	return func(b *registryBuilder) {
		b.store = store
		b.opener = opener
	}
}

func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	b := &registryBuilder{builtins: map[string]builtin{}}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	names := make([]string, 0, len(b.builtins))
	for name := range b.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Registry{builtins: b.builtins, names: names, store: b.store, opener: b.opener}, nil
}

var _ attachout.Registry = (*Registry)(nil)

func (r *Registry) Resolve(ctx context.Context, name string) (attachout.Controller, error) {
	if entry, ok := r.builtins[name]; ok {
		controller, err := entry.factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("create controller %q: %w", name, err)
		}
		return controller, nil
	}
	manifest, err := r.findManifest(ctx, name)
	if err != nil {
		return nil, err
	}
	if !manifest.Enabled {
		return nil, fmt.Errorf("%w: %s", domain.ErrPluginDisabled, name)
	}
	if !manifest.HasCapability(domain.CapabilityAttach) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCapabilityMissing, domain.CapabilityAttach)
	}
	actual, err := checksum.File(manifest.Binary)
	if err != nil {
		return nil, fmt.Errorf("read controller binary: %w", err)
	}
	if actual != manifest.SHA256 {
		return nil, fmt.Errorf("%w: %s", domain.ErrChecksumMismatch, manifest.Name)
	}
	return r.opener.Open(ctx, manifest)
}

func (r *Registry) List(ctx context.Context) ([]domain.ControllerInfo, error) {
	out := make([]domain.ControllerInfo, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, domain.ControllerInfo{Name: name, Source: domain.SourceBuiltin, Detail: r.builtins[name].detail})
	}
	manifests, err := r.manifests(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range manifests {
		detail := fmt.Sprintf("%s@%s enabled=%t", m.Binary, m.Version, m.Enabled)
		out = append(out, domain.ControllerInfo{Name: m.Name, Source: domain.SourcePlugin, Detail: detail})
	}
	return out, nil
}

func (r *Registry) findManifest(ctx context.Context, name string) (domain.Manifest, error) {
	manifests, err := r.manifests(ctx)
	if err != nil {
		return domain.Manifest{}, err
	}
	for _, m := range manifests {
		if m.Name == name {
			return m, nil
		}
	}
	return domain.Manifest{}, fmt.Errorf("%w: %q", domain.ErrControllerNotFound, name)
}

func (r *Registry) manifests(ctx context.Context) ([]domain.Manifest, error) {
	if r.store == nil || r.opener == nil {
		return nil, nil
	}
	manifests, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, m := range manifests {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.builtins[m.Name]; ok {
			return nil, fmt.Errorf("controller plugin %q shadows a built-in controller", m.Name)
		}
		if _, ok := seen[m.Name]; ok {
			return nil, fmt.Errorf("duplicate controller plugin name: %s", m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return manifests, nil
}
