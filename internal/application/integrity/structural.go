package integrity

import (
	"sort"
	"strings"
	"sync"

	"github.com/pocketpaws/securecore/internal/domain/shared"
	"github.com/pocketpaws/securecore/pkg/crypto"
)

// TypeManifest describes the observable shape of a registered component:
// a stable type identifier plus its member names. A provider rebuilds it
// on demand so the periodic check sees the live shape, not a snapshot.
type TypeManifest struct {
	TypeID  string
	Members []string
}

// ManifestProvider returns the current manifest of a component.
type ManifestProvider func() TypeManifest

// digest produces a canonical digest of the manifest. Member order is
// not significant.
func (t TypeManifest) digest() string {
	members := append([]string(nil), t.Members...)
	sort.Strings(members)
	return crypto.HashHex([]byte(t.TypeID + "\x00" + strings.Join(members, "\x00")))
}

type structureEntry struct {
	provider ManifestProvider
	baseline string
	reported bool
}

// structureSet holds the registered type manifests and their baselines.
type structureSet struct {
	mu      sync.Mutex
	entries map[string]*structureEntry
}

func newStructureSet() *structureSet {
	return &structureSet{entries: make(map[string]*structureEntry)}
}

func (s *structureSet) register(provider ManifestProvider) string {
	manifest := provider()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[manifest.TypeID] = &structureEntry{
		provider: provider,
		baseline: manifest.digest(),
	}
	return manifest.TypeID
}

// check recomputes every digest against its baseline. A divergence is
// reported once; the flag clears if the shape returns to baseline.
func (s *structureSet) check(report func(shared.TamperKind, string, string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		current := e.provider().digest()
		if current == e.baseline {
			e.reported = false
			continue
		}
		if !e.reported {
			e.reported = true
			report(shared.TamperCodeModified, id, "structural digest diverged from baseline")
		}
	}
}

// RegisterType captures the component's baseline digest and includes it
// in the periodic structural check.
func (m *Monitor) RegisterType(provider ManifestProvider) string {
	return m.structures.register(provider)
}

// ObjectProbe reports the current digest and liveness of a tracked
// object. alive=false means the object was destroyed or detached.
type ObjectProbe func() (digest string, alive bool)

type objectEntry struct {
	probe    ObjectProbe
	baseline string
	reported bool
}

type objectSet struct {
	mu      sync.Mutex
	entries map[string]*objectEntry
}

func newObjectSet() *objectSet {
	return &objectSet{entries: make(map[string]*objectEntry)}
}

func (o *objectSet) register(key string, probe ObjectProbe) {
	digest, _ := probe()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[key] = &objectEntry{probe: probe, baseline: digest}
}

func (o *objectSet) check(report func(shared.TamperKind, string, string)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for key, e := range o.entries {
		digest, alive := e.probe()
		switch {
		case !alive:
			if !e.reported {
				e.reported = true
				report(shared.TamperObjectDestroyed, key, "tracked object no longer alive")
			}
		case digest != e.baseline:
			if !e.reported {
				e.reported = true
				report(shared.TamperComponentModified, key, "tracked object digest diverged from baseline")
			}
		default:
			e.reported = false
		}
	}
}

// RegisterObject tracks an object through its probe. The first probe
// result becomes the baseline.
func (m *Monitor) RegisterObject(key string, probe ObjectProbe) {
	m.objects.register(key, probe)
}
