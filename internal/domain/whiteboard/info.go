package whiteboard

import "sync"

// RuntimeInfo is the instance behind the introspection capability: a
// live view of what the context has deployed.
type RuntimeInfo struct {
	mu           sync.Mutex
	name         string
	applications map[string]DeployedApplication
	resources    map[string]string
	extensions   map[string]string
}

// DeployedApplication describes one mounted application.
type DeployedApplication struct {
	Name string
	Base string
}

// RuntimeSnapshot is a point-in-time copy of the deployed set.
type RuntimeSnapshot struct {
	Name         string
	Applications []DeployedApplication
	Resources    []string
	Extensions   []string
}

func newRuntimeInfo(name string) *RuntimeInfo {
	return &RuntimeInfo{
		name:         name,
		applications: make(map[string]DeployedApplication),
		resources:    make(map[string]string),
		extensions:   make(map[string]string),
	}
}

func (i *RuntimeInfo) addApplication(capID, name, base string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.applications[capID] = DeployedApplication{Name: name, Base: base}
}

func (i *RuntimeInfo) removeApplication(capID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.applications, capID)
}

func (i *RuntimeInfo) addResource(capID, name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.resources[capID] = name
}

func (i *RuntimeInfo) removeResource(capID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.resources, capID)
}

func (i *RuntimeInfo) addExtension(capID, name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.extensions[capID] = name
}

func (i *RuntimeInfo) removeExtension(capID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.extensions, capID)
}

// Snapshot copies the current deployed set.
func (i *RuntimeInfo) Snapshot() RuntimeSnapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	snap := RuntimeSnapshot{Name: i.name}
	for _, app := range i.applications {
		snap.Applications = append(snap.Applications, app)
	}
	for _, name := range i.resources {
		snap.Resources = append(snap.Resources, name)
	}
	for _, name := range i.extensions {
		snap.Extensions = append(snap.Extensions, name)
	}
	return snap
}
