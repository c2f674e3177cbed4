package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dictamed-ai/compliance/pkg/common/logger"
	"github.com/dictamed-ai/compliance/pkg/common/models"
)

// Capabilities declares what a plugin contributes and when it runs.
type Capabilities struct {
	VocabularyBoosts map[string]float64 `json:"vocabulary_boosts,omitempty"`
	VoiceCommands    []string           `json:"voice_commands,omitempty"`
	EventTypes       []string           `json:"event_types,omitempty"`
	Specialties      []string           `json:"specialties,omitempty"`
	RequiredFlags    []string           `json:"required_flags,omitempty"`
	Priority         int                `json:"priority"`
}

// Plugin is the extension point for specialty-specific processing.
type Plugin interface {
	ID() string
	Capabilities() Capabilities
	Process(ctx context.Context, pluginCtx models.PluginContext) (models.PluginResult, error)
}

// Registry holds registered plugins behind a feature-flag gate.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	flags   map[string]bool
}

func NewRegistry(flags map[string]bool) *Registry {
	if flags == nil {
		flags = map[string]bool{}
	}
	return &Registry{plugins: map[string]Plugin{}, flags: flags}
}

// Register adds a plugin. Registration fails when a plugin with the same
// id already exists or when any of its required feature flags is disabled.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.ID()]; exists {
		return fmt.Errorf("plugin %s already registered", p.ID())
	}
	for _, flag := range p.Capabilities().RequiredFlags {
		if !r.flags[flag] {
			return fmt.Errorf("plugin %s requires disabled feature flag %s", p.ID(), flag)
		}
	}
	r.plugins[p.ID()] = p
	return nil
}

// Unregister removes a plugin by id.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, id)
}

// forSpecialty returns matching plugins in ascending priority order.
// Plugins declaring no specialties match every specialty.
func (r *Registry) forSpecialty(specialty string) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []Plugin
	for _, p := range r.plugins {
		caps := p.Capabilities()
		if len(caps.Specialties) == 0 || containsString(caps.Specialties, specialty) {
			matched = append(matched, p)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		pi, pj := matched[i].Capabilities().Priority, matched[j].Capabilities().Priority
		if pi != pj {
			return pi < pj
		}
		return matched[i].ID() < matched[j].ID()
	})
	return matched
}

// ProcessAll runs every plugin matching the context's specialty in priority
// order. A plugin returning a critical alert short-circuits the chain; its
// result is the last one returned. Plugin failures are logged and skipped.
func (r *Registry) ProcessAll(ctx context.Context, pluginCtx models.PluginContext) []models.PluginResult {
	var results []models.PluginResult
	for _, p := range r.forSpecialty(pluginCtx.Specialty) {
		result, err := p.Process(ctx, pluginCtx)
		if err != nil {
			logger.Log.WithFields(map[string]interface{}{
				"plugin": p.ID(),
				"error":  err.Error(),
			}).Warn("plugin processing failed")
			continue
		}
		result.PluginID = p.ID()
		results = append(results, result)
		if hasCriticalAlert(result) {
			break
		}
	}
	return results
}

// DispatchEvent routes one event to every plugin subscribed to its type,
// regardless of specialty.
func (r *Registry) DispatchEvent(ctx context.Context, event models.Event) []models.PluginResult {
	r.mu.RLock()
	var subscribed []Plugin
	for _, p := range r.plugins {
		if containsString(p.Capabilities().EventTypes, event.Type) {
			subscribed = append(subscribed, p)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(subscribed, func(i, j int) bool {
		return subscribed[i].Capabilities().Priority < subscribed[j].Capabilities().Priority
	})

	var results []models.PluginResult
	for _, p := range subscribed {
		result, err := p.Process(ctx, models.PluginContext{
			SessionID: event.SessionID,
			Metadata:  map[string]interface{}{"event_type": event.Type, "event_data": event.Data},
		})
		if err != nil {
			logger.Log.WithFields(map[string]interface{}{
				"plugin": p.ID(),
				"event":  event.Type,
				"error":  err.Error(),
			}).Warn("plugin event handling failed")
			continue
		}
		result.PluginID = p.ID()
		results = append(results, result)
	}
	return results
}

// VocabularyBoosts merges the vocabulary boosts of every plugin matching a
// specialty, keeping the strongest boost per term.
func (r *Registry) VocabularyBoosts(specialty string) map[string]float64 {
	merged := map[string]float64{}
	for _, p := range r.forSpecialty(specialty) {
		for term, boost := range p.Capabilities().VocabularyBoosts {
			if existing, ok := merged[term]; !ok || boost > existing {
				merged[term] = boost
			}
		}
	}
	return merged
}

func hasCriticalAlert(result models.PluginResult) bool {
	for _, alert := range result.Alerts {
		if alert.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
