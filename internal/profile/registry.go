package profile

import (
	"sort"
	"strconv"
	"strings"

	"dresswatch/internal/config"
	"dresswatch/internal/model"
)

// Catalog maps detector class ids to the label written on events.
type Catalog map[model.ClassID]string

func (c Catalog) Label(class model.ClassID) string {
	if label, ok := c[class]; ok && label != "" {
		return label
	}
	return "class_" + strconv.Itoa(int(class))
}

type Registry struct {
	profiles      map[string]model.CameraProfile
	catalog       Catalog
	defaultCamera string
}

func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		profiles:      make(map[string]model.CameraProfile, len(cfg.Profiles)),
		catalog:       buildCatalog(cfg.Classes),
		defaultCamera: strings.TrimSpace(cfg.DefaultCamera),
	}
	for _, p := range cfg.Profiles {
		id := strings.TrimSpace(p.CameraID)
		if id == "" {
			continue
		}
		r.profiles[id] = buildProfile(id, p)
	}
	if _, ok := r.profiles[r.defaultCamera]; !ok {
		// An unknown default falls back to an empty profile that watches nothing.
		r.profiles[r.defaultCamera] = model.CameraProfile{CameraID: r.defaultCamera}
	}
	return r
}

func buildCatalog(classes map[int]string) Catalog {
	out := make(Catalog, len(classes))
	for id, label := range classes {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		out[model.ClassID(id)] = label
	}
	return out
}

func buildClassSet(values map[int]string) map[model.ClassID]string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[model.ClassID]string, len(values))
	for id, label := range values {
		set[model.ClassID(id)] = strings.TrimSpace(label)
	}
	return set
}

func buildProfile(id string, p config.ProfileConfig) model.CameraProfile {
	prof := model.CameraProfile{
		CameraID:      id,
		Violations:    buildClassSet(p.Violations),
		NonViolations: buildClassSet(p.NonViolations),
	}
	prof.Detect = make(map[model.ClassID]string, len(prof.Violations)+len(prof.NonViolations))
	for class, label := range prof.Violations {
		prof.Detect[class] = label
	}
	for class, label := range prof.NonViolations {
		prof.Detect[class] = label
	}
	return prof
}

// Lookup returns the camera's profile, or the default camera's profile when the id is unknown.
// The returned maps are shared and must not be modified.
func (r *Registry) Lookup(cameraID string) model.CameraProfile {
	if r == nil {
		return model.CameraProfile{CameraID: cameraID}
	}
	if p, ok := r.profiles[strings.TrimSpace(cameraID)]; ok {
		return p
	}
	p := r.profiles[r.defaultCamera]
	p.CameraID = cameraID
	return p
}

func (r *Registry) Known(cameraID string) bool {
	if r == nil {
		return false
	}
	_, ok := r.profiles[strings.TrimSpace(cameraID)]
	return ok
}

func (r *Registry) Catalog() Catalog {
	if r == nil {
		return nil
	}
	return r.catalog
}

// Label is the event label for a class: the catalog name, not the profile's display name.
func (r *Registry) Label(class model.ClassID) string {
	return r.Catalog().Label(class)
}

// Allowed lists the classes to request from the detector, sorted, without the exempt ones.
func (r *Registry) Allowed(p model.CameraProfile, exempt func(model.ClassID) bool) []model.ClassID {
	out := make([]model.ClassID, 0, len(p.Detect))
	for class := range p.Detect {
		if exempt != nil && exempt(class) {
			continue
		}
		out = append(out, class)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) CameraIDs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
