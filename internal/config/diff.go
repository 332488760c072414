package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	DetectorsChanged bool           // true if any detector was added, removed, or modified
	DetectorChanges  []DetectorDiff // per-detector diffs, sorted by name
	LogLevelChanged  bool
	NewLogLevel      LogLevel

	// RestartRequired is set when server, telemetry, or feed settings
	// changed. Those are only read at startup.
	RestartRequired bool
}

// DetectorDiff describes what changed for a single detector between two configs.
type DetectorDiff struct {
	Name            string
	Added           bool
	Removed         bool
	SourceChanged   bool
	SettingsChanged bool // labels, realtime, or classifier settings
}

// Rebuild reports whether the detector's pipeline must be (re)started.
func (d DetectorDiff) Rebuild() bool {
	return d.Added || d.SourceChanged || d.SettingsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Telemetry != new.Telemetry ||
		!reflect.DeepEqual(old.Feed, new.Feed) {
		d.RestartRequired = true
	}

	oldDet := make(map[string]*DetectorConfig, len(old.Detectors))
	for i := range old.Detectors {
		oldDet[old.Detectors[i].Name] = &old.Detectors[i]
	}
	newDet := make(map[string]*DetectorConfig, len(new.Detectors))
	for i := range new.Detectors {
		newDet[new.Detectors[i].Name] = &new.Detectors[i]
	}

	for name, o := range oldDet {
		n, ok := newDet[name]
		if !ok {
			d.DetectorChanges = append(d.DetectorChanges, DetectorDiff{Name: name, Removed: true})
			continue
		}
		dd := DetectorDiff{
			Name:          name,
			SourceChanged: o.Source != n.Source,
			SettingsChanged: o.Labels != n.Labels ||
				o.Realtime != n.Realtime ||
				!reflect.DeepEqual(o.Detector, n.Detector),
		}
		if dd.SourceChanged || dd.SettingsChanged {
			d.DetectorChanges = append(d.DetectorChanges, dd)
		}
	}
	for name := range newDet {
		if _, ok := oldDet[name]; !ok {
			d.DetectorChanges = append(d.DetectorChanges, DetectorDiff{Name: name, Added: true})
		}
	}

	slices.SortFunc(d.DetectorChanges, func(a, b DetectorDiff) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	d.DetectorsChanged = len(d.DetectorChanges) > 0
	return d
}
