package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileStore reads and writes the on-disk policy file. The runtime format is
// JSON (§6); loadLegacyYAML below covers installs that shipped a YAML
// export from an earlier build, migrated transparently on first load.
type fileStore struct {
	path string
}

func newFileStore(path string) *fileStore {
	return &fileStore{path: path}
}

// load reads the policy file, auto-migrating legacy shapes:
//   - a bare string value ("allow") becomes {decision:"allow", duration:"forever"}
//   - a legacy {sessionOnly:true} object (predating the duration field)
//     becomes {..., duration:"session"}
//
// A missing file is not an error — it is treated as an empty store so a
// fresh workspace starts with nothing persisted.
func (s *fileStore) load() (map[string]Record, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", s.path, err)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		generic, err = loadLegacyYAML(raw)
		if err != nil {
			return nil, fmt.Errorf("policy: %s is neither valid JSON nor YAML: %w", s.path, err)
		}
	}
	return normalizeRecords(generic)
}

// loadLegacyYAML parses a policy file exported in the pre-JSON on-disk
// format. YAML is a superset-ish of JSON in practice for flat maps, so this
// also transparently accepts hand-edited files using YAML-only syntax
// (unquoted keys, comments) that the strict JSON parser rejects.
func loadLegacyYAML(raw []byte) (map[string]any, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

// normalizeRecords converts the generic decoded map (bare strings or
// partial objects) into fully-populated Records.
func normalizeRecords(generic map[string]any) (map[string]Record, error) {
	out := make(map[string]Record, len(generic))
	for key, value := range generic {
		switch v := value.(type) {
		case string:
			out[key] = Record{Decision: Decision(v), Duration: DurationForever}
		case map[string]any:
			rec, err := decodeRecord(v)
			if err != nil {
				return nil, fmt.Errorf("policy: entry %q: %w", key, err)
			}
			out[key] = rec
		default:
			return nil, fmt.Errorf("policy: entry %q has unsupported shape %T", key, value)
		}
	}
	return out, nil
}

func decodeRecord(v map[string]any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, err
	}
	if rec.Duration == "" {
		rec.Duration = DurationForever
	}
	if rec.SessionOnly {
		rec.Duration = DurationSession
	}
	return rec, nil
}

// save writes m back to the policy file as pretty-printed JSON, the
// canonical on-disk format going forward regardless of how it was loaded.
func (s *fileStore) save(m map[string]Record) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("policy: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("policy: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("policy: rename into place: %w", err)
	}
	return nil
}
