package generation

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MarshalIDs encodes a uuid slice as the JSONB array stored on
// concept_ids / pending_concept_ids.
func MarshalIDs(ids []uuid.UUID) datatypes.JSON {
	strs := make([]string, 0, len(ids))
	for _, id := range ids {
		strs = append(strs, id.String())
	}
	b, _ := json.Marshal(strs)
	return datatypes.JSON(b)
}

// UnmarshalIDs decodes a JSONB id array, skipping anything that does
// not parse as a UUID.
func UnmarshalIDs(raw datatypes.JSON) []uuid.UUID {
	if len(raw) == 0 {
		return []uuid.UUID{}
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err != nil {
		return []uuid.UUID{}
	}
	out := make([]uuid.UUID, 0, len(strs))
	for _, s := range strs {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// ContainsID reports membership of id in the decoded list.
func ContainsID(raw datatypes.JSON, id uuid.UUID) bool {
	for _, v := range UnmarshalIDs(raw) {
		if v == id {
			return true
		}
	}
	return false
}

// RemoveID returns the list without id and whether it was present.
func RemoveID(ids []uuid.UUID, id uuid.UUID) ([]uuid.UUID, bool) {
	out := make([]uuid.UUID, 0, len(ids))
	removed := false
	for _, v := range ids {
		if v == id {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return out, removed
}
