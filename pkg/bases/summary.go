package bases

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/nmstools/nmssave/pkg/tree"
)

// Summary is one row of the bases overview.
type Summary struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	OwnerUID   string `json:"owner_uid"`
	OwnerUSN   string `json:"owner_usn"`
	GameMode   string `json:"game_mode"`
	Difficulty string `json:"difficulty"`
	NumObjects int    `json:"num_objects"`
}

var csvHeader = []string{
	"Index", "Name", "PersistentBaseTypes", "Owner_UID", "Owner_USN",
	"GameMode", "Difficulty", "NumObjects",
}

// Summarize builds the overview row for the base at index.
func Summarize(index int, base any) Summary {
	return Summary{
		Index:      index,
		Name:       Name(base),
		Type:       Type(base),
		OwnerUID:   lookupScalar(base, "Owner", "UID"),
		OwnerUSN:   lookupScalar(base, "Owner", "USN"),
		GameMode:   lookupScalar(base, "GameMode", "PresetGameMode"),
		Difficulty: lookupScalar(base, "Difficulty", "DifficultyPreset", "DifficultyPresetType"),
		NumObjects: ComponentCount(base),
	}
}

func lookupScalar(v any, keys ...string) string {
	found, ok := tree.Lookup(v, keys...)
	if !ok {
		return ""
	}
	return scalarString(found)
}

// Summaries builds one row per base, indexed by position.
func Summaries(bases []any) []Summary {
	out := make([]Summary, len(bases))
	for i, b := range bases {
		out[i] = Summarize(i, b)
	}
	return out
}

func (s Summary) record() []string {
	return []string{
		strconv.Itoa(s.Index),
		s.Name,
		s.Type,
		s.OwnerUID,
		s.OwnerUSN,
		s.GameMode,
		s.Difficulty,
		strconv.Itoa(s.NumObjects),
	}
}

// WriteCSV writes the rows with a header line.
func WriteCSV(w io.Writer, rows []Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row.record()); err != nil {
			return fmt.Errorf("write csv row %d: %w", row.Index, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
