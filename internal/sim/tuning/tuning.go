package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds the energy constants and run limits. All energy values are
// signed; negative values are refunds.
type Tuning struct {
	SeedCount int    `yaml:"seed_count" json:"seed_count"`
	MaxRounds uint64 `yaml:"max_rounds" json:"max_rounds"`

	Energy Energy `yaml:"energy" json:"energy"`
}

type Energy struct {
	HarmonicsLowPerVoxel  int64 `yaml:"harmonics_low_per_voxel" json:"harmonics_low_per_voxel"`
	HarmonicsHighPerVoxel int64 `yaml:"harmonics_high_per_voxel" json:"harmonics_high_per_voxel"`
	ActiveBotPerRound     int64 `yaml:"active_bot_per_round" json:"active_bot_per_round"`

	MovePerCell int64 `yaml:"move_per_cell" json:"move_per_cell"`
	LMoveTurn   int64 `yaml:"lmove_turn" json:"lmove_turn"`

	FillVoid int64 `yaml:"fill_void" json:"fill_void"`
	FillFull int64 `yaml:"fill_full" json:"fill_full"`
	VoidFull int64 `yaml:"void_full" json:"void_full"`
	VoidVoid int64 `yaml:"void_void" json:"void_void"`

	Fission int64 `yaml:"fission" json:"fission"`
	Fusion  int64 `yaml:"fusion" json:"fusion"`
}

func Defaults() Tuning {
	return Tuning{
		SeedCount: 40,
		Energy: Energy{
			HarmonicsLowPerVoxel:  3,
			HarmonicsHighPerVoxel: 30,
			ActiveBotPerRound:     0,
			MovePerCell:           2,
			LMoveTurn:             2,
			FillVoid:              12,
			FillFull:              6,
			VoidFull:              -12,
			VoidVoid:              3,
			Fission:               24,
			Fusion:                -24,
		},
	}
}

// Load reads a tuning file on top of Defaults; keys absent from the file keep
// their default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.SeedCount < 1 || t.SeedCount > 0xFF {
		return fmt.Errorf("seed_count %d outside [1, 255]", t.SeedCount)
	}
	e := t.Energy
	if e.HarmonicsLowPerVoxel > e.HarmonicsHighPerVoxel {
		return fmt.Errorf("harmonics_low_per_voxel (%d) exceeds harmonics_high_per_voxel (%d)", e.HarmonicsLowPerVoxel, e.HarmonicsHighPerVoxel)
	}
	if e.FillVoid < 0 || e.VoidVoid < 0 {
		return fmt.Errorf("fill_void and void_void must not be refunds")
	}
	if e.VoidFull > 0 {
		return fmt.Errorf("void_full must not cost more than leaving the cell full")
	}
	return nil
}
