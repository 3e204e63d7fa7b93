package roh

import "testing"

func validModel() Model {
	return Model{
		ID: "test-model",
		Weights: Weights{
			EnergyLoad:    0.2,
			ThermalLoad:   0.2,
			CognitiveLoad: 0.2,
			Inflammation:  0.2,
			EcoImpact:     0.2,
		},
		RohCeiling: Ceiling,
	}
}

func TestShard_ValidateInvariants_Success(t *testing.T) {
	s := NewShard(validModel())
	if err := s.ValidateInvariants(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestShard_ValidateInvariants_WrongCeiling(t *testing.T) {
	m := validModel()
	m.RohCeiling = 0.5
	s := NewShard(m)
	if err := s.ValidateInvariants(); err == nil {
		t.Fatal("expected an error for a ceiling other than 0.30")
	}
}

func TestShard_ValidateInvariants_NegativeWeight(t *testing.T) {
	m := validModel()
	m.Weights.EnergyLoad = -0.1
	m.Weights.ThermalLoad = 0.3
	s := NewShard(m)
	if err := s.ValidateInvariants(); err == nil {
		t.Fatal("expected an error for a negative weight")
	}
}

func TestShard_ValidateInvariants_WeightsDontSumToOne(t *testing.T) {
	m := validModel()
	m.Weights.EnergyLoad = 0.9
	s := NewShard(m)
	if err := s.ValidateInvariants(); err == nil {
		t.Fatal("expected an error when weights do not sum to 1.0")
	}
}

func TestShard_ComputeRoH_WeightedSum(t *testing.T) {
	s := NewShard(validModel())
	in := Inputs{
		EnergyLoad:    1.0,
		ThermalLoad:   0.0,
		CognitiveLoad: 0.0,
		Inflammation:  0.0,
		EcoImpact:     0.0,
	}
	got := s.ComputeRoH(in)
	want := float32(0.2)
	if got != want {
		t.Errorf("ComputeRoH() = %v, want %v", got, want)
	}
}

func TestShard_ComputeRoH_Clamped(t *testing.T) {
	s := NewShard(validModel())
	in := Inputs{
		EnergyLoad:    10.0,
		ThermalLoad:   10.0,
		CognitiveLoad: 10.0,
		Inflammation:  10.0,
		EcoImpact:     10.0,
	}
	got := s.ComputeRoH(in)
	if got != 1.0 {
		t.Errorf("ComputeRoH() = %v, want 1.0 (clamped)", got)
	}
}

func TestShard_RohCeiling_And_ID(t *testing.T) {
	s := NewShard(validModel())
	if s.RohCeiling() != Ceiling {
		t.Errorf("RohCeiling() = %v, want %v", s.RohCeiling(), Ceiling)
	}
	if s.ID() != "test-model" {
		t.Errorf("ID() = %q, want %q", s.ID(), "test-model")
	}
}
