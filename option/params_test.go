package option

import (
	"errors"
	"math"
	"testing"

	"github.com/wyfcoding/montecarlo/xerrors"
)

func TestValidate(t *testing.T) {
	base := Default()

	tests := []struct {
		name    string
		mutate  func(p *Params)
		wantErr bool
	}{
		{"default", func(p *Params) {}, false},
		{"zero sigma", func(p *Params) { p.Sigma = 0 }, false},
		{"negative rate", func(p *Params) { p.R = -0.01 }, false},
		{"single step single path", func(p *Params) { p.Steps, p.Paths = 1, 1 }, false},
		{"zero paths", func(p *Params) { p.Paths = 0 }, true},
		{"zero steps", func(p *Params) { p.Steps = 0 }, true},
		{"negative steps", func(p *Params) { p.Steps = -5 }, true},
		{"zero maturity", func(p *Params) { p.T = 0 }, true},
		{"negative spot", func(p *Params) { p.S0 = -1 }, true},
		{"zero strike", func(p *Params) { p.K = 0 }, true},
		{"negative sigma", func(p *Params) { p.Sigma = -0.1 }, true},
		{"nan rate", func(p *Params) { p.R = math.NaN() }, true},
		{"inf spot", func(p *Params) { p.S0 = math.Inf(1) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				if !errors.Is(err, xerrors.ErrInvalidInput) {
					t.Fatalf("expected InvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDerivedTerms(t *testing.T) {
	p := Params{
		Contract:   Contract{S0: 100, K: 105, R: 0.05, Sigma: 0.12, T: 0.5},
		Resolution: Resolution{Steps: 1000, Paths: 10},
	}

	if got, want := p.Dt(), 0.0005; math.Abs(got-want) > 1e-15 {
		t.Errorf("Dt() = %v, want %v", got, want)
	}
	// M 个单步漂移之和等于全期限漂移，M 个单步方差之和等于全期限方差。
	if got, want := p.StepDrift()*float64(p.Steps), p.Drift(); math.Abs(got-want) > 1e-12 {
		t.Errorf("M*StepDrift = %v, want %v", got, want)
	}
	if got, want := p.StepVol()*p.StepVol()*float64(p.Steps), p.Vol()*p.Vol(); math.Abs(got-want) > 1e-12 {
		t.Errorf("M*StepVol^2 = %v, want %v", got, want)
	}
	if got, want := p.Discount(), math.Exp(-0.025); got != want {
		t.Errorf("Discount() = %v, want %v", got, want)
	}
}

func TestNewRejectsBeforeUse(t *testing.T) {
	_, err := New(Contract{S0: 100, K: 100, T: 1}, Resolution{Steps: 1, Paths: 0})
	if !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestCheckFiniteReportsFirstFieldInOrder(t *testing.T) {
	c := Contract{S0: 100, K: math.NaN(), R: 0.05, Sigma: math.Inf(1), T: math.NaN()}
	for range 20 {
		err := c.CheckFinite()
		var xe *xerrors.Error
		if !errors.As(err, &xe) || !errors.Is(err, xerrors.ErrInvalidInput) {
			t.Fatalf("CheckFinite() = %v", err)
		}
		if xe.Context["field"] != "K" {
			t.Fatalf("reported field %v, want K", xe.Context["field"])
		}
	}

	p := Default()
	p.Sigma, p.T = math.Inf(-1), math.NaN()
	var xe *xerrors.Error
	if err := p.Validate(); !errors.As(err, &xe) || xe.Context["field"] != "Sigma" {
		t.Fatalf("Validate() = %v", err)
	}

	if err := Default().CheckFinite(); err != nil {
		t.Fatalf("default contract: %v", err)
	}
}
