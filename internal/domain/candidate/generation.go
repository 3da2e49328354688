package candidate

// GenerationParams tunes a generative-model call. The string-typed fields are
// passed through to the model service verbatim.
type GenerationParams struct {
	NumMolecules int    `json:"num_molecules" mapstructure:"num_molecules"`
	Temperature  string `json:"temperature" mapstructure:"temperature"`
	Noise        string `json:"noise" mapstructure:"noise"`
	StepSize     int    `json:"step_size" mapstructure:"step_size"`
	Scoring      string `json:"scoring" mapstructure:"scoring"`
	Unique       bool   `json:"unique" mapstructure:"unique"`
}

// DefaultGenerationParams mirrors the model service defaults.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		NumMolecules: 30,
		Temperature:  "1",
		Noise:        "1",
		StepSize:     1,
		Scoring:      "QED",
	}
}

// WithDefaults fills zero fields from DefaultGenerationParams.
func (p GenerationParams) WithDefaults() GenerationParams {
	d := DefaultGenerationParams()
	if p.NumMolecules <= 0 {
		p.NumMolecules = d.NumMolecules
	}
	if p.Temperature == "" {
		p.Temperature = d.Temperature
	}
	if p.Noise == "" {
		p.Noise = d.Noise
	}
	if p.StepSize <= 0 {
		p.StepSize = d.StepSize
	}
	if p.Scoring == "" {
		p.Scoring = d.Scoring
	}
	return p
}

// PerSeed splits NumMolecules evenly over seeds, at least one each.
func (p GenerationParams) PerSeed(seeds int) GenerationParams {
	if seeds <= 0 {
		return p
	}
	n := p.NumMolecules / seeds
	if n < 1 {
		n = 1
	}
	p.NumMolecules = n
	return p
}
