package kge

import (
	"fmt"
	"strconv"

	"github.com/cnclabs/tkge/pkg/knowledge"
)

// epsilon widens the initialization range beyond gamma.
const epsilon = 2.0

// ModelName enumerates the scoring functions.
type ModelName int

const (
	TATransE ModelName = iota
	TransE
	TADistMult
	DistMult
	ComplEx
	RotatE
	PRotatE
)

var modelNames = [...]string{
	TATransE:   "TATransE",
	TransE:     "TransE",
	TADistMult: "TADistMult",
	DistMult:   "DistMult",
	ComplEx:    "ComplEx",
	RotatE:     "RotatE",
	PRotatE:    "pRotatE",
}

func (n ModelName) String() string {
	if n < 0 || int(n) >= len(modelNames) {
		return "ModelName(" + strconv.Itoa(int(n)) + ")"
	}
	return modelNames[n]
}

// Temporal reports whether the model folds the time context into the relation.
func (n ModelName) Temporal() bool {
	return n == TATransE || n == TADistMult
}

// ParseModelName maps a model identifier such as "RotatE" to its ModelName.
func ParseModelName(s string) (ModelName, error) {
	for i, name := range modelNames {
		if name == s {
			return ModelName(i), nil
		}
	}
	return 0, &knowledge.ConfigurationError{Field: "model_name", Value: s}
}

// Config is the construction and training surface of a model.
type Config struct {
	ModelName    string  `mapstructure:"model_name" yaml:"model_name"`
	NumEntities  int64   `mapstructure:"nentity" yaml:"nentity"`
	NumRelations int64   `mapstructure:"nrelation" yaml:"nrelation"`
	HiddenDim    int     `mapstructure:"hidden_dim" yaml:"hidden_dim"`
	Gamma        float64 `mapstructure:"gamma" yaml:"gamma"`

	DoubleEntityEmbedding   bool `mapstructure:"double_entity_embedding" yaml:"double_entity_embedding"`
	DoubleRelationEmbedding bool `mapstructure:"double_relation_embedding" yaml:"double_relation_embedding"`
	DoubleTemEmbedding      bool `mapstructure:"double_tem_embedding" yaml:"double_tem_embedding"`

	NegativeAdversarialSampling bool    `mapstructure:"negative_adversarial_sampling" yaml:"negative_adversarial_sampling"`
	AdversarialTemperature      float64 `mapstructure:"adversarial_temperature" yaml:"adversarial_temperature"`
	UniWeight                   bool    `mapstructure:"uni_weight" yaml:"uni_weight"`
	Regularization              float64 `mapstructure:"regularization" yaml:"regularization"`

	// Cuda asks for an accelerated device; one must be supplied with WithDevice.
	Cuda bool `mapstructure:"cuda" yaml:"cuda"`

	LearningRate float64 `mapstructure:"learning_rate" yaml:"learning_rate"`
	Seed         int64   `mapstructure:"seed" yaml:"seed"`
}

// DefaultConfig returns the hyperparameters used when none are given.
func DefaultConfig() Config {
	return Config{
		ModelName:              "TATransE",
		HiddenDim:              100,
		Gamma:                  12.0,
		AdversarialTemperature: 1.0,
		LearningRate:           0.0001,
		Seed:                   1,
	}
}

// Scale holds the fixed, non-trainable constants of a model.
type Scale struct {
	Gamma          float64
	EmbeddingRange float64
}

type dims struct {
	entity   int
	relation int
	time     int
}

// validate resolves the model name and checks every width constraint before
// any parameter is allocated.
func (c Config) validate() (ModelName, dims, error) {
	name, err := ParseModelName(c.ModelName)
	if err != nil {
		return 0, dims{}, err
	}

	switch {
	case c.NumEntities <= 0:
		return 0, dims{}, configErr("nentity", c.NumEntities, "must be positive")
	case c.NumRelations <= 0:
		return 0, dims{}, configErr("nrelation", c.NumRelations, "must be positive")
	case c.HiddenDim <= 0:
		return 0, dims{}, configErr("hidden_dim", c.HiddenDim, "must be positive")
	case c.Gamma <= 0:
		return 0, dims{}, configErr("gamma", c.Gamma, "must be positive")
	case c.Regularization < 0:
		return 0, dims{}, configErr("regularization", c.Regularization, "must not be negative")
	case c.LearningRate <= 0:
		return 0, dims{}, configErr("learning_rate", c.LearningRate, "must be positive")
	}

	d := dims{entity: c.HiddenDim, relation: c.HiddenDim, time: c.HiddenDim}
	if c.DoubleEntityEmbedding {
		d.entity *= 2
	}
	if c.DoubleRelationEmbedding {
		d.relation *= 2
	}
	if c.DoubleTemEmbedding {
		d.time *= 2
	}

	switch name {
	case RotatE:
		if !c.DoubleEntityEmbedding || c.DoubleRelationEmbedding {
			return 0, dims{}, configErr("model_name", name, "RotatE needs double_entity_embedding and single-width relations")
		}
	case ComplEx:
		if !c.DoubleEntityEmbedding || !c.DoubleRelationEmbedding {
			return 0, dims{}, configErr("model_name", name, "ComplEx needs double_entity_embedding and double_relation_embedding")
		}
	case TransE, DistMult, PRotatE:
		if d.entity != d.relation {
			return 0, dims{}, configErr("model_name", name, "entity and relation widths must match")
		}
	case TATransE, TADistMult:
		if d.relation != d.time {
			return 0, dims{}, configErr("model_name", name, "relation and time-token widths must match")
		}
	}
	return name, d, nil
}

func configErr(field string, value any, reason string) error {
	return &knowledge.ConfigurationError{Field: field, Value: fmt.Sprint(value), Reason: reason}
}
