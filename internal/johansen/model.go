package johansen

import (
	"fmt"
	"strings"

	"github.com/irfndi/celebrum-quant/internal/utils"
)

// DeterministicModel selects which deterministic terms augment the short-run regression.
type DeterministicModel int

const (
	// Model0 has no deterministic terms.
	Model0 DeterministicModel = iota
	// Model1 places an intercept in the cointegrating relation.
	Model1
	// Model2 places an intercept in the short-run dynamics.
	Model2
	// Model3 places an intercept and a linear trend in the cointegrating relation.
	Model3
	// Model4 places a linear trend in the short-run dynamics.
	Model4
)

var modelNames = [...]string{"model0", "model1", "model2", "model3", "model4"}

// String returns the canonical lowercase name ("model0".."model4").
func (m DeterministicModel) String() string {
	if !m.Valid() {
		return fmt.Sprintf("model(%d)", int(m))
	}
	return modelNames[m]
}

// Valid reports whether m is one of the five tabulated models.
func (m DeterministicModel) Valid() bool {
	return m >= Model0 && m <= Model4
}

// deterministicColumns returns the number of regressor columns the model adds.
func (m DeterministicModel) deterministicColumns() int {
	switch m {
	case Model1, Model2:
		return 1
	case Model3, Model4:
		return 2
	default:
		return 0
	}
}

// ParseModel accepts "model0".."model4" as well as the bare digits "0".."4".
func ParseModel(s string) (DeterministicModel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, candidate := range modelNames {
		if name == candidate || name == candidate[len(candidate)-1:] {
			return DeterministicModel(i), nil
		}
	}
	return Model0, utils.NewInvalidInputErrorf("unknown deterministic model %q", s)
}

// SignificanceLevel is the confidence level used to read the critical-value table.
type SignificanceLevel int

// Supported confidence levels, matching the columns of the critical-value tables.
const (
	// Level90 reads the 90% column.
	Level90 SignificanceLevel = iota
	// Level95 reads the 95% column.
	Level95
	// Level99 reads the 99% column.
	Level99
)

var levelNames = [...]string{"90", "95", "99"}

// String returns "90", "95" or "99", the form accepted by ParseSignificanceLevel.
func (l SignificanceLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the tabulated confidence levels.
func (l SignificanceLevel) Valid() bool {
	return l >= Level90 && l <= Level99
}

// ParseSignificanceLevel accepts "90", "95", "99" with an optional "%" suffix.
func ParseSignificanceLevel(s string) (SignificanceLevel, error) {
	name := strings.TrimSuffix(strings.TrimSpace(s), "%")
	for i, candidate := range levelNames {
		if name == candidate {
			return SignificanceLevel(i), nil
		}
	}
	return Level95, utils.NewInvalidInputErrorf("unknown significance level %q", s)
}
