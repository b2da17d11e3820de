package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// NormMode selects how inputs are standardized before training
type NormMode int

const (
	NormZScore NormMode = iota // per-dimension mean and Dr × std
	NormLinear                 // per-dimension mean, max std broadcast to all dimensions
	NormNone                   // data used as given
)

// OrthoMode selects the constraint re-enforced on the projection
type OrthoMode int

const (
	OrthoNormal OrthoMode = iota // BᵗB = I
	OrthoGonal                   // orthogonal columns, aggregate norm preserved
	OrthoNone
)

// Metric selects the distance used by the index engine
type Metric int

const (
	MetricEuclidean Metric = iota
	MetricCosine
	MetricRefTangent
	MetricObsTangent
	MetricAvgTangent
)

// ErrorStat selects the reported error statistic
type ErrorStat int

const (
	ErrorRMSE ErrorStat = iota
	ErrorMAD
)

// PPMode selects whether prototype targets move per dependent dimension
type PPMode int

const (
	PPIndependent PPMode = iota
	PPTied
)

// Criterion selects the primary quantity for best-so-far and model selection
type Criterion int

const (
	CriterionObjective Criterion = iota // training objective J
	CriterionError                      // error statistic E
)

// InitMethod selects the prototype initialization heuristic
type InitMethod int

const (
	InitGrid InitMethod = iota
	InitKMeans
)

var (
	normNames      = []string{"zscore", "linear", "none"}
	orthoNames     = []string{"orthonormal", "orthogonal", "none"}
	metricNames    = []string{"euclidean", "cosine", "rtangent", "otangent", "atangent"}
	errorNames     = []string{"rmse", "mad"}
	ppNames        = []string{"independent", "tied"}
	criterionNames = []string{"objective", "error"}
	initNames      = []string{"grid", "kmeans"}
)

func enumName(names []string, v int) string {
	if v < 0 || v >= len(names) {
		return fmt.Sprintf("unknown(%d)", v)
	}
	return names[v]
}

func enumParse(kind string, names []string, s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range names {
		if name == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("invalid %s %q (valid: %s)", kind, s, strings.Join(names, "|"))
}

func enumYAML(kind string, names []string, node *yaml.Node) (int, error) {
	var s string
	if err := node.Decode(&s); err != nil {
		return 0, fmt.Errorf("%s: %w", kind, err)
	}
	return enumParse(kind, names, s)
}

func (m NormMode) String() string { return enumName(normNames, int(m)) }
func (m NormMode) Type() string   { return "norm" }
func (m *NormMode) Set(s string) error {
	v, err := enumParse("normalization mode", normNames, s)
	if err != nil {
		return err
	}
	*m = NormMode(v)
	return nil
}
func (m NormMode) MarshalYAML() (interface{}, error) { return m.String(), nil }
func (m *NormMode) UnmarshalYAML(node *yaml.Node) error {
	v, err := enumYAML("normalization mode", normNames, node)
	if err != nil {
		return err
	}
	*m = NormMode(v)
	return nil
}

func (m OrthoMode) String() string { return enumName(orthoNames, int(m)) }
func (m OrthoMode) Type() string   { return "ortho" }
func (m *OrthoMode) Set(s string) error {
	v, err := enumParse("orthogonalization mode", orthoNames, s)
	if err != nil {
		return err
	}
	*m = OrthoMode(v)
	return nil
}
func (m OrthoMode) MarshalYAML() (interface{}, error) { return m.String(), nil }
func (m *OrthoMode) UnmarshalYAML(node *yaml.Node) error {
	v, err := enumYAML("orthogonalization mode", orthoNames, node)
	if err != nil {
		return err
	}
	*m = OrthoMode(v)
	return nil
}

func (m Metric) String() string { return enumName(metricNames, int(m)) }
func (m Metric) Type() string   { return "metric" }
func (m *Metric) Set(s string) error {
	v, err := enumParse("metric", metricNames, s)
	if err != nil {
		return err
	}
	*m = Metric(v)
	return nil
}
func (m Metric) MarshalYAML() (interface{}, error) { return m.String(), nil }
func (m *Metric) UnmarshalYAML(node *yaml.Node) error {
	v, err := enumYAML("metric", metricNames, node)
	if err != nil {
		return err
	}
	*m = Metric(v)
	return nil
}

// Tangent reports whether the metric needs tangent vectors
func (m Metric) Tangent() bool {
	return m == MetricRefTangent || m == MetricObsTangent || m == MetricAvgTangent
}

func (e ErrorStat) String() string { return enumName(errorNames, int(e)) }
func (e ErrorStat) Type() string   { return "errstat" }
func (e *ErrorStat) Set(s string) error {
	v, err := enumParse("error statistic", errorNames, s)
	if err != nil {
		return err
	}
	*e = ErrorStat(v)
	return nil
}
func (e ErrorStat) MarshalYAML() (interface{}, error) { return e.String(), nil }
func (e *ErrorStat) UnmarshalYAML(node *yaml.Node) error {
	v, err := enumYAML("error statistic", errorNames, node)
	if err != nil {
		return err
	}
	*e = ErrorStat(v)
	return nil
}

func (m PPMode) String() string { return enumName(ppNames, int(m)) }
func (m PPMode) Type() string   { return "ppmode" }
func (m *PPMode) Set(s string) error {
	v, err := enumParse("prototype target mode", ppNames, s)
	if err != nil {
		return err
	}
	*m = PPMode(v)
	return nil
}
func (m PPMode) MarshalYAML() (interface{}, error) { return m.String(), nil }
func (m *PPMode) UnmarshalYAML(node *yaml.Node) error {
	v, err := enumYAML("prototype target mode", ppNames, node)
	if err != nil {
		return err
	}
	*m = PPMode(v)
	return nil
}

func (c Criterion) String() string { return enumName(criterionNames, int(c)) }
func (c Criterion) Type() string   { return "criterion" }
func (c *Criterion) Set(s string) error {
	v, err := enumParse("criterion", criterionNames, s)
	if err != nil {
		return err
	}
	*c = Criterion(v)
	return nil
}
func (c Criterion) MarshalYAML() (interface{}, error) { return c.String(), nil }
func (c *Criterion) UnmarshalYAML(node *yaml.Node) error {
	v, err := enumYAML("criterion", criterionNames, node)
	if err != nil {
		return err
	}
	*c = Criterion(v)
	return nil
}

func (m InitMethod) String() string { return enumName(initNames, int(m)) }
func (m InitMethod) Type() string   { return "init" }
func (m *InitMethod) Set(s string) error {
	v, err := enumParse("init method", initNames, s)
	if err != nil {
		return err
	}
	*m = InitMethod(v)
	return nil
}
func (m InitMethod) MarshalYAML() (interface{}, error) { return m.String(), nil }
func (m *InitMethod) UnmarshalYAML(node *yaml.Node) error {
	v, err := enumYAML("init method", initNames, node)
	if err != nil {
		return err
	}
	*m = InitMethod(v)
	return nil
}
