package inference

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-wallseg/tensors"
)

// Heuristic names the rule that selected an output tensor.
type Heuristic string

const (
	HeuristicExact       Heuristic = "exact"
	HeuristicIgnoreCase  Heuristic = "ignore-case"
	HeuristicLogits      Heuristic = "logits"
	HeuristicSoftmax     Heuristic = "softmax"
	HeuristicOutput      Heuristic = "output"
	HeuristicPredictions Heuristic = "predictions"
	HeuristicSubstring   Heuristic = "substring"
	HeuristicSole        Heuristic = "sole-output"
)

// fallbackKeywords are tried in order when the configured output name is not declared.
var fallbackKeywords = []Heuristic{
	HeuristicLogits,
	HeuristicSoftmax,
	HeuristicOutput,
	HeuristicPredictions,
}

// ResolveOutputName picks the output to read from the names a model declares.
//
// The preferred name wins when declared. Otherwise names containing "logits",
// "softmax", "output" or "predictions" are tried in that order, then any name
// containing the preferred one, then the only output if there is
// exactly one.
//
// Arguments:
//   - declared: The output names in declaration order.
//   - preferred: The configured output name, may be empty.
//
// Returns:
//   - string: The selected name.
//   - Heuristic: The rule that fired.
//   - error: ErrNotFound when nothing matched.
func ResolveOutputName(declared []string, preferred string) (string, Heuristic, error) {
	for _, name := range declared {
		if name == preferred && preferred != "" {
			return name, HeuristicExact, nil
		}
	}

	lowered := strings.ToLower(preferred)
	if lowered != "" {
		for _, name := range declared {
			if strings.ToLower(name) == lowered {
				return name, HeuristicIgnoreCase, nil
			}
		}
	}

	for _, keyword := range fallbackKeywords {
		for _, name := range declared {
			if strings.Contains(strings.ToLower(name), string(keyword)) {
				return name, keyword, nil
			}
		}
	}

	if lowered != "" {
		for _, name := range declared {
			if strings.Contains(strings.ToLower(name), lowered) {
				return name, HeuristicSubstring, nil
			}
		}
	}

	if len(declared) == 1 {
		return declared[0], HeuristicSole, nil
	}

	return "", "", errors.Wrapf(ErrNotFound, "%q among %v", preferred, declared)
}

// Outputs holds the tensors produced by one inference run. The holder owns
// every tensor until Release is called.
type Outputs struct {
	tensors map[string]*tensors.Tensor
	names   []string
	logger  logrus.FieldLogger
}

func newOutputs(produced map[string]*tensors.Tensor, declared []tensors.Info, logger logrus.FieldLogger) *Outputs {
	names := make([]string, 0, len(produced))
	seen := make(map[string]bool, len(produced))
	for _, info := range declared {
		if _, ok := produced[info.Name]; ok && !seen[info.Name] {
			names = append(names, info.Name)
			seen[info.Name] = true
		}
	}

	var extra []string
	for name := range produced {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)

	return &Outputs{
		tensors: produced,
		names:   append(names, extra...),
		logger:  logger,
	}
}

// Names returns the produced output names in declaration order.
func (o *Outputs) Names() []string {
	out := make([]string, len(o.names))
	copy(out, o.names)
	return out
}

// Peek returns the output registered under exactly name.
func (o *Outputs) Peek(name string) (*tensors.Tensor, error) {
	t, ok := o.tensors[name]
	if !ok || t == nil || t.Released() {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	return t, nil
}

// Lookup returns the output registered under name, falling back to the
// heuristics of ResolveOutputName. A fallback match is logged.
func (o *Outputs) Lookup(name string) (*tensors.Tensor, error) {
	if t, err := o.Peek(name); err == nil {
		return t, nil
	}

	resolved, heuristic, err := ResolveOutputName(o.names, name)
	if err != nil {
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"requested": name,
		"resolved":  resolved,
		"heuristic": heuristic,
	}).Info("output resolved by fallback")

	return o.Peek(resolved)
}

// Release disposes every output tensor.
func (o *Outputs) Release() {
	if o == nil {
		return
	}
	for _, t := range o.tensors {
		t.Release()
	}
}
