package model

import "fmt"

// letters is the label set. Index i of every classifier output vector is the
// score for letters[i].
var letters = [...]string{
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M",
	"N", "O", "P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z",
}

// Letters returns a copy of the A..Z label set in output order.
func Letters() []string {
	return append([]string(nil), letters[:]...)
}

// ValidateLabels checks labels against the classifier's output cardinality
// and, when declared is non-empty, against the class list from metadata.
func ValidateLabels(labels []string, outputSize int, declared []string) error {
	if len(labels) != outputSize {
		return fmt.Errorf("%w: model outputs %d classes but label set has %d", ErrArtifact, outputSize, len(labels))
	}
	if len(declared) == 0 {
		return nil
	}
	if len(declared) != len(labels) {
		return fmt.Errorf("%w: metadata declares %d classes, label set has %d", ErrArtifact, len(declared), len(labels))
	}
	for i := range labels {
		if declared[i] != labels[i] {
			return fmt.Errorf("%w: class %d is %q in metadata but %q in label set", ErrArtifact, i, declared[i], labels[i])
		}
	}
	return nil
}
