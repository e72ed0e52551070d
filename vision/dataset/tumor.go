package dataset

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// TumorClasses are the class directories of the brain MRI dataset, in label order.
var TumorClasses = []string{"glioma_tumor", "meningioma_tumor", "no_tumor", "pituitary_tumor"}

// displayLabels maps class directories to the short names printed in reports.
var displayLabels = map[string]string{
	"glioma_tumor":     "Glioma",
	"meningioma_tumor": "Meningioma",
	"no_tumor":         "None",
	"pituitary_tumor":  "Pituitary",
}

// TumorDataset is an ImageFolderDataset verified to hold exactly the four
// tumor classes.
type TumorDataset struct {
	*ImageFolderDataset
}

// NewTumorDataset indexes one split directory (e.g. archive/Training).
func NewTumorDataset(dir string) (*TumorDataset, error) {
	ds, err := NewImageFolderDataset(dir, nil)
	if err != nil {
		return nil, err
	}
	if len(ds.classNames) != len(TumorClasses) {
		return nil, errors.Errorf("%s: expected classes %v, found %v", dir, TumorClasses, ds.classNames)
	}
	for i, name := range TumorClasses {
		if ds.classNames[i] != name {
			return nil, errors.Errorf("%s: expected classes %v, found %v", dir, TumorClasses, ds.classNames)
		}
	}
	return &TumorDataset{ImageFolderDataset: ds}, nil
}

// LoadTumorSplits loads the Training and Testing splits under root.
func LoadTumorSplits(root string) (train, test *TumorDataset, err error) {
	train, err = NewTumorDataset(filepath.Join(root, "Training"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "training split")
	}
	test, err = NewTumorDataset(filepath.Join(root, "Testing"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "testing split")
	}
	return train, test, nil
}

// DisplayLabels returns the short display name of every class in label order.
func DisplayLabels() []string {
	out := make([]string, len(TumorClasses))
	for i, name := range TumorClasses {
		out[i] = displayLabels[name]
	}
	return out
}

// DisplayLabel returns the short name for a label index.
func DisplayLabel(label int) string {
	if label < 0 || label >= len(TumorClasses) {
		return fmt.Sprintf("class%d", label)
	}
	return displayLabels[TumorClasses[label]]
}

// Summary returns a summary of the dataset
func (d *TumorDataset) Summary() string {
	dist := d.ClassDistribution()
	parts := make([]string, len(TumorClasses))
	for i, name := range TumorClasses {
		parts[i] = fmt.Sprintf("%d %s", dist[name], displayLabels[name])
	}
	return fmt.Sprintf("Brain MRI Dataset: %d total images (%s)", d.Len(), strings.Join(parts, ", "))
}
