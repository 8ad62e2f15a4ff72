package models

import (
	"strings"

	"github.com/pkg/errors"
)

// LabelSet names the classes a segmentation model emits, indexed by channel.
type LabelSet struct {
	// Name identifies the dataset the labels come from.
	Name string
	// Classes holds one label per output channel.
	Classes []string
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewLabelSet builds a label set and its name index.
func NewLabelSet(name string, classes ...string) *LabelSet {
	s := &LabelSet{Name: name, Classes: classes}
	s.nameToIdx = make(map[string]int, len(classes))
	for i, c := range classes {
		key := strings.ToLower(strings.TrimSpace(c))
		if _, dup := s.nameToIdx[key]; !dup {
			s.nameToIdx[key] = i
		}
	}
	return s
}

// Len returns the number of classes.
func (s *LabelSet) Len() int {
	return len(s.Classes)
}

// Label returns the label of a class index.
func (s *LabelSet) Label(idx int) (string, error) {
	if idx < 0 || idx >= len(s.Classes) {
		return "", errors.Errorf("index %d out of range for %q", idx, s.Name)
	}
	return s.Classes[idx], nil
}

// Index returns the class index of a label, ignoring case.
func (s *LabelSet) Index(label string) (int, error) {
	idx, ok := s.nameToIdx[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return -1, errors.Errorf("label %q not found in %q", label, s.Name)
	}
	return idx, nil
}

// LabelSets holds the built-in label sets by name.
var LabelSets = map[string]*LabelSet{
	"ade20k":     ADE20KLabels,
	"cityscapes": CityscapesLabels,
}

// LookupLabelSet returns a built-in label set.
func LookupLabelSet(name string) (*LabelSet, error) {
	s, ok := LabelSets[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("label set %q not registered", name)
	}
	return s, nil
}

// ResolveClass returns the index of label in the named set, or fallback when
// label is empty.
func ResolveClass(set, label string, fallback int) (int, error) {
	if label == "" {
		return fallback, nil
	}
	s, err := LookupLabelSet(set)
	if err != nil {
		return -1, err
	}
	return s.Index(label)
}

// CityscapesLabels are the 19 Cityscapes evaluation classes.
var CityscapesLabels = NewLabelSet("cityscapes",
	"road", "sidewalk", "building", "wall", "fence", "pole", "traffic light",
	"traffic sign", "vegetation", "terrain", "sky", "person", "rider", "car",
	"truck", "bus", "train", "motorcycle", "bicycle",
)

// ADE20KLabels are the 150 ADE20K scene parsing classes. Wall is class 0.
var ADE20KLabels = NewLabelSet("ade20k",
	"wall", "building", "sky", "floor", "tree", "ceiling", "road", "bed",
	"windowpane", "grass", "cabinet", "sidewalk", "person", "earth", "door",
	"table", "mountain", "plant", "curtain", "chair", "car", "water",
	"painting", "sofa", "shelf", "house", "sea", "mirror", "rug", "field",
	"armchair", "seat", "fence", "desk", "rock", "wardrobe", "lamp", "bathtub",
	"railing", "cushion", "base", "box", "column", "signboard",
	"chest of drawers", "counter", "sand", "sink", "skyscraper", "fireplace",
	"refrigerator", "grandstand", "path", "stairs", "runway", "case",
	"pool table", "pillow", "screen door", "stairway", "river", "bridge",
	"bookcase", "blind", "coffee table", "toilet", "flower", "book", "hill",
	"bench", "countertop", "stove", "palm", "kitchen island", "computer",
	"swivel chair", "boat", "bar", "arcade machine", "hovel", "bus", "towel",
	"light", "truck", "tower", "chandelier", "awning", "streetlight", "booth",
	"television receiver", "airplane", "dirt track", "apparel", "pole", "land",
	"bannister", "escalator", "ottoman", "bottle", "buffet", "poster", "stage",
	"van", "ship", "fountain", "conveyer belt", "canopy", "washer", "plaything",
	"swimming pool", "stool", "barrel", "basket", "waterfall", "tent", "bag",
	"minibike", "cradle", "oven", "ball", "food", "step", "tank", "trade name",
	"microwave", "pot", "animal", "bicycle", "lake", "dishwasher", "screen",
	"blanket", "sculpture", "hood", "sconce", "vase", "traffic light", "tray",
	"ashcan", "fan", "pier", "crt screen", "plate", "monitor", "bulletin board",
	"shower", "radiator", "glass", "clock", "flag",
)
