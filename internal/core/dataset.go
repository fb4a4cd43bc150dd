package core

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// DatasetSelector identifies one of the datasets the validation service knows
// how to check. It is part of the validate and save URLs.
type DatasetSelector string

// Built-in datasets.
const (
	DatasetValuations DatasetSelector = "Valuations"
	DatasetRisk       DatasetSelector = "Risk"
	DatasetPnL        DatasetSelector = "P&L"
)

// Dataset describes a selectable dataset and the tables the service produces
// for it, in display order.
type Dataset struct {
	Selector DatasetSelector `json:"selector"`
	Label    string          `json:"label"`
	Tables   []string        `json:"tables"`
}

// HasTable reports whether table belongs to the dataset.
func (d Dataset) HasTable(table string) bool {
	return slices.Contains(d.Tables, table)
}

var (
	datasets   = make(map[DatasetSelector]Dataset)
	datasetsMu sync.RWMutex
)

func init() {
	RegisterDataset(Dataset{Selector: DatasetValuations, Label: "Valuations", Tables: []string{"valuations"}})
	RegisterDataset(Dataset{Selector: DatasetRisk, Label: "Risk", Tables: []string{"risk"}})
	RegisterDataset(Dataset{Selector: DatasetPnL, Label: "P&L", Tables: []string{"pnl_actuals", "pnl_kpis"}})
}

// RegisterDataset adds a dataset to the catalogue.
// Panics if the selector is empty or already registered.
func RegisterDataset(d Dataset) {
	datasetsMu.Lock()
	defer datasetsMu.Unlock()

	if d.Selector == "" {
		panic("dataset selector must not be empty")
	}
	if _, exists := datasets[d.Selector]; exists {
		panic(fmt.Sprintf("dataset already registered: %s", d.Selector))
	}
	if d.Label == "" {
		d.Label = string(d.Selector)
	}
	datasets[d.Selector] = d
}

// LookupDataset returns a dataset by selector.
func LookupDataset(sel DatasetSelector) (Dataset, bool) {
	datasetsMu.RLock()
	defer datasetsMu.RUnlock()

	d, ok := datasets[sel]
	return d, ok
}

// Datasets returns every registered dataset sorted by selector.
func Datasets() []Dataset {
	datasetsMu.RLock()
	defer datasetsMu.RUnlock()

	result := make([]Dataset, 0, len(datasets))
	for _, d := range datasets {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Selector < result[j].Selector
	})
	return result
}

// ParseSelector validates a raw selector value against the catalogue.
func ParseSelector(raw string) (DatasetSelector, error) {
	sel := DatasetSelector(raw)
	if _, ok := LookupDataset(sel); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDataset, raw)
	}
	return sel, nil
}
