package pipeline

import (
	"github.com/joseph-ayodele/docextract/constants"
)

// Stage is one state of a run. Transitions only move forward, or to Failed.
type Stage string

const (
	StageLoading        Stage = "Loading"
	StagePreprocessing  Stage = "Preprocessing"
	StageDetecting      Stage = "Detecting"
	StageAnnotating     Stage = "Annotating"
	StageAggregating    Stage = "Aggregating"
	StagePromptBuilding Stage = "PromptBuilding"
	StageExtracting     Stage = "Extracting"
	StageParsing        Stage = "Parsing"
	StageDone           Stage = "Done"
	StageFailed         Stage = "Failed"
)

// Stages lists the working states in execution order.
func Stages() []Stage {
	return []Stage{
		StageLoading, StagePreprocessing, StageDetecting, StageAnnotating,
		StageAggregating, StagePromptBuilding, StageExtracting, StageParsing,
	}
}

// Variant names which preprocessed image the detector sees.
type Variant string

const (
	VariantGray   Variant = "gray"
	VariantBinary Variant = "binary"
)

// detectOn holds the per-document-type preprocessing choice. Types not
// listed detect on the grayscale image.
var detectOn = map[constants.DocumentType]Variant{
	constants.Salary: VariantBinary,
}

// DetectVariant reports which image variant documents of dt are detected on.
func DetectVariant(dt constants.DocumentType) Variant {
	if v, ok := detectOn[dt]; ok {
		return v
	}
	return VariantGray
}
