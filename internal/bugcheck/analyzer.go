package bugcheck

import (
	"fmt"
	"slices"

	"github.com/nao1215/dumpscan/internal/model"
)

// FormatCode formats a stop code the way Windows displays it.
func FormatCode(code uint32) string {
	return fmt.Sprintf("0x%08X", code)
}

// FormatParameter formats a bugcheck parameter as a 64-bit hex value.
func FormatParameter(v uint64) string {
	return fmt.Sprintf("0x%016X", v)
}

// Description returns the description of a stop code. Codes without an
// entry get a generic sentence naming the code.
func Description(code uint32) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	return "System stop error occurred with code " + FormatCode(code)
}

// SeverityOf estimates how serious a stop code is.
func SeverityOf(code uint32) model.Severity {
	switch code {
	case 0xEF, 0x139, 0x7F, 0x124, 0x50:
		return model.SeverityCritical
	case 0xD1, 0x1A, 0x7E, 0x1E, 0xC4:
		return model.SeverityHigh
	default:
		return model.SeverityMedium
	}
}

// Analyze interprets a stop code and its four parameters.
func Analyze(code uint32, params [4]uint64) model.BugcheckAnalysis {
	category := CategoryOf(code)
	profile := ProfileOf(category)

	causes, ok := likelyCauses[code]
	if !ok {
		causes = defaultCauses
	}
	recs, ok := recommendations[code]
	if !ok {
		recs = defaultRecommendations
	}

	parameters := make([]model.ParameterAnalysis, 0, len(params))
	for i, v := range params {
		n := i + 1
		parameters = append(parameters, model.ParameterAnalysis{
			ParameterNumber: n,
			RawValue:        v,
			HexValue:        FormatParameter(v),
			Description:     paramDescription(code, n),
			Interpretation:  interpret(code, n, v),
		})
	}

	return model.BugcheckAnalysis{
		Code:            code,
		CodeHex:         FormatCode(code),
		Name:            Name(code),
		Category:        category,
		CategoryName:    profile.Name,
		Description:     Description(code),
		Parameters:      parameters,
		LikelyCauses:    slices.Clone(causes),
		Recommendations: slices.Clone(recs),
		Severity:        SeverityOf(code),
		FocusAreas:      profile.FocusAreas,
		KeyQuestions:    profile.KeyQuestions,
		CommonFixes:     profile.CommonFixes,
	}
}
